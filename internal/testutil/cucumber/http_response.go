package cucumber

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cucumber/godog"
)

func init() {
	StepModules = append(StepModules, func(ctx *godog.ScenarioContext, s *TestScenario) {
		ctx.Step(`^the response code should be (\d+)$`, s.theResponseCodeShouldBe)
		ctx.Step(`^the response should match json:$`, s.theResponseShouldMatchJSON)
		ctx.Step(`^the response should contain json:$`, s.theResponseShouldContainJSON)
		ctx.Step(`^the response should contain "([^"]*)"$`, s.theResponseShouldContain)
		ctx.Step(`^I store the "([^"]*)" selection from the response as \${([^}]*)}$`, s.iStoreTheSelectionFromTheResponseAs)
		ctx.Step(`^the "(.*)" selection from the response should match "([^"]*)"$`, s.theSelectionFromTheResponseShouldMatch)
		ctx.Step(`^the "([^"]*)" selection from the response should match json:$`, s.theSelectionFromTheResponseShouldMatchJSON)
		ctx.Step(`^\${([^}]*)} is not empty$`, s.variableIsNotEmpty)
		ctx.Step(`^"([^"]*)" should match "([^"]*)"$`, s.textShouldMatchText)
	})
}

func (s *TestScenario) variableIsNotEmpty(name string) error {
	value, err := s.Resolve(name)
	if err != nil {
		return err
	}
	if value == nil || value == "" {
		return fmt.Errorf("variable ${%s} is empty", name)
	}
	return nil
}

func (s *TestScenario) theResponseCodeShouldBe(expected int) error {
	session := s.Session()
	if session.Resp == nil {
		return fmt.Errorf("no HTTP response available")
	}
	if actual := session.Resp.StatusCode; expected != actual {
		return fmt.Errorf("expected response code to be: %d, but actual is: %d, body: %s", expected, actual, session.RespBytes)
	}
	return nil
}

func (s *TestScenario) responseBody() (string, error) {
	body := s.Session().RespBytes
	if len(body) == 0 {
		return "", fmt.Errorf("got an empty response from server, expected a json body")
	}
	return string(body), nil
}

func (s *TestScenario) theResponseShouldMatchJSON(expected *godog.DocString) error {
	body, err := s.responseBody()
	if err != nil {
		return err
	}
	return s.JSONMustMatch(body, expected.Content)
}

func (s *TestScenario) theResponseShouldContainJSON(expected *godog.DocString) error {
	body, err := s.responseBody()
	if err != nil {
		return err
	}
	return s.JSONMustContain(body, expected.Content)
}

func (s *TestScenario) theResponseShouldContain(expected string) error {
	expanded, err := s.Expand(expected)
	if err != nil {
		return err
	}
	if body := string(s.Session().RespBytes); !strings.Contains(body, expanded) {
		return fmt.Errorf("expected response to contain '%s', but it does not. Response body: %s", expanded, body)
	}
	return nil
}

func (s *TestScenario) textShouldMatchText(actual, expected string) error {
	expected, err := s.Expand(expected)
	if err != nil {
		return err
	}
	if actual, err = s.Expand(actual); err != nil {
		return err
	}
	if expected != actual {
		return fmt.Errorf("actual does not match expected, diff:\n%s", unifiedDiff(expected, actual))
	}
	return nil
}

func (s *TestScenario) selectFromResponse(selector string) (any, error) {
	doc, err := s.Session().RespJSON()
	if err != nil {
		return nil, err
	}
	return selectOne(selector, doc)
}

func (s *TestScenario) iStoreTheSelectionFromTheResponseAs(selector, as string) error {
	value, err := s.selectFromResponse(selector)
	if err != nil {
		return err
	}
	s.Variables[as] = value
	return nil
}

func (s *TestScenario) theSelectionFromTheResponseShouldMatch(selector, expected string) error {
	actual, err := s.selectFromResponse(selector)
	if err != nil {
		return err
	}
	if expected, err = s.Expand(expected); err != nil {
		return err
	}
	rendered := "null"
	if actual != nil {
		rendered = fmt.Sprintf("%v", actual)
	}
	if rendered != expected {
		return fmt.Errorf("selected JSON does not match. expected: %v, actual: %v", expected, rendered)
	}
	return nil
}

func (s *TestScenario) theSelectionFromTheResponseShouldMatchJSON(selector string, expected *godog.DocString) error {
	actual, err := s.selectFromResponse(selector)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(actual)
	if err != nil {
		return err
	}
	return s.JSONMustMatch(string(raw), expected.Content)
}
