package cucumber

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cucumber/godog"
)

func init() {
	StepModules = append(StepModules, func(ctx *godog.ScenarioContext, s *TestScenario) {
		ctx.Step(`^I (GET|POST|PUT|DELETE|PATCH) path "([^"]*)"$`, s.sendHTTPRequest)
		ctx.Step(`^I (GET|POST|PUT|DELETE|PATCH) path "([^"]*)" with json body:$`, s.SendHTTPRequestWithJSONBody)
		ctx.Step(`^I set the "([^"]*)" header to "([^"]*)"$`, s.iSetTheHeaderTo)
		ctx.Step(`^I wait up to "([^"]*)" seconds for a GET on path "([^"]*)" response code to match "([^"]*)"$`, s.iWaitForResponseCode)
	})
}

func (s *TestScenario) sendHTTPRequest(method, path string) error {
	return s.SendHTTPRequestWithJSONBody(method, path, nil)
}

// SendHTTPRequestWithJSONBody expands path and body, sends the request and
// records the response in the scenario session.
func (s *TestScenario) SendHTTPRequestWithJSONBody(method, path string, jsonTxt *godog.DocString) error {
	session := s.Session()

	var body io.Reader
	if jsonTxt != nil {
		expanded, err := s.Expand(jsonTxt.Content)
		if err != nil {
			return err
		}
		body = strings.NewReader(expanded)
	}
	expandedPath, err := s.Expand(path)
	if err != nil {
		return err
	}

	session.Resp = nil
	session.RespBytes = nil
	session.respJSON = nil

	req, err := http.NewRequestWithContext(context.Background(), method, s.Suite.APIURL+expandedPath, body)
	if err != nil {
		return err
	}
	// Headers set by a step apply to the next request only.
	req.Header = session.Header
	session.Header = http.Header{}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := session.Client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	session.Resp = resp
	session.RespBytes, err = io.ReadAll(resp.Body)
	return err
}

func (s *TestScenario) iSetTheHeaderTo(name, value string) error {
	expanded, err := s.Expand(value)
	if err != nil {
		return err
	}
	s.Session().Header.Set(name, expanded)
	return nil
}

func (s *TestScenario) iWaitForResponseCode(timeout float64, path string, expected int) error {
	deadline := time.Now().Add(time.Duration(timeout * float64(time.Second)))
	for {
		if err := s.sendHTTPRequest(http.MethodGet, path); err == nil && s.Session().Resp.StatusCode == expected {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for GET %s to return %d", path, expected)
		}
		time.Sleep(100 * time.Millisecond)
	}
}
