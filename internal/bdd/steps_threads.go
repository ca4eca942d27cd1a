package bdd

import (
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/chirino/thread-service/internal/testutil/cucumber"
	"github.com/cucumber/godog"
)

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		t := &threadSteps{s: s}
		ctx.Step(`^"([^"]*)" posts "([^"]*)" as \${([^}]*)}$`, t.post)
		ctx.Step(`^"([^"]*)" replies to \${([^}]*)} with "([^"]*)" as \${([^}]*)}$`, t.reply)
		ctx.Step(`^I delete post \${([^}]*)}$`, t.deletePost)
		ctx.Step(`^the (replies|referents) of \${([^}]*)} should be "([^"]*)"$`, t.setShouldBe)
		ctx.Step(`^the (replies|referents) of \${([^}]*)} should be empty$`, t.setShouldBeEmpty)
		ctx.Step(`^the most recent reply to \${([^}]*)} should be \${([^}]*)}$`, t.mostRecentReplyShouldBe)
	})
}

type threadSteps struct {
	s *cucumber.TestScenario
}

func (t *threadSteps) create(author, body, inReplyTo, as string) error {
	doc := fmt.Sprintf(`{"author": %q, "body": %q}`, author, body)
	if inReplyTo != "" {
		doc = fmt.Sprintf(`{"author": %q, "body": %q, "inReplyTo": "${%s}"}`, author, body, inReplyTo)
	}
	if err := t.s.SendHTTPRequestWithJSONBody(http.MethodPost, "/v1/posts", &godog.DocString{Content: doc}); err != nil {
		return err
	}
	if code := t.s.Session().Resp.StatusCode; code != http.StatusCreated {
		return fmt.Errorf("create post: expected 201, got %d: %s", code, t.s.Session().RespBytes)
	}
	id, err := t.s.Resolve("response.id")
	if err != nil {
		return err
	}
	t.s.Variables[as] = id
	return nil
}

func (t *threadSteps) post(author, body, as string) error {
	return t.create(author, body, "", as)
}

func (t *threadSteps) reply(author, parent, body, as string) error {
	return t.create(author, body, parent, as)
}

func (t *threadSteps) deletePost(name string) error {
	if err := t.s.SendHTTPRequestWithJSONBody(http.MethodDelete, "/v1/posts/${"+name+"}", nil); err != nil {
		return err
	}
	if code := t.s.Session().Resp.StatusCode; code != http.StatusNoContent {
		return fmt.Errorf("delete post: expected 204, got %d: %s", code, t.s.Session().RespBytes)
	}
	return nil
}

// listIDs fetches a reply or referent listing and returns the member ids.
func (t *threadSteps) listIDs(kind, name string) ([]string, error) {
	if err := t.s.SendHTTPRequestWithJSONBody(http.MethodGet, "/v1/posts/${"+name+"}/"+kind, nil); err != nil {
		return nil, err
	}
	if code := t.s.Session().Resp.StatusCode; code != http.StatusOK {
		return nil, fmt.Errorf("list %s: expected 200, got %d: %s", kind, code, t.s.Session().RespBytes)
	}
	data, err := t.s.Resolve("response.data")
	if err != nil {
		return nil, err
	}
	items, _ := data.([]any)
	ids := make([]string, 0, len(items))
	for _, item := range items {
		m, _ := item.(map[string]any)
		id, _ := m["id"].(string)
		ids = append(ids, id)
	}
	return ids, nil
}

func (t *threadSteps) setShouldBe(kind, name, expected string) error {
	actual, err := t.listIDs(kind, name)
	if err != nil {
		return err
	}
	var want []string
	for part := range strings.SplitSeq(expected, ",") {
		id, err := t.s.Expand(strings.TrimSpace(part))
		if err != nil {
			return err
		}
		want = append(want, id)
	}
	slices.Sort(actual)
	slices.Sort(want)
	if !slices.Equal(actual, want) {
		return fmt.Errorf("%s of ${%s}: expected %v, got %v", kind, name, want, actual)
	}
	return nil
}

func (t *threadSteps) setShouldBeEmpty(kind, name string) error {
	actual, err := t.listIDs(kind, name)
	if err != nil {
		return err
	}
	if len(actual) != 0 {
		return fmt.Errorf("%s of ${%s}: expected none, got %v", kind, name, actual)
	}
	return nil
}

func (t *threadSteps) mostRecentReplyShouldBe(parent, reply string) error {
	if err := t.s.SendHTTPRequestWithJSONBody(http.MethodGet, "/v1/posts/${"+parent+"}/most-recent-reply", nil); err != nil {
		return err
	}
	actual, err := t.s.ResolveString("response.id")
	if err != nil {
		return err
	}
	want, err := t.s.ResolveString(reply)
	if err != nil {
		return err
	}
	if actual != want {
		return fmt.Errorf("most recent reply to ${%s}: expected %s, got %s", parent, want, actual)
	}
	return nil
}
