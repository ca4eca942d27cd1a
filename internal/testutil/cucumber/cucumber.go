// Package cucumber runs godog feature files against a live HTTP API.
//
// Variables are scoped to the scenario and are referenced as ${name}.
// Resolution supports:
//   - ${name}              → scenario variable lookup
//   - ${name.field}        → nested field access
//   - ${response}          → last HTTP response body as JSON
//   - ${response.field}    → response body field via gojq
//   - ${name | pipe}       → pipe transformations (json, string)
package cucumber

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/cucumber/godog/colors"
	"github.com/itchyny/gojq"
	"github.com/pmezard/go-difflib/difflib"
)

// NewTestSuite returns a suite pointed at a local default port.
func NewTestSuite() *TestSuite {
	return &TestSuite{
		APIURL: "http://localhost:8080",
		Extra:  map[string]any{},
	}
}

func DefaultOptions() godog.Options {
	return godog.Options{
		Output:      colors.Colored(os.Stdout),
		Format:      "progress",
		Paths:       []string{"features"},
		Randomize:   time.Now().UTC().UnixNano(),
		Concurrency: 4,
	}
}

// ApplyReportOptions writes junit XML when GODOG_REPORT_DIR is set. The
// returned cleanup must be called after the suite runs.
func ApplyReportOptions(opts *godog.Options, testName string) func() {
	reportDir := os.Getenv("GODOG_REPORT_DIR")
	if reportDir == "" {
		return func() {}
	}
	if err := os.MkdirAll(reportDir, 0o755); err != nil {
		return func() {}
	}
	f, err := os.Create(filepath.Join(reportDir, strings.ReplaceAll(testName, "/", "-")+".xml"))
	if err != nil {
		return func() {}
	}
	opts.Output = f
	opts.Format = "junit"
	return func() { _ = f.Close() }
}

// TestSuite holds state shared by all scenarios. Scenarios may run
// concurrently, so only immutable fields are read without locking.
type TestSuite struct {
	APIURL   string
	TestingT *testing.T
	Extra    map[string]any
}

// TestScenario holds state for a single scenario. Not accessed concurrently.
type TestScenario struct {
	Suite     *TestSuite
	Variables map[string]any
	session   *TestSession
}

func (s *TestScenario) Logf(format string, args ...any) {
	s.Suite.TestingT.Logf(format, args...)
}

// Session returns the scenario's HTTP session, creating it on first use.
func (s *TestScenario) Session() *TestSession {
	if s.session == nil {
		s.session = &TestSession{Client: &http.Client{Timeout: 30 * time.Second}, Header: http.Header{}}
	}
	return s.session
}

func unifiedDiff(expected, actual string) string {
	diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(expected),
		B:        difflib.SplitLines(actual),
		FromFile: "Expected",
		ToFile:   "Actual",
		Context:  1,
	})
	return diff
}

func parseJSON(label, raw string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("error parsing %s json: %w\njson was:\n%s", label, err, raw)
	}
	return v, nil
}

func indent(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

// JSONMustMatch requires actual and expected to be the same JSON document.
func (s *TestScenario) JSONMustMatch(actual, expected string) error {
	actualParsed, err := parseJSON("actual", actual)
	if err != nil {
		return err
	}
	if expected, err = s.Expand(expected); err != nil {
		return err
	}
	expectedParsed, err := parseJSON("expected", expected)
	if err != nil {
		return err
	}
	if !reflect.DeepEqual(expectedParsed, actualParsed) {
		return fmt.Errorf("actual does not match expected, diff:\n%s", unifiedDiff(indent(expectedParsed), indent(actualParsed)))
	}
	return nil
}

// JSONMustContain requires every field of expected to be present in actual.
func (s *TestScenario) JSONMustContain(actual, expected string) error {
	actualParsed, err := parseJSON("actual", actual)
	if err != nil {
		return err
	}
	if expected, err = s.Expand(expected); err != nil {
		return err
	}
	expectedParsed, err := parseJSON("expected", expected)
	if err != nil {
		return err
	}
	if err := jsonSubset(expectedParsed, actualParsed, ""); err != nil {
		return fmt.Errorf("actual does not contain expected.\n  mismatch: %s\n  expected:\n%s\n  actual:\n%s",
			err, indent(expectedParsed), indent(actualParsed))
	}
	return nil
}

// jsonSubset checks objects key by key (extra actual keys are fine), arrays
// element by element with equal length, and primitives for equality.
func jsonSubset(expected, actual any, path string) error {
	switch exp := expected.(type) {
	case nil:
		if actual != nil {
			return fmt.Errorf("at %s: expected null, got %v", pathOrRoot(path), actual)
		}
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return fmt.Errorf("at %s: expected object, got %T", pathOrRoot(path), actual)
		}
		for key, expVal := range exp {
			actVal, exists := act[key]
			if !exists {
				return fmt.Errorf("at %s: missing key %q", pathOrRoot(path), key)
			}
			if err := jsonSubset(expVal, actVal, path+"."+key); err != nil {
				return err
			}
		}
	case []any:
		act, ok := actual.([]any)
		if !ok {
			return fmt.Errorf("at %s: expected array, got %T", pathOrRoot(path), actual)
		}
		if len(exp) != len(act) {
			return fmt.Errorf("at %s: expected array length %d, got %d", pathOrRoot(path), len(exp), len(act))
		}
		for i := range exp {
			if err := jsonSubset(exp[i], act[i], fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	default:
		if !reflect.DeepEqual(expected, actual) {
			return fmt.Errorf("at %s: expected %v (%T), got %v (%T)", pathOrRoot(path), expected, expected, actual, actual)
		}
	}
	return nil
}

func pathOrRoot(path string) string {
	return "$" + path
}

// Expand replaces ${var} in value using scenario variables.
func (s *TestScenario) Expand(value string) (result string, rerr error) {
	return os.Expand(value, func(name string) string {
		res, err := s.ResolveString(name)
		if err != nil && rerr == nil {
			rerr = err
		}
		return res
	}), rerr
}

func (s *TestScenario) ResolveString(name string) (string, error) {
	value, err := s.Resolve(name)
	if err != nil {
		return "", err
	}
	return ToString(value)
}

// ToString renders a resolved value the way it should appear when
// substituted into a feature file.
func ToString(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", v), nil
	case float32, float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", v), "0"), "."), nil
	case nil:
		return "", nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *TestScenario) Resolve(name string) (any, error) {
	pipes := strings.Split(name, "|")
	for i := range pipes {
		pipes[i] = strings.TrimSpace(pipes[i])
	}
	name, pipes = pipes[0], pipes[1:]

	if name == "response" || strings.HasPrefix(name, "response.") || strings.HasPrefix(name, "response[") {
		doc, err := s.Session().RespJSON()
		if err != nil {
			return pipeline(pipes, nil, err)
		}
		if name == "response" {
			return pipeline(pipes, doc, nil)
		}
		value, err := selectOne("."+name, map[string]any{"response": doc})
		return pipeline(pipes, value, err)
	}

	parts := strings.Split(name, ".")
	value, found := s.Variables[parts[0]]
	if !found {
		return pipeline(pipes, nil, fmt.Errorf("variable ${%s} not defined yet", parts[0]))
	}
	for _, part := range parts[1:] {
		var err error
		if value, err = selectChild(value, part); err != nil {
			return pipeline(pipes, nil, err)
		}
	}
	return pipeline(pipes, value, nil)
}

// selectOne returns the first gojq result of selector over doc.
func selectOne(selector string, doc any) (any, error) {
	query, err := gojq.Parse(selector)
	if err != nil {
		return nil, err
	}
	next, found := query.Run(doc).Next()
	if !found {
		return nil, fmt.Errorf("no json node matches selector: %s", selector)
	}
	if err, ok := next.(error); ok {
		return nil, fmt.Errorf("selector %s: %w", selector, err)
	}
	return next, nil
}

func selectChild(value any, path string) (any, error) {
	switch v := value.(type) {
	case map[string]any:
		child, ok := v[path]
		if !ok {
			return nil, fmt.Errorf("map key %s not found", path)
		}
		return child, nil
	case []any:
		index, err := strconv.Atoi(path)
		if err != nil || index < 0 || index >= len(v) {
			return nil, fmt.Errorf("slice index %s out of range", path)
		}
		return v[index], nil
	}
	return nil, fmt.Errorf("can't navigate to '%s' on type of %T", path, value)
}

func pipeline(pipes []string, value any, err error) (any, error) {
	for _, pipe := range pipes {
		fn := PipeFunctions[pipe]
		if fn == nil {
			return nil, fmt.Errorf("unknown pipe: %s", pipe)
		}
		value, err = fn(value, err)
	}
	return value, err
}

var PipeFunctions = map[string]func(any, error) (any, error){
	"json": func(value any, err error) (any, error) {
		if err != nil {
			return value, err
		}
		b, err := json.Marshal(value)
		return string(b), err
	},
	"string": func(value any, err error) (any, error) {
		if err != nil {
			return value, err
		}
		return fmt.Sprintf("%v", value), nil
	},
}

// TestSession holds the HTTP state of a scenario, like a browser.
type TestSession struct {
	Client    *http.Client
	Header    http.Header
	Resp      *http.Response
	RespBytes []byte
	respJSON  any
}

// RespJSON returns the last HTTP response body as parsed JSON.
func (s *TestSession) RespJSON() (any, error) {
	if s.respJSON == nil {
		if len(s.RespBytes) == 0 {
			return nil, fmt.Errorf("no response body")
		}
		v, err := parseJSON("response", string(s.RespBytes))
		if err != nil {
			return nil, err
		}
		s.respJSON = v
	}
	return s.respJSON, nil
}

// StepModules register steps with each new godog.ScenarioContext.
var StepModules []func(ctx *godog.ScenarioContext, s *TestScenario)

func (suite *TestSuite) InitializeScenario(ctx *godog.ScenarioContext) {
	s := &TestScenario{
		Suite:     suite,
		Variables: map[string]any{},
	}
	for _, module := range slices.Clone(StepModules) {
		module(ctx, s)
	}
}
