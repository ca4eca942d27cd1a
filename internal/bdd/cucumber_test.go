package bdd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chirino/thread-service/internal/cmd/serve"
	"github.com/chirino/thread-service/internal/config"
	"github.com/chirino/thread-service/internal/testutil/cucumber"
	"github.com/cucumber/godog"
	"github.com/stretchr/testify/require"
)

// TestFeatures runs every feature file once per in-process set backend.
func TestFeatures(t *testing.T) {
	featureFiles, err := filepath.Glob(filepath.Join("features", "*.feature"))
	require.NoError(t, err)
	require.NotEmpty(t, featureFiles, "no feature files found")

	for _, setKind := range []string{"memory", "badger", "sqlite"} {
		t.Run(setKind, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.SetType = setKind
			cfg.Listener.Port = 0
			cfg.Listener.EnableTLS = false

			srv, err := serve.StartServer(context.Background(), &cfg)
			require.NoError(t, err)
			t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

			runFeatures(t, featureFiles, fmt.Sprintf("http://localhost:%d", srv.Running.Port))
		})
	}
}

func runFeatures(t *testing.T, featureFiles []string, apiURL string) {
	opts := cucumber.DefaultOptions()
	for _, arg := range os.Args[1:] {
		if arg == "-test.v=true" || arg == "-test.v" || arg == "-v" {
			opts.Format = "pretty"
		}
	}

	for _, featurePath := range featureFiles {
		name := strings.TrimSuffix(filepath.Base(featurePath), ".feature")
		t.Run(name, func(t *testing.T) {
			o := opts
			o.TestingT = t
			o.Paths = []string{featurePath}
			defer cucumber.ApplyReportOptions(&o, t.Name())()

			suite := cucumber.NewTestSuite()
			suite.APIURL = apiURL
			suite.TestingT = t

			status := godog.TestSuite{
				Name:                name,
				Options:             &o,
				ScenarioInitializer: suite.InitializeScenario,
			}.Run()
			if status != 0 {
				t.Fail()
			}
		})
	}
}
