package migrate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingMigrator struct {
	name string
	log  *[]string
	err  error
}

func (m recordingMigrator) Name() string { return m.name }
func (m recordingMigrator) Migrate(context.Context) error {
	*m.log = append(*m.log, m.name)
	return m.err
}

func withPlugins(t *testing.T, ps ...Plugin) {
	saved := plugins
	plugins = nil
	for _, p := range ps {
		Register(p)
	}
	t.Cleanup(func() { plugins = saved })
}

func TestRunAllOrdersByOrderThenRegistration(t *testing.T) {
	var ran []string
	withPlugins(t,
		Plugin{Order: 200, Migrator: recordingMigrator{name: "late", log: &ran}},
		Plugin{Order: 100, Migrator: recordingMigrator{name: "first", log: &ran}},
		Plugin{Order: 100, Migrator: recordingMigrator{name: "second", log: &ran}},
	)

	require.NoError(t, RunAll(context.Background()))
	require.Equal(t, []string{"first", "second", "late"}, ran)
}

func TestRunAllStopsAtFirstFailure(t *testing.T) {
	var ran []string
	boom := errors.New("boom")
	withPlugins(t,
		Plugin{Order: 1, Migrator: recordingMigrator{name: "broken", log: &ran, err: boom}},
		Plugin{Order: 2, Migrator: recordingMigrator{name: "never", log: &ran}},
	)

	err := RunAll(context.Background())
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), "broken")
	require.Equal(t, []string{"broken"}, ran)
}

func TestRunAllHonorsCancellation(t *testing.T) {
	var ran []string
	withPlugins(t, Plugin{Order: 1, Migrator: recordingMigrator{name: "skipped", log: &ran}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, RunAll(ctx), context.Canceled)
	require.Empty(t, ran)
}
