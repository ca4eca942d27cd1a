package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResolvedSetNamespace_EmptyByDefault(t *testing.T) {
	var cfg Config
	require.Equal(t, "", cfg.ResolvedSetNamespace())
}

func TestResolvedSetNamespace_TrimsSeparators(t *testing.T) {
	cfg := Config{SetNamespace: " threads-prod: "}
	require.Equal(t, "threads-prod", cfg.ResolvedSetNamespace())
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("THREAD_SERVICE_MAX_BODY_SIZE", "2M")
	t.Setenv("THREAD_SERVICE_REF_CACHE_TTL", "PT2M")
	t.Setenv("THREAD_SERVICE_DB_MIGRATE_AT_START", "false")
	t.Setenv("THREAD_SERVICE_CORS_ENABLED", "true")
	t.Setenv("THREAD_SERVICE_CORS_ORIGINS", "https://a.example")
	t.Setenv("THREAD_SERVICE_MAX_POST_BODY_LENGTH", "128")

	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv())

	require.Equal(t, int64(2*1024*1024), cfg.MaxBodySize)
	require.Equal(t, 2*time.Minute, cfg.RefCacheTTL)
	require.False(t, cfg.DatastoreMigrateAtStart)
	require.True(t, cfg.CORSEnabled)
	require.Equal(t, "https://a.example", cfg.CORSOrigins)
	require.Equal(t, 128, cfg.MaxPostBodyLength)
}

func TestApplyEnv_InvalidDuration(t *testing.T) {
	t.Setenv("THREAD_SERVICE_REF_CACHE_TTL", "soon")

	cfg := DefaultConfig()
	require.Error(t, cfg.ApplyEnv())
}

func TestParseDuration(t *testing.T) {
	d, err := parseDuration("45s")
	require.NoError(t, err)
	require.Equal(t, 45*time.Second, d)

	d, err = parseDuration("PT1H30M")
	require.NoError(t, err)
	require.Equal(t, 90*time.Minute, d)

	_, err = parseDuration("P1D")
	require.Error(t, err)
}

func TestParseMemorySize(t *testing.T) {
	n, err := parseMemorySize("512k")
	require.NoError(t, err)
	require.Equal(t, int64(512*1024), n)

	n, err = parseMemorySize("100")
	require.NoError(t, err)
	require.Equal(t, int64(100), n)

	_, err = parseMemorySize("-1")
	require.Error(t, err)
}
