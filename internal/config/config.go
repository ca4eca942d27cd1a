package config

import (
	"context"
	"strings"
	"time"
)

// ListenerConfig holds the network/TLS settings for a single listener (main or management).
type ListenerConfig struct {
	Port              int
	EnablePlainText   bool
	EnableTLS         bool
	TLSCertFile       string
	TLSKeyFile        string
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

// Config holds all configuration for the thread service.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	// Identity registry backend ("memory").
	IntIDsType string

	// Reply/referent set backend ("memory", "redis", "badger", "sqlite", "postgres").
	SetType string

	// SetNamespace prefixes every set key in shared backends so that
	// several service instances (or restarts) never see each other's members.
	// Empty means a random namespace is generated at startup.
	SetNamespace string

	// Database (sqlite and postgres set backends)
	DBURL                   string
	DBMaxOpenConns          int
	DBMaxIdleConns          int
	DatastoreMigrateAtStart bool

	// Redis set backend
	RedisURL string

	// Badger set backend; an empty path opens an in-memory database.
	BadgerPath       string
	BadgerSyncWrites bool

	// Weak reference resolution cache.
	RefCacheEnabled  bool
	RefCacheTTL      time.Duration
	RefCacheMaxItems int64

	// WriteMissingReferences controls whether exported posts carry a
	// placeholder id for links whose target was deleted.
	WriteMissingReferences bool

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR} expansion.
	// Defaults to "service=thread-service".
	MetricsLabels string

	// Server
	Listener           ListenerConfig
	ManagementListener ListenerConfig
	// ManagementListenerEnabled is true when --management-port (or THREAD_SERVICE_MANAGEMENT_PORT)
	// was explicitly provided. When false, management endpoints are served on the main port.
	ManagementListenerEnabled bool
	// ManagementAccessLog enables HTTP access logging for management endpoints (/health, /ready, /metrics).
	ManagementAccessLog bool
	CORSEnabled         bool
	CORSOrigins         string

	// Body size limit (bytes)
	MaxBodySize int64

	// Maximum post body length in characters.
	MaxPostBodyLength int

	// Graceful shutdown drain timeout (seconds)
	DrainTimeout int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		LogLevel:                "info",
		IntIDsType:              "memory",
		SetType:                 "memory",
		DBMaxOpenConns:          25,
		DBMaxIdleConns:          5,
		DatastoreMigrateAtStart: true,
		BadgerSyncWrites:        true,
		RefCacheEnabled:         true,
		RefCacheTTL:             30 * time.Second,
		RefCacheMaxItems:        100_000,
		WriteMissingReferences:  true,
		MetricsLabels:           "service=thread-service",
		Listener: ListenerConfig{
			Port:              8080,
			EnablePlainText:   true,
			EnableTLS:         true,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ManagementListener: ListenerConfig{
			EnablePlainText: true,
			EnableTLS:       true,
		},
		MaxBodySize:       1024 * 1024,
		MaxPostBodyLength: 64 * 1024,
		DrainTimeout:      30,
	}
}

// ResolvedSetNamespace returns the configured set namespace trimmed of
// surrounding whitespace and any trailing separator.
func (c *Config) ResolvedSetNamespace() string {
	if c == nil {
		return ""
	}
	return strings.TrimRight(strings.TrimSpace(c.SetNamespace), ":/")
}
