package serve

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/thread-service/internal/config"
	registryidset "github.com/chirino/thread-service/internal/registry/idset"
	"github.com/chirino/thread-service/internal/registry/intids"
	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v3"

	// Import all plugins to trigger init() registration
	_ "github.com/chirino/thread-service/internal/plugin/idset/badger"
	_ "github.com/chirino/thread-service/internal/plugin/idset/memory"
	_ "github.com/chirino/thread-service/internal/plugin/idset/redis"
	_ "github.com/chirino/thread-service/internal/plugin/idset/sql"
	_ "github.com/chirino/thread-service/internal/plugin/intids/memory"
	_ "github.com/chirino/thread-service/internal/plugin/route/system"
	_ "github.com/chirino/thread-service/internal/plugin/store/memory"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var readHeaderTimeoutSecs int = 5
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the thread service HTTP server",
		Flags: flags(&cfg, &readHeaderTimeoutSecs),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := cfg.ApplyEnv(); err != nil {
				return err
			}
			if err := applyLogLevel(cfg.LogLevel); err != nil {
				return err
			}
			cfg.Listener.ReadHeaderTimeout = time.Duration(readHeaderTimeoutSecs) * time.Second
			cfg.ManagementListener.ReadHeaderTimeout = cfg.Listener.ReadHeaderTimeout
			cfg.ManagementListenerEnabled = cmd.IsSet("management-port")
			return run(config.WithContext(ctx, &cfg), cfg)
		},
	}
}

func applyLogLevel(raw string) error {
	level, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", raw, err)
	}
	log.SetLevel(level)
	return nil
}

func flags(cfg *config.Config, readHeaderTimeoutSecs *int) []cli.Flag {
	return []cli.Flag{

		// ── Server ────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "log-level",
			Category:    "Server:",
			Sources:     cli.EnvVars("THREAD_SERVICE_LOG_LEVEL"),
			Destination: &cfg.LogLevel,
			Value:       cfg.LogLevel,
			Usage:       "Log level: debug, info, warn or error",
		},
		&cli.StringFlag{
			Name:        "tls-cert-file",
			Category:    "Server:",
			Sources:     cli.EnvVars("THREAD_SERVICE_TLS_CERT_FILE"),
			Destination: &cfg.Listener.TLSCertFile,
			Usage:       "TLS certificate file; a self-signed certificate is generated when unset",
		},
		&cli.StringFlag{
			Name:        "tls-key-file",
			Category:    "Server:",
			Sources:     cli.EnvVars("THREAD_SERVICE_TLS_KEY_FILE"),
			Destination: &cfg.Listener.TLSKeyFile,
			Usage:       "TLS private key file",
		},
		&cli.IntFlag{
			Name:        "read-header-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("THREAD_SERVICE_READ_HEADER_TIMEOUT_SECONDS"),
			Destination: readHeaderTimeoutSecs,
			Value:       *readHeaderTimeoutSecs,
			Usage:       "HTTP read header timeout in seconds",
		},
		&cli.BoolFlag{
			Name:        "management-access-log",
			Category:    "Server:",
			Sources:     cli.EnvVars("THREAD_SERVICE_MANAGEMENT_ACCESS_LOG"),
			Destination: &cfg.ManagementAccessLog,
			Usage:       "Enable HTTP access logging for management endpoints (/health, /ready, /metrics)",
		},
		&cli.IntFlag{
			Name:        "max-post-body-length",
			Category:    "Server:",
			Sources:     cli.EnvVars("THREAD_SERVICE_MAX_POST_BODY_LENGTH"),
			Destination: &cfg.MaxPostBodyLength,
			Value:       cfg.MaxPostBodyLength,
			Usage:       "Maximum post body length in characters",
		},

		// ── Network Listener ──────────────────────────────────────
		&cli.IntFlag{
			Name:        "port",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("THREAD_SERVICE_PORT"),
			Destination: &cfg.Listener.Port,
			Value:       cfg.Listener.Port,
			Usage:       "HTTP server port",
		},
		&cli.BoolFlag{
			Name:        "plain-text",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("THREAD_SERVICE_PLAIN_TEXT"),
			Destination: &cfg.Listener.EnablePlainText,
			Value:       cfg.Listener.EnablePlainText,
			Usage:       "Enable plaintext HTTP/1.1 + h2c",
		},
		&cli.BoolFlag{
			Name:        "tls",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("THREAD_SERVICE_TLS"),
			Destination: &cfg.Listener.EnableTLS,
			Value:       cfg.Listener.EnableTLS,
			Usage:       "Enable TLS HTTP/1.1 + HTTP/2",
		},

		// ── Management Network Listener ───────────────────────────
		&cli.IntFlag{
			Name:        "management-port",
			Category:    "Management Network Listener:",
			Sources:     cli.EnvVars("THREAD_SERVICE_MANAGEMENT_PORT"),
			Destination: &cfg.ManagementListener.Port,
			Value:       cfg.ManagementListener.Port,
			Usage:       "Dedicated port for health and metrics (0 = OS-assigned random port); when unset, served on the main port",
		},
		&cli.BoolFlag{
			Name:        "management-plain-text",
			Category:    "Management Network Listener:",
			Sources:     cli.EnvVars("THREAD_SERVICE_MANAGEMENT_PLAIN_TEXT"),
			Destination: &cfg.ManagementListener.EnablePlainText,
			Value:       cfg.ManagementListener.EnablePlainText,
			Usage:       "Enable plaintext HTTP for management server",
		},
		&cli.BoolFlag{
			Name:        "management-tls",
			Category:    "Management Network Listener:",
			Sources:     cli.EnvVars("THREAD_SERVICE_MANAGEMENT_TLS"),
			Destination: &cfg.ManagementListener.EnableTLS,
			Value:       cfg.ManagementListener.EnableTLS,
			Usage:       "Enable TLS for management server",
		},

		// ── Threads ───────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "intids-kind",
			Category:    "Threads:",
			Sources:     cli.EnvVars("THREAD_SERVICE_INTIDS_KIND"),
			Destination: &cfg.IntIDsType,
			Value:       cfg.IntIDsType,
			Usage:       "Identity registry (" + strings.Join(intids.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "set-kind",
			Category:    "Threads:",
			Sources:     cli.EnvVars("THREAD_SERVICE_SET_KIND"),
			Destination: &cfg.SetType,
			Value:       cfg.SetType,
			Usage:       "Reply/referent set backend (" + strings.Join(registryidset.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "set-namespace",
			Category:    "Threads:",
			Sources:     cli.EnvVars("THREAD_SERVICE_SET_NAMESPACE"),
			Destination: &cfg.SetNamespace,
			Usage:       "Key prefix for sets in shared backends; a random one is generated when unset",
		},
		&cli.BoolFlag{
			Name:        "write-missing-references",
			Category:    "Threads:",
			Sources:     cli.EnvVars("THREAD_SERVICE_WRITE_MISSING_REFERENCES"),
			Destination: &cfg.WriteMissingReferences,
			Value:       cfg.WriteMissingReferences,
			Usage:       "Export placeholder ids for links whose target was deleted",
		},

		// ── Database ───────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "db-url",
			Category:    "Database:",
			Sources:     cli.EnvVars("THREAD_SERVICE_DB_URL"),
			Destination: &cfg.DBURL,
			Usage:       "Database URL for the sqlite and postgres set backends; empty sqlite means in-memory",
		},
		&cli.IntFlag{
			Name:        "db-max-open-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("THREAD_SERVICE_DB_MAX_OPEN_CONNS"),
			Destination: &cfg.DBMaxOpenConns,
			Value:       cfg.DBMaxOpenConns,
			Usage:       "Maximum open database connections",
		},
		&cli.IntFlag{
			Name:        "db-max-idle-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("THREAD_SERVICE_DB_MAX_IDLE_CONNS"),
			Destination: &cfg.DBMaxIdleConns,
			Value:       cfg.DBMaxIdleConns,
			Usage:       "Maximum idle database connections",
		},
		&cli.StringFlag{
			Name:        "redis-url",
			Category:    "Database:",
			Sources:     cli.EnvVars("THREAD_SERVICE_REDIS_URL"),
			Destination: &cfg.RedisURL,
			Usage:       "Redis URL for the redis set backend (redis://host:6379/0)",
		},
		&cli.StringFlag{
			Name:        "badger-path",
			Category:    "Database:",
			Sources:     cli.EnvVars("THREAD_SERVICE_BADGER_PATH"),
			Destination: &cfg.BadgerPath,
			Usage:       "Directory for the badger set backend; empty means in-memory",
		},

		// ── Cache ─────────────────────────────────────────────────
		&cli.BoolFlag{
			Name:        "ref-cache-enabled",
			Category:    "Cache:",
			Sources:     cli.EnvVars("THREAD_SERVICE_REF_CACHE_ENABLED"),
			Destination: &cfg.RefCacheEnabled,
			Value:       cfg.RefCacheEnabled,
			Usage:       "Cache weak reference resolution",
		},
		&cli.DurationFlag{
			Name:        "ref-cache-ttl",
			Category:    "Cache:",
			Destination: &cfg.RefCacheTTL,
			Value:       cfg.RefCacheTTL,
			Usage:       "Lifetime of a cached resolution (env THREAD_SERVICE_REF_CACHE_TTL also accepts PT30S)",
		},
		&cli.Int64Flag{
			Name:        "ref-cache-max-items",
			Category:    "Cache:",
			Sources:     cli.EnvVars("THREAD_SERVICE_REF_CACHE_MAX_ITEMS"),
			Destination: &cfg.RefCacheMaxItems,
			Value:       cfg.RefCacheMaxItems,
			Usage:       "Maximum number of cached resolutions",
		},

		// ── Monitoring ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "metrics-labels",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars("THREAD_SERVICE_METRICS_LABELS"),
			Destination: &cfg.MetricsLabels,
			Value:       cfg.MetricsLabels,
			Usage:       "Comma-separated key=value pairs added as constant labels to all Prometheus metrics. Supports ${VAR} expansion.",
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	srv, err := StartServer(ctx, &cfg)
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Duration(cfg.DrainTimeout)*time.Second)
	defer drainCancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error("Shutdown error", "err", err)
	}
	log.Info("Server stopped")
	return nil
}

func maxBodySizeMiddleware(maxBodySize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBodySize <= 0 || c.Request.Body == nil {
			c.Next()
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
		c.Next()
	}
}
