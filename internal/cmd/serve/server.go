package serve

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/chirino/thread-service/internal/config"
	"github.com/chirino/thread-service/internal/plugin/route/admin"
	"github.com/chirino/thread-service/internal/plugin/route/posts"
	routesystem "github.com/chirino/thread-service/internal/plugin/route/system"
	storemetrics "github.com/chirino/thread-service/internal/plugin/store/metrics"
	registryidset "github.com/chirino/thread-service/internal/registry/idset"
	"github.com/chirino/thread-service/internal/registry/intids"
	registrymigrate "github.com/chirino/thread-service/internal/registry/migrate"
	registryroute "github.com/chirino/thread-service/internal/registry/route"
	registrystore "github.com/chirino/thread-service/internal/registry/store"
	"github.com/chirino/thread-service/internal/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config          *config.Config
	Sets            registryidset.Factory
	IDs             intids.Registry
	Store           registrystore.PostStore
	Router          *gin.Engine
	Running         *RunningServers
	closeManagement func(context.Context) error
	closeStore      func()
}

// Shutdown stops accepting traffic, drains the listeners and releases the
// backends.
func (s *Server) Shutdown(ctx context.Context) error {
	routesystem.MarkNotReady()
	var errs []error
	if s.closeManagement != nil {
		errs = append(errs, s.closeManagement(ctx))
	}
	errs = append(errs, s.Running.Close(ctx))
	if s.closeStore != nil {
		s.closeStore()
	}
	if c, ok := s.Sets.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// StartServer initializes all subsystems and starts HTTP on a single port.
// Use cfg.Listener.Port=0 for a random port. Actual port: Server.Running.Port.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	if cfg.SetNamespace == "" {
		cfg.SetNamespace = uuid.NewString()
	}
	log.Info("Starting thread service",
		"httpPort", cfg.Listener.Port,
		"intids", cfg.IntIDsType,
		"sets", cfg.SetType,
		"namespace", cfg.ResolvedSetNamespace(),
	)

	metricsLabels, err := telemetry.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	telemetry.InitMetrics(metricsLabels)

	ctx = config.WithContext(ctx, cfg)
	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	// Set factory first: the identity registry hands it to every thread.
	setLoader, err := registryidset.Select(cfg.SetType)
	if err != nil {
		return nil, err
	}
	sets, err := setLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s sets: %w", cfg.SetType, err)
	}
	ctx = registryidset.WithFactoryContext(ctx, sets)

	idsLoader, err := intids.Select(cfg.IntIDsType)
	if err != nil {
		return nil, err
	}
	ids, err := idsLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize identity registry: %w", err)
	}
	ctx = intids.WithContext(ctx, ids)

	storeLoader, err := registrystore.Select("memory")
	if err != nil {
		return nil, err
	}
	rawStore, err := storeLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	store := storemetrics.Wrap(rawStore)
	var closeStore func()
	if c, ok := rawStore.(interface{ Close() }); ok {
		closeStore = c.Close
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		router.Use(telemetry.AccessLogMiddleware())
	} else {
		router.Use(telemetry.AccessLogMiddleware("/health", "/ready", "/metrics"))
	}
	router.Use(telemetry.MetricsMiddleware())
	router.Use(telemetry.AdminAuditMiddleware())
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))
	if cfg.CORSEnabled {
		router.Use(corsMiddleware(cfg.CORSOrigins))
	}

	for _, loader := range registryroute.MainRouteLoaders() {
		if err := loader(router); err != nil {
			return nil, fmt.Errorf("failed to load routes: %w", err)
		}
	}
	posts.MountRoutes(router, store)
	admin.MountRoutes(router, store)

	var closeManagement func(context.Context) error
	if cfg.ManagementListenerEnabled {
		mgmtRouter := gin.New()
		mgmtRouter.Use(gin.Recovery())
		if cfg.ManagementAccessLog {
			mgmtRouter.Use(telemetry.AccessLogMiddleware())
		}
		for _, loader := range registryroute.ManagementRouteLoaders() {
			if err := loader(mgmtRouter); err != nil {
				return nil, fmt.Errorf("failed to load management routes: %w", err)
			}
		}
		// Management listener shares TLS cert/key with the main listener.
		mgmtCfg := cfg.ManagementListener
		mgmtCfg.TLSCertFile = cfg.Listener.TLSCertFile
		mgmtCfg.TLSKeyFile = cfg.Listener.TLSKeyFile
		_, closeManagement, err = startManagementServer(mgmtCfg, mgmtRouter)
		if err != nil {
			return nil, fmt.Errorf("failed to start management server: %w", err)
		}
	} else {
		for _, loader := range registryroute.ManagementRouteLoaders() {
			if err := loader(router); err != nil {
				return nil, fmt.Errorf("failed to load management routes: %w", err)
			}
		}
	}

	running, err := StartSinglePortHTTP(ctx, cfg.Listener, router)
	if err != nil {
		if closeManagement != nil {
			_ = closeManagement(context.Background())
		}
		return nil, err
	}

	log.Info("Server listening",
		"port", running.Port,
		"plaintext", cfg.Listener.EnablePlainText,
		"tls", cfg.Listener.EnableTLS,
	)

	routesystem.MarkReady()
	return &Server{
		Config:          cfg,
		Sets:            sets,
		IDs:             ids,
		Store:           store,
		Router:          router,
		Running:         running,
		closeManagement: closeManagement,
		closeStore:      closeStore,
	}, nil
}
