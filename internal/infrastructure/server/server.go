// Package server assembles the orchestrator: providers, the task
// dispatcher, the HTTP API, and the event stream.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	api "github.com/appyard/appyard/internal/api/http"
	"github.com/appyard/appyard/internal/api/middleware"
	"github.com/appyard/appyard/internal/api/ws"
	apps "github.com/appyard/appyard/internal/domain/app"
	settings "github.com/appyard/appyard/internal/domain/config"
	"github.com/appyard/appyard/internal/domain/task"
	"github.com/appyard/appyard/internal/infrastructure/config"
	"github.com/appyard/appyard/internal/infrastructure/events"
	"github.com/appyard/appyard/internal/infrastructure/fetch"
	"github.com/appyard/appyard/internal/infrastructure/logging"
	"github.com/appyard/appyard/internal/infrastructure/monitoring"
	"github.com/appyard/appyard/internal/providers/process"
	"github.com/appyard/appyard/internal/providers/python"
	"github.com/appyard/appyard/internal/providers/shield"
	"github.com/appyard/appyard/internal/providers/vcs"
	"github.com/appyard/appyard/internal/shared/paths"
)

// Version is reported by the root and health endpoints.
const Version = "1.0.0"

// shutdownGrace bounds how long in-flight requests may run after a stop
// signal before the listener is torn down.
const shutdownGrace = 10 * time.Second

// Server wraps the HTTP server and its assembled components.
type Server struct {
	http       *http.Server
	router     *gin.Engine
	dispatcher *task.Dispatcher
	hub        *events.Hub
	store      *settings.Store
	logger     *logging.Logger
	config     *config.Config
	metrics    *monitoring.Metrics
}

// NewServer builds a fully wired server from process configuration.
func NewServer(cfg *config.Config) (*Server, error) {
	layout := paths.New(cfg.Data.Dir)

	for _, dir := range layout.StandardDirectories() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory %s: %w", dir, err)
		}
	}

	logCfg := logging.DefaultConfig()
	if cfg.Logging.Development {
		logCfg = logging.DevelopmentConfig()
	}
	if cfg.Logging.Level != "" {
		logCfg.Level = cfg.Logging.Level
	}
	if cfg.Logging.ToFile {
		logCfg = logCfg.WithFile(layout.LogsDir())
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("initialize logging: %w", err)
	}

	logger.Info("initializing appyard",
		zap.String("version", Version),
		zap.String("addr", net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)),
		zap.String("data_dir", cfg.Data.Dir),
		zap.String("manifest", cfg.Data.Manifest))

	metrics := monitoring.NewMetrics()

	hub := events.NewHub(events.DefaultCapacity)

	store := settings.NewStore(layout, logger)
	if err := store.Load(); err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	registry := apps.NewManager(logger).WithMetrics(metrics)
	guard := shield.NewProvider(logger)
	loader := apps.NewLoader(layout, process.Alive, guard.Excluded, logger)
	versions := vcs.NewService(logger)
	downloads := fetch.NewClient(cfg.Fetch, logger)
	runtimes := python.NewProvisioner(layout, downloads, logger)
	supervisor := process.NewSupervisor(layout, cfg.Process.StopGrace, logger)

	dispatcher := task.NewDispatcher(task.Deps{
		Layout:        layout,
		Registry:      registry,
		Loader:        loader,
		Hub:           hub,
		Versions:      versions,
		Python:        runtimes,
		Process:       supervisor,
		Shield:        guard,
		Settings:      store,
		Manifest:      cfg.Data.Manifest,
		Metrics:       metrics,
		LivenessEvery: cfg.Process.LivenessEvery,
		Log:           logger,
	})

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(logger))
	router.Use(monitoring.Middleware(metrics))

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.ExtraOrigins = cfg.Server.ExtraOrigins
	router.Use(middleware.CORS(corsCfg))

	if cfg.RateLimit.Enabled {
		logger.Info("rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst))
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := api.NewHandlers(dispatcher, store, metrics, Version, logger)
	handlers.Register(router)

	stream := ws.NewHandler(hub, dispatcher, metrics, logger)
	router.GET("/stream", stream.HandleConnection)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	logger.Info("server initialized")

	return &Server{
		http: &http.Server{
			Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		router:     router,
		dispatcher: dispatcher,
		hub:        hub,
		store:      store,
		logger:     logger,
		config:     cfg,
		metrics:    metrics,
	}, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run loads the app registry, starts background supervision, and serves
// HTTP until ctx is canceled or the listener fails. Supervised apps are
// left running on shutdown; the next start re-adopts them from their
// state files.
func (s *Server) Run(ctx context.Context) error {
	background, cancel := context.WithCancel(context.Background())
	defer cancel()

	go s.dispatcher.RunLiveness(background)

	// Populate the registry before the first client asks.
	if err := s.dispatcher.LoadApps(background); err != nil {
		s.logger.Warn("initial app load failed", zap.Error(err))
	}

	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.http.Addr, err)
	}
	s.logger.Info("http server listening", zap.String("addr", ln.Addr().String()))

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.http.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) shutdown() error {
	s.logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	err := s.http.Shutdown(ctx)
	s.logger.Sync()
	return err
}
