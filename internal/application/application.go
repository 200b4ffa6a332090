package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/eugenenazirov/launchkitd/internal/api"
	"github.com/eugenenazirov/launchkitd/internal/config"
	"github.com/eugenenazirov/launchkitd/internal/configstore"
	"github.com/eugenenazirov/launchkitd/internal/configsync"
	"github.com/eugenenazirov/launchkitd/internal/metrics"
	"github.com/eugenenazirov/launchkitd/internal/remotecontent"
	"github.com/eugenenazirov/launchkitd/internal/remoteflow"
	"github.com/eugenenazirov/launchkitd/internal/resolver"
)

// App encapsulates the application dependencies and HTTP server.
type App struct {
	store      *configstore.Store
	resolver   *resolver.Resolver
	controller *remoteflow.Controller
	syncer     *configsync.Syncer
	metrics    *metrics.Metrics
	handler    *api.Handler
	router     http.Handler
	logger     *zap.Logger
	server     *http.Server

	stopSync context.CancelFunc
	syncDone sync.WaitGroup
}

// New initializes the application with all dependencies from the provided configuration.
func New(cfg config.Config, logger *zap.Logger) (*App, error) {
	defaults, err := loadDefaults(cfg.DefaultsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config defaults: %w", err)
	}

	store, err := configstore.NewStore(defaults)
	if err != nil {
		return nil, fmt.Errorf("failed to create config store: %w", err)
	}
	res := resolver.New(store, resolver.WithLogger(logger.Named("resolver")))
	m := metrics.New()

	fetcher, err := newFetcher(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create content fetcher: %w", err)
	}

	controller, err := remoteflow.NewController(fetcher,
		remoteflow.WithLogger(logger.Named("remoteflow")),
		remoteflow.WithGate(res),
		remoteflow.WithObserver(m),
		remoteflow.WithFetchTimeout(cfg.FetchTimeout),
		remoteflow.WithHandleTTL(cfg.HandleTTL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create flow controller: %w", err)
	}

	var syncer *configsync.Syncer
	if source := newSyncSource(cfg); source != nil {
		syncer = configsync.New(store, source,
			configsync.WithInterval(cfg.SyncInterval),
			configsync.WithWatch(cfg.WatchConfigFile),
			configsync.WithLogger(logger.Named("configsync")),
			configsync.WithObserver(m),
		)
	}

	handler := api.NewHandler(store, res, controller,
		api.WithHandlerLogger(logger.Named("flows")),
		api.WithConfigObserver(m),
	)
	apiRouter := api.NewRouter(handler, logger,
		api.WithLogging(cfg.EnableRequestLogging),
		api.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	)

	return &App{
		store:      store,
		resolver:   res,
		controller: controller,
		syncer:     syncer,
		metrics:    m,
		handler:    handler,
		router:     apiRouter,
		logger:     logger,
		server:     NewServer(cfg, BuildRootHandler(apiRouter, m.Handler())),
	}, nil
}

// BuildRootHandler mounts the API under /api/ and the metrics endpoint at /metrics.
func BuildRootHandler(apiHandler, metricsHandler http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/", apiHandler)
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}
	mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	return mux
}

// NewServer creates and configures an HTTP server from the provided configuration.
func NewServer(cfg config.Config, handler http.Handler) *http.Server {
	addr := cfg.Port
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

// Start starts config sync and the HTTP server in background goroutines.
func (a *App) Start() error {
	if a.syncer != nil {
		ctx, cancel := context.WithCancel(context.Background())
		a.stopSync = cancel
		a.syncDone.Add(1)
		go func() {
			defer a.syncDone.Done()
			if err := a.syncer.Run(ctx); err != nil && !configsync.IsStopped(err) {
				a.logger.Error("config sync stopped", zap.Error(err))
			}
		}()
	}

	go func() {
		a.logger.Info("server listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("server error", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown stops config sync and gracefully shuts the HTTP server down.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopSyncer()
	return a.server.Shutdown(ctx)
}

// Close stops config sync and closes the HTTP server immediately.
func (a *App) Close() error {
	a.stopSyncer()
	return a.server.Close()
}

func (a *App) stopSyncer() {
	if a.stopSync != nil {
		a.stopSync()
		a.syncDone.Wait()
	}
}

// Server returns the HTTP server instance.
func (a *App) Server() *http.Server {
	return a.server
}

func loadDefaults(path string) (map[string]configstore.Value, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return configstore.Decode(data)
}

func newFetcher(cfg config.Config, logger *zap.Logger) (remoteflow.Fetcher, error) {
	if cfg.ContentBaseURL == "" {
		logger.Warn("no content base URL configured, every flow load will report no content")
		return remotecontent.NewStaticFetcher(nil), nil
	}
	return remotecontent.NewHTTPFetcher(cfg.ContentBaseURL,
		remotecontent.WithHTTPClient(&http.Client{Timeout: cfg.FetchTimeout}),
		remotecontent.WithRateLimit(cfg.FetchRPS, cfg.FetchBurst),
		remotecontent.WithCircuitBreaker(cfg.BreakerFailures, cfg.BreakerCooldown),
		remotecontent.WithLogger(logger.Named("remotecontent")),
	)
}

func newSyncSource(cfg config.Config) configsync.Source {
	switch {
	case cfg.RemoteConfigURL != "":
		return configsync.NewHTTPSource(cfg.RemoteConfigURL, nil)
	case cfg.RemoteConfigFile != "":
		return configsync.NewFileSource(cfg.RemoteConfigFile)
	default:
		return nil
	}
}
