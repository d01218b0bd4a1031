package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/contactdir/contactdir-server/internal/api"
	"github.com/contactdir/contactdir-server/internal/app/storage"
	"github.com/contactdir/contactdir-server/internal/config"
	"github.com/contactdir/contactdir-server/internal/directory"
	"github.com/contactdir/contactdir-server/internal/events"
	"github.com/contactdir/contactdir-server/internal/sources"
	pkgsync "github.com/contactdir/contactdir-server/internal/sync"
	"github.com/contactdir/contactdir-server/internal/sync/coordinator"
	"github.com/contactdir/contactdir-server/internal/sync/state"
	"github.com/contactdir/contactdir-server/internal/telemetry"
)

const (
	defaultHTTPAddress    = ":8080"
	defaultRequestTimeout = 10 * time.Second
	defaultReadTimeout    = 10 * time.Second
	defaultWriteTimeout   = 15 * time.Second
	defaultIdleTimeout    = 60 * time.Second
)

// DirectoryAppOptions is a function that configures the directory app builder
type DirectoryAppOptions func(*directoryAppConfig) error

// directoryAppConfig collects the builder inputs. Component overrides are
// primarily used by tests; production builds everything from config.
type directoryAppConfig struct {
	config *config.Config

	// Optional component overrides
	source         sources.Source
	storageFactory storage.Factory
	publisher      events.Publisher
	coordOpts      []coordinator.Option

	// HTTP server options
	address        string
	middlewares    []func(http.Handler) http.Handler
	requestTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration

	// Telemetry components
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	metricsHandler http.Handler
}

func baseConfig(opts ...DirectoryAppOptions) (*directoryAppConfig, error) {
	cfg := &directoryAppConfig{
		address:        defaultHTTPAddress,
		requestTimeout: defaultRequestTimeout,
		readTimeout:    defaultReadTimeout,
		writeTimeout:   defaultWriteTimeout,
		idleTimeout:    defaultIdleTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// NewDirectoryApp builds the application: contact store, sync tracker,
// reconciler, coordinator, directory service and HTTP server
func NewDirectoryApp(
	ctx context.Context,
	opts ...DirectoryAppOptions,
) (*DirectoryApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}
	if cfg.config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if cfg.storageFactory == nil {
		cfg.storageFactory, err = storage.NewStorageFactory(cfg.config)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage factory: %w", err)
		}
	}

	// Ensure cleanup happens on error
	components := &AppComponents{}
	cleanupNeeded := true
	defer func() {
		if cleanupNeeded {
			if components.Publisher != nil {
				_ = components.Publisher.Close()
			}
			cfg.storageFactory.Cleanup()
		}
	}()

	components.Store, err = cfg.storageFactory.CreateStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create contact store: %w", err)
	}

	components.DirectoryService = buildDirectoryService(cfg, components)

	components.Publisher, err = buildPublisher(cfg, components.DirectoryService)
	if err != nil {
		return nil, fmt.Errorf("failed to build event publisher: %w", err)
	}

	components.SyncCoordinator, err = buildSyncComponents(ctx, cfg, components)
	if err != nil {
		return nil, fmt.Errorf("failed to build sync components: %w", err)
	}

	httpServer, err := buildHTTPServer(ctx, cfg, components)
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	appCtx, cancel := context.WithCancel(ctx)
	cleanupNeeded = false

	return &DirectoryApp{
		config:     cfg.config,
		components: components,
		httpServer: httpServer,
		ctx:        appCtx,
		cancelFunc: cancel,
		cleanup: func() {
			if err := components.Publisher.Close(); err != nil {
				slog.Warn("Failed to close event publisher", "error", err)
			}
			cfg.storageFactory.Cleanup()
		},
	}, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) DirectoryAppOptions {
	return func(cfg *directoryAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress sets the HTTP server address
func WithAddress(addr string) DirectoryAppOptions {
	return func(cfg *directoryAppConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return fmt.Errorf("address is not a valid host:port: %w", err)
		}
		if port == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		if _, err := net.LookupPort("tcp", port); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}
		if host != "" && host != "localhost" && net.ParseIP(host) == nil {
			return fmt.Errorf("address host is not an IP address: %s", host)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares sets custom HTTP middlewares, replacing the defaults
func WithMiddlewares(mw ...func(http.Handler) http.Handler) DirectoryAppOptions {
	return func(cfg *directoryAppConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithSource allows injecting the remote contact source (for testing)
func WithSource(s sources.Source) DirectoryAppOptions {
	return func(cfg *directoryAppConfig) error {
		cfg.source = s
		return nil
	}
}

// WithStorageFactory allows injecting a custom storage factory (for testing)
func WithStorageFactory(f storage.Factory) DirectoryAppOptions {
	return func(cfg *directoryAppConfig) error {
		cfg.storageFactory = f
		return nil
	}
}

// WithPublisher replaces the publishers built from the events configuration
func WithPublisher(p events.Publisher) DirectoryAppOptions {
	return func(cfg *directoryAppConfig) error {
		cfg.publisher = p
		return nil
	}
}

// WithCoordinatorOptions passes extra options to the sync coordinator
func WithCoordinatorOptions(opts ...coordinator.Option) DirectoryAppOptions {
	return func(cfg *directoryAppConfig) error {
		cfg.coordOpts = append(cfg.coordOpts, opts...)
		return nil
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider for HTTP, sync and directory metrics
func WithMeterProvider(mp metric.MeterProvider) DirectoryAppOptions {
	return func(cfg *directoryAppConfig) error {
		cfg.meterProvider = mp
		return nil
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider for HTTP, sync and directory spans
func WithTracerProvider(tp trace.TracerProvider) DirectoryAppOptions {
	return func(cfg *directoryAppConfig) error {
		cfg.tracerProvider = tp
		return nil
	}
}

// WithMetricsHandler serves h on /metrics
func WithMetricsHandler(h http.Handler) DirectoryAppOptions {
	return func(cfg *directoryAppConfig) error {
		cfg.metricsHandler = h
		return nil
	}
}

// buildDirectoryService builds the read side over the contact store
func buildDirectoryService(b *directoryAppConfig, c *AppComponents) directory.Service {
	var opts []directory.ServiceOption
	if b.tracerProvider != nil {
		opts = append(opts, directory.WithTracerProvider(b.tracerProvider))
	}
	return directory.NewService(c.Store, b.config.GetDirectoryName(), opts...)
}

// buildPublisher builds the sync event publishers. The directory gauge is
// refreshed by a publisher so it follows every finished attempt.
func buildPublisher(b *directoryAppConfig, svc directory.Service) (events.Publisher, error) {
	publisher := b.publisher
	if publisher == nil {
		var err error
		publisher, err = events.New(b.config.Events)
		if err != nil {
			return nil, err
		}
	}

	if b.meterProvider == nil {
		return publisher, nil
	}

	dirMetrics, err := telemetry.NewDirectoryMetrics(b.meterProvider)
	if err != nil {
		_ = publisher.Close()
		return nil, fmt.Errorf("failed to create directory metrics: %w", err)
	}
	slog.Info("Directory metrics enabled")
	return events.NewMultiPublisher(
		publisher,
		directory.NewMetricsRecorder(svc, b.config.GetDirectoryName(), dirMetrics),
	), nil
}

// buildSyncComponents builds the tracker, reconciler and coordinator
func buildSyncComponents(
	ctx context.Context,
	b *directoryAppConfig,
	c *AppComponents,
) (coordinator.Coordinator, error) {
	slog.Info("Initializing sync components")

	if b.source == nil {
		src, err := sources.New(ctx, &b.config.Source)
		if err != nil {
			return nil, fmt.Errorf("failed to create contact source: %w", err)
		}
		b.source = src
	}

	tracker := state.NewTracker(c.Store)
	if err := tracker.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize sync state: %w", err)
	}

	reconciler := pkgsync.NewReconciler(b.source, c.Store,
		pkgsync.WithBatchSize(b.config.Sync.BatchSize),
		pkgsync.WithPageDelay(b.config.Sync.GetDelay()),
	)

	coordOpts := []coordinator.Option{coordinator.WithPublisher(c.Publisher)}
	if b.meterProvider != nil {
		syncMetrics, err := telemetry.NewSyncMetrics(b.meterProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create sync metrics: %w", err)
		}
		coordOpts = append(coordOpts, coordinator.WithSyncMetrics(syncMetrics))
		slog.Info("Sync metrics enabled")
	}
	if b.tracerProvider != nil {
		coordOpts = append(coordOpts, coordinator.WithTracer(b.tracerProvider.Tracer(coordinator.TracerName)))
	}
	coordOpts = append(coordOpts, b.coordOpts...)

	syncCoordinator := coordinator.New(reconciler, tracker, b.config, coordOpts...)
	slog.Info("Sync components initialized successfully")

	return syncCoordinator, nil
}

// buildHTTPServer builds the HTTP server with router and middleware
//
//nolint:unparam // we prefer having a similar interface
func buildHTTPServer(
	_ context.Context,
	b *directoryAppConfig,
	c *AppComponents,
) (*http.Server, error) {
	slog.Info("Initializing HTTP server")

	middlewares := b.middlewares
	if middlewares == nil {
		middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(b.requestTimeout),
			api.LoggingMiddleware,
		}
	}

	// Tracing and metrics come first to observe every request
	if b.tracerProvider != nil {
		middlewares = append([]func(http.Handler) http.Handler{telemetry.TracingMiddleware(b.tracerProvider)}, middlewares...)
	}
	if b.meterProvider != nil {
		metricsMiddleware, err := telemetry.MetricsMiddleware(b.meterProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics middleware: %w", err)
		}
		middlewares = append([]func(http.Handler) http.Handler{metricsMiddleware}, middlewares...)
		slog.Info("HTTP metrics middleware enabled")
	}

	if cors := b.config.CORS; cors != nil && len(cors.AllowedOrigins) > 0 {
		middlewares = append(middlewares, api.CORSMiddleware(cors.AllowedOrigins))
	}

	serverOpts := []api.ServerOption{api.WithMiddlewares(middlewares...)}
	if b.metricsHandler != nil {
		serverOpts = append(serverOpts, api.WithMetricsHandler(b.metricsHandler))
	}
	router := api.NewServer(c.DirectoryService, c.SyncCoordinator, serverOpts...)

	server := &http.Server{
		Addr:         b.address,
		Handler:      router,
		ReadTimeout:  b.readTimeout,
		WriteTimeout: b.writeTimeout,
		IdleTimeout:  b.idleTimeout,
	}

	slog.Info("HTTP server configured", "address", b.address)
	return server, nil
}
