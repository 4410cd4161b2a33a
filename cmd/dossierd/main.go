// Package main is the entry point for the dossier workflow server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"

	"github.com/ouvrio/dossier/internal/catalog"
	"github.com/ouvrio/dossier/internal/config"
	"github.com/ouvrio/dossier/internal/engine"
	"github.com/ouvrio/dossier/internal/filestore"
	"github.com/ouvrio/dossier/internal/notify"
	"github.com/ouvrio/dossier/internal/observability"
	"github.com/ouvrio/dossier/internal/store"
	"github.com/ouvrio/dossier/internal/transport"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "dossierd", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Load the product/step/document catalog.
	loader := catalog.NewLoader()
	defs, err := loader.LoadAll(cfg.Catalog.Directories)
	if err != nil {
		logger.Error("catalog loading failed", zap.Error(err))
		return 1
	}
	registry := catalog.NewRegistry(defs)
	metrics.SetCatalogProducts(float64(registry.ProductCount()))
	logger.Info("catalog loaded",
		zap.Int("definitions", len(defs)),
		zap.Int("products", registry.ProductCount()),
	)

	// Persistence.
	st, storeCloser, err := buildStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("store initialization failed", zap.Error(err))
		return 1
	}

	// File storage.
	bucket, err := blob.OpenBucket(ctx, cfg.Files.BucketURL)
	if err != nil {
		logger.Error("file storage initialization failed", zap.Error(err))
		return 1
	}
	files := filestore.NewBlobStorage(bucket, cfg.Files.PublicBaseURL)

	// Event sink.
	sink, sinkCloser, err := buildEventSink(cfg.Events, logger)
	if err != nil {
		logger.Error("event sink initialization failed", zap.Error(err))
		return 1
	}

	// Engine.
	balancer := engine.NewBalancer(st)
	lifecycle := engine.NewLifecycle(st, registry, balancer)
	machine := engine.NewStateMachine(st, registry, lifecycle)
	documents := engine.NewDocuments(st, registry, files)
	orch := engine.NewOrchestrator(st, registry, lifecycle, machine, balancer, documents, sink, logger)

	// HTTP transport.
	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL.Std(), logger)

	readiness := observability.ReadinessChecks{
		CatalogLoaded: func() bool { return registry.ProductCount() > 0 },
	}
	if hc, ok := st.(observability.HealthChecker); ok {
		readiness.Store = hc
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Handler:      transport.NewHandler(orch, logger),
		Authenticate: transport.JWTAuthenticator(cfg.Identity, jwks),
		Metrics:      metrics,
		Readiness:    readiness,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
	}

	// Background tasks.
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	if cfg.Timer.Enabled {
		interval := cfg.Timer.CheckInterval.Std()
		if interval == 0 {
			interval = 60 * time.Second
		}
		processor := engine.NewTimerProcessor(st, registry, orch, interval, logger)
		go processor.Run(bgCtx)
	}

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout.Std()
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Cancel background tasks, then close collaborators.
	bgCancel()

	if sinkCloser != nil {
		sinkCloser()
	}
	if err := bucket.Close(); err != nil {
		logger.Error("file storage close error", zap.Error(err))
	}
	if storeCloser != nil {
		storeCloser()
	}

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildStore creates the persistence store based on config.
func buildStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (store.Store, func(), error) {
	switch cfg.Driver {
	case "memory":
		logger.Info("using in-memory store")
		return store.NewMemoryStore(), nil, nil
	case "postgres", "":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" && cfg.DSNEnv != "" {
			return nil, nil, fmt.Errorf("store: %s environment variable not set", cfg.DSNEnv)
		}
		if dsn == "" {
			logger.Warn("store DSN not configured, using in-memory store")
			return store.NewMemoryStore(), nil, nil
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("store: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime.Std()

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("store: connect: %w", err)
		}

		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("store: ping: %w", err)
		}

		return store.NewPgStore(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store driver: %q", cfg.Driver)
	}
}

// buildEventSink creates the domain event sink based on config.
func buildEventSink(cfg config.EventsConfig, logger *zap.Logger) (notify.EventSink, func(), error) {
	switch cfg.Driver {
	case "log", "":
		return notify.NewLogSink(logger), nil, nil
	case "nats":
		url := os.Getenv(cfg.NATSURLEnv)
		if url == "" {
			url = nats.DefaultURL
		}
		conn, err := nats.Connect(url,
			nats.Name("dossierd"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("events: connect to NATS: %w", err)
		}
		sink := notify.NewNATSSink(conn, cfg.SubjectPrefix)
		logger.Info("publishing events to NATS", zap.String("subject_prefix", cfg.SubjectPrefix))
		return sink, sink.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported events driver: %q", cfg.Driver)
	}
}
