package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/datahistorian/plantfeed/internal/config"
	"github.com/datahistorian/plantfeed/internal/httpapi"
	"github.com/datahistorian/plantfeed/internal/plantfeed"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("PLANTFEED_CONFIG"))
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	registry, err := plantfeed.NewPostgresRegistry(cfg.CentralDSN)
	if err != nil {
		logger.Error("failed to initialize central registry", "error", err)
		os.Exit(1)
	}
	defer registry.Close()

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector())
	metrics := plantfeed.NewMetrics(promRegistry)

	router := plantfeed.NewRouter(plantfeed.RouterOptions{
		Registry:      registry,
		ResolveDSN:    cfg.ResolveTenantDSN,
		LookupTimeout: cfg.RegistryTimeout,
		Logger:        logger,
		Metrics:       metrics,
	})
	defer router.Close()

	var jobsClient plantfeed.JobsWorkflowClient
	if cfg.JobsServiceURL != "" {
		client, err := plantfeed.NewHTTPJobsClient(plantfeed.JobsClientOptions{BaseURL: cfg.JobsServiceURL})
		if err != nil {
			logger.Error("failed to initialize jobs service client", "error", err)
			os.Exit(1)
		}
		jobsClient = client
	}

	var jobState plantfeed.JobStateBackend
	if cfg.JobStateFile != "" {
		jobState = plantfeed.NewJSONFileJobState(cfg.JobStateFile)
	}
	gateway, err := plantfeed.NewGateway(plantfeed.GatewayOptions{
		SpoolDir:   cfg.SpoolDir,
		State:      jobState,
		JobsClient: jobsClient,
		Logger:     logger,
		Metrics:    metrics,
	})
	if err != nil {
		logger.Error("failed to initialize decision gateway", "error", err)
		os.Exit(1)
	}

	ingestor := plantfeed.NewIngestor(plantfeed.IngestorOptions{
		Router:    router,
		Detector:  plantfeed.NewConflictDetector(logger, metrics),
		Writer:    plantfeed.NewWriter(plantfeed.WriterOptions{BatchSize: cfg.BatchSize, Logger: logger, Metrics: metrics}),
		Optimizer: plantfeed.NewShardOptimizer(logger),
		Gateway:   gateway,
		Logger:    logger,
		Metrics:   metrics,
	})

	server := httpapi.NewServer(httpapi.ServerOptions{
		Ingestor:       ingestor,
		Pools:          router,
		MetricsHandler: promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}),
		Config:         httpapi.ServerConfig{MaxBodyBytes: cfg.MaxBodyBytes},
		Logger:         logger,
	})

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}()

	logger.Info("plantfeed listening", "addr", cfg.ListenAddr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("plantfeed stopped")
}
