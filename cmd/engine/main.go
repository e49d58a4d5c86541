package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"cdi-alert-engine/internal/config"
	"cdi-alert-engine/internal/engine"
	"cdi-alert-engine/internal/notify"
	"cdi-alert-engine/internal/observability"
	"cdi-alert-engine/internal/repository/mongodb"
	"cdi-alert-engine/internal/sandbox"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := mongodb.Connect(ctx, cfg.Mongo.URL, cfg.Mongo.Database)
	if err != nil {
		logger.Fatal("Failed to connect to document store", zap.Error(err))
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		if err := store.Close(closeCtx); err != nil {
			logger.Warn("Store close failed", zap.Error(err))
		}
	}()

	evaluator, err := sandbox.NewEvaluator(logger)
	if err != nil {
		logger.Fatal("Failed to initialize script evaluator", zap.Error(err))
	}
	defer func() { _ = evaluator.Close() }()

	var notifier engine.Notifier
	if cfg.WorkflowRestURL != "" {
		notifier = notify.NewWorkflowClient(cfg.WorkflowRestURL, notify.DefaultBreakerConfig(), logger)
	} else {
		logger.Info("No workflow endpoint configured, notifications disabled")
	}

	metrics := observability.NewCollector()
	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, metrics, logger)
	}

	svc := engine.New(cfg, store.Queue(), store.Accounts(), store.Results(), evaluator, notifier, metrics, logger)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	if err := svc.Run(ctx); err != nil {
		logger.Fatal("Engine stopped with error", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if level != "" {
		parsed, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, err
		}
		cfg.Level = parsed
	}
	return cfg.Build()
}

func serveMetrics(addr string, metrics *observability.Collector, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	logger.Info("Metrics listener started", zap.String("addr", addr))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Metrics listener failed", zap.Error(err))
	}
}
