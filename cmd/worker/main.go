package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/soltax/service/config"
	"github.com/brojonat/soltax/service/db"
	"github.com/brojonat/soltax/service/metrics"
	natspkg "github.com/brojonat/soltax/service/nats"
	"github.com/brojonat/soltax/service/payment"
	"github.com/brojonat/soltax/service/solana"
	"github.com/brojonat/soltax/service/temporal"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	_ = godotenv.Load()

	// Load and validate configuration from environment
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting temporal worker",
		"temporal_host", cfg.TemporalHost,
		"namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
		"log_level", cfg.LogLevel,
	)

	// Requests are created by the server and settled here through the
	// shared database.
	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required for the worker")
		os.Exit(1)
	}
	if cfg.Payment.Address == "" {
		logger.Error("EXPORT_PAYMENT_ADDRESS is required for the worker")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	metricsAddr := getEnv("METRICS_ADDR", ":9091")
	metricsServer := &http.Server{
		Addr:    metricsAddr,
		Handler: promhttp.Handler(),
	}
	go func() {
		logger.Info("starting metrics HTTP server", "addr", metricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", "error", err)
		}
	}()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if _, err := db.Migrate(ctx, pool, logger); err != nil {
		logger.Error("failed to apply migrations", "error", err)
		os.Exit(1)
	}
	store := db.NewStore(pool, m)
	logger.Info("connected to database")

	rpcURL, err := solana.SelectRandomEndpoint(solana.SplitEndpoints(cfg.SolanaRPCURL))
	if err != nil {
		logger.Error("no usable SOLANA_RPC_URL", "error", err)
		os.Exit(1)
	}
	solanaClient := solana.NewClient(solana.NewRPCClient(rpcURL), solana.EndpointLabel(rpcURL), solana.Config{
		FetchTimeout: cfg.FetchTimeout,
	}, m, logger)

	gateOpts := []payment.Option{payment.WithMetrics(m)}
	if cfg.NATSURL != "" {
		publisher, err := natspkg.NewPublisher(cfg.NATSURL, logger, m)
		if err != nil {
			logger.Error("failed to create NATS publisher", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		gateOpts = append(gateOpts, payment.WithEvents(publisher))
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	}

	gate := payment.NewGate(payment.Config{
		PaymentAddress: cfg.Payment.Address,
		AmountLamports: cfg.Payment.AmountLamports,
		Timeout:        cfg.Payment.Timeout,
		Retention:      cfg.Payment.Retention,
		Lookback:       cfg.Payment.Lookback,
	}, store, solanaClient, logger, gateOpts...)
	defer gate.Close()

	w, err := temporal.NewWorker(temporal.WorkerConfig{
		TemporalHost:      cfg.TemporalHost,
		TemporalNamespace: cfg.TemporalNamespace,
		TaskQueue:         cfg.TemporalTaskQueue,
		Checker:           gate,
		Sweeper:           payment.NewSweeper(gate, cfg.Payment.SweepInterval, logger),
		Logger:            logger,
	})
	if err != nil {
		logger.Error("failed to create temporal worker", "error", err)
		os.Exit(1)
	}

	// Expiry and retention run on one Temporal schedule shared by all workers.
	schedules := temporal.NewClientFromSDK(w.Client(), cfg.TemporalTaskQueue, logger)
	if err := schedules.UpsertSweepSchedule(ctx, cfg.Payment.SweepInterval); err != nil {
		logger.Error("failed to upsert payment sweep schedule", "error", err)
		os.Exit(1)
	}

	logger.Info("temporal worker initialized, all dependencies ready",
		"rpc_endpoint", solana.EndpointLabel(rpcURL),
		"sweep_interval", cfg.Payment.SweepInterval,
	)

	workerErrors := make(chan error, 1)
	go func() {
		workerErrors <- w.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-workerErrors:
		if err != nil {
			logger.Error("temporal worker error", "error", err)
			os.Exit(1)
		}
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
		w.Stop()
		logger.Info("shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// getEnv returns the value of an environment variable or a default if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
