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
	"github.com/brojonat/soltax/service/ledger"
	"github.com/brojonat/soltax/service/metrics"
	natspkg "github.com/brojonat/soltax/service/nats"
	"github.com/brojonat/soltax/service/payment"
	"github.com/brojonat/soltax/service/pricing"
	"github.com/brojonat/soltax/service/report"
	"github.com/brojonat/soltax/service/server"
	"github.com/brojonat/soltax/service/solana"
	"github.com/brojonat/soltax/service/temporal"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	// Payment request store: Postgres when configured, memory otherwise
	var (
		store payment.Store = payment.NewMemoryStore()
		ready func(context.Context) error
	)
	if cfg.DatabaseURL != "" {
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
		pgStore := db.NewStore(pool, m)
		store = pgStore
		ready = pgStore.Ping
		logger.Info("connected to database")
	} else {
		logger.Warn("DATABASE_URL not set, payment requests are kept in memory")
	}

	// Solana RPC client; one endpoint is picked per process
	rpcURL, err := solana.SelectRandomEndpoint(solana.SplitEndpoints(cfg.SolanaRPCURL))
	if err != nil {
		logger.Error("no usable SOLANA_RPC_URL", "error", err)
		os.Exit(1)
	}
	solanaClient := solana.NewClient(solana.NewRPCClient(rpcURL), solana.EndpointLabel(rpcURL), solana.Config{
		Concurrency:    cfg.FetchConcurrency,
		FetchTimeout:   cfg.FetchTimeout,
		SignatureLimit: cfg.SignatureLimit,
	}, m, logger)
	logger.Info("initialized solana RPC client", "endpoint", solana.EndpointLabel(rpcURL))

	// Prices: seeded table refreshed from the live feed
	prices := pricing.NewTable(cfg.PriceSeed, decimal.Zero)
	refresher := pricing.NewRefresher(prices,
		pricing.NewCoinGeckoSource(cfg.PriceAPIURL, &http.Client{Timeout: 15 * time.Second}, logger),
		pricing.RefresherConfig{Interval: cfg.PriceRefreshInterval},
		logger, m)
	refresher.Start(ctx)
	defer refresher.Stop()

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
	if cfg.Payment.Address == "" {
		logger.Warn("EXPORT_PAYMENT_ADDRESS not set, paid exports are unavailable")
	}

	sweeper := payment.NewSweeper(gate, cfg.Payment.SweepInterval, logger)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	svc := report.NewService(solanaClient, ledger.NewClassifier(prices), gate, m, logger)

	opts := []server.Option{server.WithMetrics(m)}
	if ready != nil {
		opts = append(opts, server.WithReadiness(ready))
	}
	if cfg.NATSURL != "" {
		opts = append(opts, server.WithEventWatcher(server.NATSEventWatcher(cfg.NATSURL, logger)))
	}

	// Temporal is optional for the server: without it clients poll the
	// status endpoint themselves.
	temporalClient, err := temporal.NewClient(cfg.TemporalHost, cfg.TemporalNamespace, cfg.TemporalTaskQueue, logger)
	if err != nil {
		logger.Warn("temporal unavailable, payment await workflows disabled",
			"host", cfg.TemporalHost,
			"error", err,
		)
	} else {
		defer temporalClient.Close()
		opts = append(opts, server.WithPaymentAwaiter(temporalClient, cfg.Payment.PollInterval))
		logger.Info("connected to temporal",
			"host", cfg.TemporalHost,
			"namespace", cfg.TemporalNamespace,
			"task_queue", cfg.TemporalTaskQueue,
		)
	}

	httpServer := server.New(cfg.ServerAddr, svc, logger, opts...)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}
		logger.Info("server shutdown complete")
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
