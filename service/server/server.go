package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/soltax/service/metrics"
	"github.com/brojonat/soltax/service/report"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PaymentAwaiter starts server-side tracking of a payment request.
// *temporal.Client implements it.
type PaymentAwaiter interface {
	StartAwaitPayment(ctx context.Context, requestID string, pollInterval time.Duration) (string, error)
}

// Server represents the HTTP server for the export service.
type Server struct {
	addr         string
	svc          *report.Service
	awaiter      PaymentAwaiter
	pollInterval time.Duration
	watch        EventWatcher
	ready        func(context.Context) error
	metrics      *metrics.Metrics
	logger       *slog.Logger
	server       *http.Server
}

// Option configures optional server dependencies.
type Option func(*Server)

// WithPaymentAwaiter starts an await workflow for every new payment request.
func WithPaymentAwaiter(a PaymentAwaiter, pollInterval time.Duration) Option {
	return func(s *Server) {
		s.awaiter = a
		s.pollInterval = pollInterval
	}
}

// WithEventWatcher enables the payment event stream endpoint.
func WithEventWatcher(w EventWatcher) Option {
	return func(s *Server) { s.watch = w }
}

// WithReadiness adds a dependency check (usually a database ping) to /health.
func WithReadiness(check func(context.Context) error) Option {
	return func(s *Server) { s.ready = check }
}

// WithMetrics records HTTP metrics and serves /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New creates a new HTTP server over svc.
func New(addr string, svc *report.Service, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		addr:   addr,
		svc:    svc,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the routed handler. Start serves it; tests call it directly.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Wallet history
	mux.Handle("GET /api/transactions/{address}", handleGetTransactions(s.svc, s.logger))
	mux.Handle("GET /api/transactions/{address}/summary", handleGetSummary(s.svc, s.logger))
	mux.Handle("GET /api/transactions/{address}/comprehensive", handleGetComprehensive(s.svc, s.logger))
	mux.Handle("GET /api/wallets/{address}/balance", handleGetBalance(s.svc, s.logger))
	mux.Handle("POST /api/wallets/validate", handleValidateWallet(s.svc, s.logger))

	// Payments
	mux.Handle("POST /api/payments/export", handleCreateExportPayment(s.svc, s.awaiter, s.pollInterval, s.logger))
	mux.Handle("GET /api/payments/{id}/status", handleGetPaymentStatus(s.svc, s.logger))
	mux.Handle("GET /api/payments/{id}", handleGetPayment(s.svc, s.logger))
	if s.watch != nil {
		mux.Handle("GET /api/payments/{id}/events", handleStreamPaymentEvents(s.watch, s.logger))
		s.logger.Info("payment event stream enabled")
	} else {
		s.logger.Warn("NATS not configured, payment event stream disabled")
	}

	// Exports
	mux.Handle("GET /api/exports/preview/{address}", handleExportPreview(s.svc, s.logger))
	mux.Handle("POST /api/exports/{format}", handleExport(s.svc, s.logger))

	mux.Handle("GET /health", handleHealth(s.ready, s.logger))

	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	var handler http.Handler = mux
	if s.metrics != nil {
		handler = metrics.HTTPMetricsMiddleware(s.metrics)(handler)
	}
	return corsMiddleware(handler)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute, // exports fetch up to a year of history before writing
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Disposition")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
