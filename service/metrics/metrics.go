package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// It is passed explicitly to every component that records metrics; a nil
// *Metrics is valid and records nothing.
type Metrics struct {
	// Solana RPC
	solanaRPCCallsTotal        *prometheus.CounterVec
	solanaRPCCallDuration      *prometheus.HistogramVec
	solanaRPCRateLimitHits     *prometheus.CounterVec
	solanaRPCRetries           *prometheus.CounterVec
	solanaRPCSignaturesPerCall *prometheus.HistogramVec

	// Classification
	envelopesFetchedTotal  prometheus.Counter
	envelopesSkippedTotal  *prometheus.CounterVec
	transactionsClassified *prometheus.CounterVec

	// Pricing
	priceRefreshesTotal *prometheus.CounterVec
	tokenPriceUSD       *prometheus.GaugeVec

	// Payments
	paymentTransitionsTotal *prometheus.CounterVec
	paymentChecksTotal      *prometheus.CounterVec
	paymentsPurgedTotal     prometheus.Counter
	paymentAwaitDuration    *prometheus.HistogramVec

	// Exports
	exportsTotal *prometheus.CounterVec

	// Database
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		solanaRPCRateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_rate_limit_hits_total",
				Help: "Total number of Solana RPC rate limit hits (429 errors)",
			},
			[]string{"endpoint"},
		),
		solanaRPCRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_retries_total",
				Help: "Total number of Solana RPC retry attempts",
			},
			[]string{"method", "reason"},
		),
		solanaRPCSignaturesPerCall: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_signatures_per_call",
				Help:    "Number of signatures fetched per GetSignaturesForAddress call",
				Buckets: []float64{1, 10, 50, 100, 250, 500, 1000},
			},
			[]string{"endpoint"},
		),

		envelopesFetchedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "envelopes_fetched_total",
				Help: "Total number of raw transaction envelopes fetched",
			},
		),
		envelopesSkippedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "envelopes_skipped_total",
				Help: "Total number of envelopes dropped from a report",
			},
			[]string{"reason"},
		),
		transactionsClassified: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_classified_total",
				Help: "Total number of classified transactions by type and status",
			},
			[]string{"type", "status"},
		),

		priceRefreshesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "price_refreshes_total",
				Help: "Total number of price table refreshes by outcome",
			},
			[]string{"status"},
		),
		tokenPriceUSD: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "token_price_usd",
				Help: "Current USD unit price in the price table",
			},
			[]string{"symbol"},
		),

		paymentTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_transitions_total",
				Help: "Total number of payment request state transitions",
			},
			[]string{"status"},
		),
		paymentChecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_checks_total",
				Help: "Total number of payment status checks by outcome",
			},
			[]string{"outcome"},
		),
		paymentsPurgedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "payments_purged_total",
				Help: "Total number of settled payment requests removed by retention",
			},
		),
		paymentAwaitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payment_await_duration_seconds",
				Help:    "Time from payment request creation to resolution",
				Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 900},
			},
			[]string{"status"},
		),

		exportsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exports_total",
				Help: "Total number of export attempts by format and outcome",
			},
			[]string{"format", "status"},
		),

		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 10, 30},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	if m == nil {
		return
	}
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRateLimitHit records a rate limit hit (429 error).
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	if m == nil {
		return
	}
	m.solanaRPCRateLimitHits.WithLabelValues(endpoint).Inc()
}

// RecordRPCRetry records a retry attempt.
func (m *Metrics) RecordRPCRetry(method, reason string) {
	if m == nil {
		return
	}
	m.solanaRPCRetries.WithLabelValues(method, reason).Inc()
}

// RecordRPCSignaturesPerCall records the number of signatures fetched.
func (m *Metrics) RecordRPCSignaturesPerCall(endpoint string, count float64) {
	if m == nil {
		return
	}
	m.solanaRPCSignaturesPerCall.WithLabelValues(endpoint).Observe(count)
}

// Classification metric helpers

// RecordEnvelopesFetched records envelopes fetched for a report.
func (m *Metrics) RecordEnvelopesFetched(count int) {
	if m == nil {
		return
	}
	m.envelopesFetchedTotal.Add(float64(count))
}

// RecordEnvelopeSkipped records an envelope dropped from a report.
func (m *Metrics) RecordEnvelopeSkipped(reason string) {
	if m == nil {
		return
	}
	m.envelopesSkippedTotal.WithLabelValues(reason).Inc()
}

// RecordClassified records one classified transaction.
func (m *Metrics) RecordClassified(txType, status string) {
	if m == nil {
		return
	}
	m.transactionsClassified.WithLabelValues(txType, status).Inc()
}

// Pricing metric helpers

// RecordPriceRefresh records the outcome of a price table refresh.
func (m *Metrics) RecordPriceRefresh(status string) {
	if m == nil {
		return
	}
	m.priceRefreshesTotal.WithLabelValues(status).Inc()
}

// RecordTokenPrice records the current table price for symbol.
func (m *Metrics) RecordTokenPrice(symbol string, price float64) {
	if m == nil {
		return
	}
	m.tokenPriceUSD.WithLabelValues(symbol).Set(price)
}

// Payment metric helpers

// RecordPaymentTransition records a payment request entering status.
func (m *Metrics) RecordPaymentTransition(status string) {
	if m == nil {
		return
	}
	m.paymentTransitionsTotal.WithLabelValues(status).Inc()
}

// RecordPaymentCheck records the outcome of one chain check.
func (m *Metrics) RecordPaymentCheck(outcome string) {
	if m == nil {
		return
	}
	m.paymentChecksTotal.WithLabelValues(outcome).Inc()
}

// RecordPaymentsPurged records requests removed by retention.
func (m *Metrics) RecordPaymentsPurged(count int) {
	if m == nil {
		return
	}
	m.paymentsPurgedTotal.Add(float64(count))
}

// RecordPaymentAwait records how long a request took to resolve.
func (m *Metrics) RecordPaymentAwait(status string, duration float64) {
	if m == nil {
		return
	}
	m.paymentAwaitDuration.WithLabelValues(status).Observe(duration)
}

// RecordExport records an export attempt.
func (m *Metrics) RecordExport(format, status string) {
	if m == nil {
		return
	}
	m.exportsTotal.WithLabelValues(format, status).Inc()
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	if m == nil {
		return
	}
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	if m == nil {
		return
	}
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
