package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/soltax/service/metrics"
	"github.com/shopspring/decimal"
)

// LiveSource fetches current USD prices. It is best-effort: a call may fail
// or return only some of the requested symbols.
type LiveSource interface {
	FetchPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
}

// Refresher periodically overwrites table entries with live prices.
type Refresher struct {
	table    *Table
	source   LiveSource
	symbols  []string
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// RefresherConfig controls the refresh loop.
type RefresherConfig struct {
	Symbols  []string
	Interval time.Duration
	Timeout  time.Duration
}

// NewRefresher creates a refresher. Zero values default to a five minute
// interval, a thirty second per-refresh timeout and every symbol currently in
// the table.
func NewRefresher(table *Table, source LiveSource, cfg RefresherConfig, logger *slog.Logger, m *metrics.Metrics) *Refresher {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if len(cfg.Symbols) == 0 {
		cfg.Symbols = table.Symbols()
	}
	return &Refresher{
		table:    table,
		source:   source,
		symbols:  cfg.Symbols,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		logger:   logger,
		metrics:  m,
	}
}

// Refresh fetches live prices once and replaces the returned entries. On
// error the table is left untouched.
func (r *Refresher) Refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	prices, err := r.source.FetchPrices(ctx, r.symbols)
	if err != nil {
		r.metrics.RecordPriceRefresh("error")
		r.logger.WarnContext(ctx, "price refresh failed, keeping previous prices",
			"error", err,
			"symbols", len(r.symbols),
		)
		return fmt.Errorf("failed to fetch live prices: %w", err)
	}

	updated := 0
	for _, sym := range r.symbols {
		p, ok := prices[sym]
		if !ok {
			continue
		}
		if r.table.Set(sym, p) {
			updated++
			r.metrics.RecordTokenPrice(sym, p.InexactFloat64())
		}
	}

	status := "success"
	if updated < len(r.symbols) {
		status = "partial"
	}
	r.metrics.RecordPriceRefresh(status)
	r.logger.DebugContext(ctx, "price table refreshed",
		"updated", updated,
		"requested", len(r.symbols),
	)
	return nil
}

// Start runs one refresh immediately and then one per interval until Stop
// is called or ctx is cancelled. Calling Start twice is a no-op.
func (r *Refresher) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		_ = r.Refresh(ctx)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = r.Refresh(ctx)
			}
		}
	}()

	r.logger.Info("price refresher started", "interval", r.interval, "symbols", r.symbols)
}

// Stop halts the loop and waits for an in-flight refresh to finish.
func (r *Refresher) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
