package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/brojonat/soltax/service/metrics"
	"github.com/google/uuid"
)

// Defaults for Config zero values.
const (
	DefaultAmountLamports = 100_000_000 // 0.1 SOL
	DefaultTimeout        = 15 * time.Minute
	DefaultRetention      = time.Hour
	DefaultLookback       = 10
)

// Config fixes the terms of every request a Gate creates.
type Config struct {
	PaymentAddress string
	AmountLamports uint64
	Timeout        time.Duration
	Retention      time.Duration
	Lookback       int
}

func (c Config) withDefaults() Config {
	if c.AmountLamports == 0 {
		c.AmountLamports = DefaultAmountLamports
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.Lookback <= 0 {
		c.Lookback = DefaultLookback
	}
	return c
}

// Transfer is a recent transaction touching the payment address.
type Transfer struct {
	Signature string
	BlockTime time.Time
	Received  int64 // lamport delta at the payment address; negative for outflows
	Failed    bool
}

// TransferSource queries chain activity at the payment address. Results are
// most-recent-first and bounded by limit; transfers at or before since may be
// omitted.
type TransferSource interface {
	FetchRecentIncomingTransfers(ctx context.Context, address string, since time.Time, limit int) ([]Transfer, error)
}

// EventPublisher is notified after every state change. Publishing is
// best-effort.
type EventPublisher interface {
	PublishPaymentEvent(ctx context.Context, r *Request) error
}

// Timer is the handle of a scheduled expiry check.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

// Option customizes a Gate.
type Option func(*Gate)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithAfterFunc replaces time.AfterFunc for expiry scheduling.
func WithAfterFunc(f AfterFunc) Option {
	return func(g *Gate) { g.afterFunc = f }
}

// WithEvents publishes state changes to p.
func WithEvents(p EventPublisher) Option {
	return func(g *Gate) { g.events = p }
}

// WithMetrics records transitions and checks to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

// Gate is the payment-request state machine guarding exports.
//
// Requests move pending → paid when a qualifying transfer is observed, or
// pending → expired once the clock passes ExpiresAt. Both states are final.
// Work on a single request is serialized by a per-id lock and the store only
// applies transitions to pending requests.
type Gate struct {
	cfg    Config
	store  Store
	chain  TransferSource
	logger *slog.Logger

	now       func() time.Time
	afterFunc AfterFunc
	events    EventPublisher
	metrics   *metrics.Metrics

	locks *keyedMutex

	timersMu sync.Mutex
	timers   map[string]Timer
	closed   bool
}

// NewGate creates a gate over store, verifying payments against chain.
func NewGate(cfg Config, store Store, chain TransferSource, logger *slog.Logger, opts ...Option) *Gate {
	g := &Gate{
		cfg:    cfg.withDefaults(),
		store:  store,
		chain:  chain,
		logger: logger,
		now:    time.Now,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
		locks:  newKeyedMutex(),
		timers: make(map[string]Timer),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Config returns the effective configuration.
func (g *Gate) Config() Config {
	return g.cfg
}

// Create opens a pending request and schedules its expiry. If the request
// cannot be stored it is returned with status failed alongside the error.
func (g *Gate) Create(ctx context.Context, exportType ExportType, wallet string, dr DateRange) (*Request, error) {
	if exportType != ExportCSV && exportType != ExportPDF {
		return nil, fmt.Errorf("%w: unsupported export type %q", ErrInvalidRequest, exportType)
	}
	if strings.TrimSpace(wallet) == "" {
		return nil, fmt.Errorf("%w: wallet address is required", ErrInvalidRequest)
	}
	if dr.End.Before(dr.Start) {
		return nil, fmt.Errorf("%w: date range end precedes start", ErrInvalidRequest)
	}
	if g.cfg.PaymentAddress == "" {
		return nil, fmt.Errorf("%w: no payment address configured", ErrInvalidRequest)
	}

	now := g.now()
	req := &Request{
		ID:             uuid.New().String(),
		ExportType:     exportType,
		WalletAddress:  wallet,
		DateRange:      dr,
		AmountLamports: g.cfg.AmountLamports,
		Status:         StatusPending,
		PaymentAddress: g.cfg.PaymentAddress,
		CreatedAt:      now,
		ExpiresAt:      now.Add(g.cfg.Timeout),
	}

	if err := g.store.Create(ctx, req); err != nil {
		req.Status = StatusFailed
		g.metrics.RecordPaymentTransition(string(StatusFailed))
		return req, fmt.Errorf("failed to store payment request: %w", err)
	}

	g.scheduleExpiry(req)
	g.metrics.RecordPaymentTransition(string(StatusPending))
	g.publish(ctx, req)

	g.logger.InfoContext(ctx, "payment request created",
		"id", req.ID,
		"export_type", req.ExportType,
		"wallet", req.WalletAddress,
		"amount_lamports", req.AmountLamports,
		"expires_at", req.ExpiresAt,
	)
	return req, nil
}

// Get returns the request without querying the chain.
func (g *Gate) Get(ctx context.Context, id string) (*Request, error) {
	return g.store.Get(ctx, id)
}

// CheckStatus resolves the request against the clock and the chain. Paid and
// expired requests are returned unchanged. Chain query failures leave the
// request pending and are not returned to the caller.
func (g *Gate) CheckStatus(ctx context.Context, id string) (*Request, error) {
	unlock := g.locks.Lock(id)
	defer unlock()

	req, err := g.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status.Terminal() {
		return req, nil
	}

	now := g.now()
	if now.After(req.ExpiresAt) {
		return g.expire(ctx, req)
	}

	transfers, err := g.chain.FetchRecentIncomingTransfers(ctx, req.PaymentAddress, req.CreatedAt, g.cfg.Lookback)
	if err != nil {
		g.metrics.RecordPaymentCheck("chain_error")
		g.logger.WarnContext(ctx, "payment check failed, request stays pending",
			"id", id,
			"error", err,
		)
		return req, nil
	}

	for _, tr := range transfers {
		if tr.Failed || !tr.BlockTime.After(req.CreatedAt) || tr.Received < int64(req.AmountLamports) {
			continue
		}

		paid, err := g.store.MarkPaid(ctx, id, tr.Signature, now)
		switch {
		case errors.Is(err, ErrSignatureClaimed):
			continue
		case errors.Is(err, ErrNotPending):
			return paid, nil
		case err != nil:
			return nil, fmt.Errorf("failed to mark payment request paid: %w", err)
		}

		g.cancelExpiry(id)
		g.metrics.RecordPaymentCheck("paid")
		g.metrics.RecordPaymentTransition(string(StatusPaid))
		g.metrics.RecordPaymentAwait(string(StatusPaid), now.Sub(paid.CreatedAt).Seconds())
		g.publish(ctx, paid)
		g.logger.InfoContext(ctx, "payment received",
			"id", id,
			"signature", tr.Signature,
			"received_lamports", tr.Received,
		)
		return paid, nil
	}

	g.metrics.RecordPaymentCheck("no_match")
	return req, nil
}

// AuthorizeExport returns the paid request backing an export of exportType
// for wallet over dr. A request unlocks exactly the range it was created for
// and only until its export has been delivered. It never queries the chain.
func (g *Gate) AuthorizeExport(ctx context.Context, id, wallet string, exportType ExportType, dr DateRange) (*Request, error) {
	req, err := g.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case req.Status != StatusPaid:
		return nil, fmt.Errorf("%w: request %s is %s", ErrPaymentRequired, id, req.Status)
	case req.ConsumedAt != nil:
		return nil, fmt.Errorf("%w: request %s was already used for an export", ErrPaymentRequired, id)
	case req.WalletAddress != wallet:
		return nil, fmt.Errorf("%w: request %s was made for a different wallet", ErrPaymentRequired, id)
	case req.ExportType != exportType:
		return nil, fmt.Errorf("%w: request %s unlocks %s exports, not %s", ErrPaymentRequired, id, req.ExportType, exportType)
	case !req.DateRange.Equal(dr):
		return nil, fmt.Errorf("%w: request %s was made for a different date range", ErrPaymentRequired, id)
	}
	return req, nil
}

// ConsumeExport marks a paid request as used once its export has been
// rendered. Only the first call succeeds; concurrent exports racing on one
// request lose with ErrPaymentRequired.
func (g *Gate) ConsumeExport(ctx context.Context, id string) (*Request, error) {
	req, err := g.store.MarkConsumed(ctx, id, g.now())
	switch {
	case errors.Is(err, ErrAlreadyConsumed):
		return nil, fmt.Errorf("%w: request %s was already used for an export", ErrPaymentRequired, id)
	case err != nil:
		return nil, err
	}
	g.metrics.RecordPaymentTransition("consumed")
	g.logger.InfoContext(ctx, "payment request consumed", "id", id, "export_type", req.ExportType)
	return req, nil
}

// ExpireDue expires every pending request whose deadline has passed. It
// returns the number of requests expired.
func (g *Gate) ExpireDue(ctx context.Context) (int, error) {
	pending, err := g.store.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending payment requests: %w", err)
	}

	now := g.now()
	n := 0
	for _, r := range pending {
		if !now.After(r.ExpiresAt) {
			continue
		}
		if expired, err := g.expireByID(ctx, r.ID); err != nil {
			g.logger.WarnContext(ctx, "failed to expire payment request", "id", r.ID, "error", err)
		} else if expired {
			n++
		}
	}
	return n, nil
}

// Purge deletes settled requests older than the retention window. Pending
// requests are never purged.
func (g *Gate) Purge(ctx context.Context) (int, error) {
	cutoff := g.now().Add(-g.cfg.Retention)
	n, err := g.store.DeleteSettledBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge payment requests: %w", err)
	}
	g.metrics.RecordPaymentsPurged(n)
	if n > 0 {
		g.logger.InfoContext(ctx, "purged settled payment requests", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

// Close cancels every scheduled expiry check. The sweeper still expires
// overdue requests.
func (g *Gate) Close() {
	g.timersMu.Lock()
	defer g.timersMu.Unlock()
	g.closed = true
	for id, t := range g.timers {
		t.Stop()
		delete(g.timers, id)
	}
}

// expire transitions req, which the caller holds the lock for.
func (g *Gate) expire(ctx context.Context, req *Request) (*Request, error) {
	expired, err := g.store.MarkExpired(ctx, req.ID)
	if errors.Is(err, ErrNotPending) {
		return expired, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to expire payment request: %w", err)
	}

	g.cancelExpiry(req.ID)
	g.metrics.RecordPaymentTransition(string(StatusExpired))
	g.metrics.RecordPaymentAwait(string(StatusExpired), g.now().Sub(expired.CreatedAt).Seconds())
	g.publish(ctx, expired)
	g.logger.InfoContext(ctx, "payment request expired", "id", req.ID)
	return expired, nil
}

// expireByID is the timer and sweeper path. It reports whether a transition
// happened.
func (g *Gate) expireByID(ctx context.Context, id string) (bool, error) {
	unlock := g.locks.Lock(id)
	defer unlock()

	req, err := g.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if req.Status != StatusPending || !g.now().After(req.ExpiresAt) {
		return false, nil
	}
	out, err := g.expire(ctx, req)
	if err != nil {
		return false, err
	}
	return out.Status == StatusExpired, nil
}

func (g *Gate) scheduleExpiry(req *Request) {
	g.timersMu.Lock()
	defer g.timersMu.Unlock()
	if g.closed {
		return
	}

	id := req.ID
	// Fire just after the deadline so the strict now > ExpiresAt check holds.
	d := req.ExpiresAt.Sub(g.now()) + time.Millisecond
	g.timers[id] = g.afterFunc(d, func() {
		g.timersMu.Lock()
		delete(g.timers, id)
		g.timersMu.Unlock()

		if _, err := g.expireByID(context.Background(), id); err != nil && !errors.Is(err, ErrNotFound) {
			g.logger.Warn("scheduled expiry failed", "id", id, "error", err)
		}
	})
}

func (g *Gate) cancelExpiry(id string) {
	g.timersMu.Lock()
	defer g.timersMu.Unlock()
	if t, ok := g.timers[id]; ok {
		t.Stop()
		delete(g.timers, id)
	}
}

func (g *Gate) publish(ctx context.Context, r *Request) {
	if g.events == nil {
		return
	}
	if err := g.events.PublishPaymentEvent(ctx, r); err != nil {
		g.logger.WarnContext(ctx, "failed to publish payment event",
			"id", r.ID,
			"status", r.Status,
			"error", err,
		)
	}
}
