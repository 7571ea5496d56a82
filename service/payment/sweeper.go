package payment

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sweeper periodically expires overdue requests and purges settled ones. It
// backs up the per-request expiry timers, which do not survive a restart.
type Sweeper struct {
	gate     *Gate
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a sweeper running every interval (one minute when zero).
func NewSweeper(gate *Gate, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{gate: gate, interval: interval, logger: logger}
}

// SweepResult reports one sweep.
type SweepResult struct {
	Expired int `json:"expired"`
	Purged  int `json:"purged"`
}

// Sweep runs one expiry and retention pass. The timer loop calls exactly
// this.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	expired, err := s.gate.ExpireDue(ctx)
	if err != nil {
		return res, err
	}
	res.Expired = expired

	purged, err := s.gate.Purge(ctx)
	if err != nil {
		return res, err
	}
	res.Purged = purged
	return res, nil
}

// Start begins sweeping until Stop or ctx cancellation.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				res, err := s.Sweep(ctx)
				if err != nil {
					s.logger.WarnContext(ctx, "payment sweep failed", "error", err)
					continue
				}
				if res.Expired > 0 || res.Purged > 0 {
					s.logger.DebugContext(ctx, "payment sweep", "expired", res.Expired, "purged", res.Purged)
				}
			}
		}
	}()
}

// Stop halts the loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
