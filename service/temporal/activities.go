package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/soltax/service/payment"
	"go.temporal.io/sdk/temporal"
)

// CheckExportPaymentInput contains parameters for the CheckExportPayment activity.
type CheckExportPaymentInput struct {
	RequestID string `json:"request_id"`
}

// CheckExportPaymentResult is a snapshot of a payment request after a check.
type CheckExportPaymentResult struct {
	RequestID            string     `json:"request_id"`
	Status               string     `json:"status"`
	TransactionSignature string     `json:"transaction_signature,omitempty"`
	PaidAt               *time.Time `json:"paid_at,omitempty"`
	ExpiresAt            time.Time  `json:"expires_at"`
}

// Terminal reports whether the request can no longer change.
func (r *CheckExportPaymentResult) Terminal() bool {
	return payment.Status(r.Status).Terminal()
}

// SweepPaymentsResult contains the result of the SweepPayments activity.
type SweepPaymentsResult struct {
	Expired int `json:"expired"`
	Purged  int `json:"purged"`
}

// PaymentChecker is the part of payment.Gate the activities need.
type PaymentChecker interface {
	CheckStatus(ctx context.Context, id string) (*payment.Request, error)
}

// PaymentSweeper runs one expiry and retention pass.
type PaymentSweeper interface {
	Sweep(ctx context.Context) (payment.SweepResult, error)
}

// Activities holds the dependencies needed by Temporal activities.
type Activities struct {
	checker PaymentChecker
	sweeper PaymentSweeper
	logger  *slog.Logger
}

// NewActivities creates a new Activities instance. A nil sweeper disables
// SweepPayments.
func NewActivities(checker PaymentChecker, sweeper PaymentSweeper, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		checker: checker,
		sweeper: sweeper,
		logger:  logger,
	}
}

// CheckExportPayment runs one payment check. A missing request fails
// without retries.
func (a *Activities) CheckExportPayment(ctx context.Context, input CheckExportPaymentInput) (*CheckExportPaymentResult, error) {
	req, err := a.checker.CheckStatus(ctx, input.RequestID)
	if errors.Is(err, payment.ErrNotFound) {
		return nil, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("payment request %s not found", input.RequestID), "NotFound", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check payment %s: %w", input.RequestID, err)
	}

	a.logger.DebugContext(ctx, "checked export payment",
		"request_id", req.ID,
		"status", req.Status,
	)

	res := &CheckExportPaymentResult{
		RequestID:            req.ID,
		Status:               string(req.Status),
		TransactionSignature: req.TransactionSignature,
		ExpiresAt:            req.ExpiresAt,
	}
	if req.PaidAt != nil {
		t := *req.PaidAt
		res.PaidAt = &t
	}
	return res, nil
}

// SweepPayments expires overdue requests and purges settled ones.
func (a *Activities) SweepPayments(ctx context.Context) (*SweepPaymentsResult, error) {
	if a.sweeper == nil {
		return nil, temporal.NewNonRetryableApplicationError("payment sweeper not configured", "NotConfigured", nil)
	}
	res, err := a.sweeper.Sweep(ctx)
	if err != nil {
		return nil, fmt.Errorf("payment sweep failed: %w", err)
	}
	if res.Expired > 0 || res.Purged > 0 {
		a.logger.InfoContext(ctx, "payment sweep completed",
			"expired", res.Expired,
			"purged", res.Purged,
		)
	}
	return &SweepPaymentsResult{Expired: res.Expired, Purged: res.Purged}, nil
}
