package temporal

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	// AwaitExportPaymentWorkflowName is the registered workflow type.
	AwaitExportPaymentWorkflowName = "AwaitExportPaymentWorkflow"

	// SweepPaymentsWorkflowName is the workflow run by the sweep schedule.
	SweepPaymentsWorkflowName = "SweepPaymentsWorkflow"

	defaultPollInterval = 5 * time.Second

	// checks after the deadline before giving up on a request that never
	// leaves pending
	maxChecksPastDeadline = 3
)

// AwaitExportPaymentInput contains input for awaiting an export payment.
type AwaitExportPaymentInput struct {
	RequestID    string        `json:"request_id"`
	PollInterval time.Duration `json:"poll_interval"`
}

// AwaitExportPaymentResult contains the final state of the request.
type AwaitExportPaymentResult struct {
	RequestID            string        `json:"request_id"`
	Status               string        `json:"status"` // "paid", "expired", "failed"
	TransactionSignature string        `json:"transaction_signature,omitempty"`
	PaidAt               *time.Time    `json:"paid_at,omitempty"`
	Checks               int           `json:"checks"`
	Duration             time.Duration `json:"duration"`
}

// AwaitExportPaymentWorkflow checks a payment request every poll interval
// until it is paid, expires or fails. Expiry is enforced by the payment gate
// on every check, so the loop always ends shortly after the deadline.
func AwaitExportPaymentWorkflow(ctx workflow.Context, input AwaitExportPaymentInput) (*AwaitExportPaymentResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("AwaitExportPaymentWorkflow started", "request_id", input.RequestID)

	interval := input.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    10 * time.Second,
			MaximumAttempts:    3,
		},
	})

	started := workflow.Now(ctx)
	result := &AwaitExportPaymentResult{RequestID: input.RequestID}
	pastDeadline := 0

	for {
		var check *CheckExportPaymentResult
		err := workflow.ExecuteActivity(ctx, "CheckExportPayment", CheckExportPaymentInput{
			RequestID: input.RequestID,
		}).Get(ctx, &check)
		result.Checks++
		if err != nil {
			logger.Error("payment check failed", "request_id", input.RequestID, "error", err)
			result.Status = "failed"
			result.Duration = workflow.Now(ctx).Sub(started)
			return result, fmt.Errorf("payment check failed: %w", err)
		}

		if check.Terminal() {
			result.Status = check.Status
			result.TransactionSignature = check.TransactionSignature
			result.PaidAt = check.PaidAt
			result.Duration = workflow.Now(ctx).Sub(started)
			logger.Info("export payment resolved",
				"request_id", input.RequestID,
				"status", result.Status,
				"checks", result.Checks,
			)
			return result, nil
		}

		if workflow.Now(ctx).After(check.ExpiresAt) {
			pastDeadline++
			if pastDeadline > maxChecksPastDeadline {
				result.Status = check.Status
				result.Duration = workflow.Now(ctx).Sub(started)
				return result, fmt.Errorf("payment request %s still pending after its deadline", input.RequestID)
			}
		}

		if err := workflow.Sleep(ctx, interval); err != nil {
			return result, err
		}
	}
}

// SweepPaymentsWorkflow runs one payment sweep. It is started by the
// schedule created with Client.UpsertSweepSchedule.
func SweepPaymentsWorkflow(ctx workflow.Context) (*SweepPaymentsResult, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})

	var res *SweepPaymentsResult
	if err := workflow.ExecuteActivity(ctx, "SweepPayments").Get(ctx, &res); err != nil {
		return nil, fmt.Errorf("payment sweep failed: %w", err)
	}
	return res, nil
}
