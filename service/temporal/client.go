package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/client"
)

// SweepScheduleID identifies the schedule that runs SweepPaymentsWorkflow.
const SweepScheduleID = "soltax-payment-sweep"

// Client starts and awaits payment workflows.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient dials Temporal.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	return NewClientFromSDK(c, taskQueue, logger), nil
}

// NewClientFromSDK wraps an existing SDK client.
func NewClientFromSDK(c client.Client, taskQueue string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{client: c, taskQueue: taskQueue, logger: logger}
}

// AwaitWorkflowID is the workflow id used for a request. Starting twice for
// the same request attaches to the running execution.
func AwaitWorkflowID(requestID string) string {
	return "await-export-payment-" + requestID
}

// StartAwaitPayment starts AwaitExportPaymentWorkflow for a request and
// returns the run id.
func (c *Client) StartAwaitPayment(ctx context.Context, requestID string, pollInterval time.Duration) (string, error) {
	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        AwaitWorkflowID(requestID),
		TaskQueue: c.taskQueue,
	}, AwaitExportPaymentWorkflowName, AwaitExportPaymentInput{
		RequestID:    requestID,
		PollInterval: pollInterval,
	})
	if err != nil {
		return "", fmt.Errorf("failed to start payment workflow for %s: %w", requestID, err)
	}

	c.logger.InfoContext(ctx, "payment workflow started",
		"request_id", requestID,
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
	)
	return run.GetRunID(), nil
}

// AwaitPayment blocks until the request's workflow completes.
func (c *Client) AwaitPayment(ctx context.Context, requestID string) (*AwaitExportPaymentResult, error) {
	var result AwaitExportPaymentResult
	if err := c.client.GetWorkflow(ctx, AwaitWorkflowID(requestID), "").Get(ctx, &result); err != nil {
		return nil, fmt.Errorf("payment workflow for %s failed: %w", requestID, err)
	}
	return &result, nil
}

// UpsertSweepSchedule creates the payment sweep schedule, or updates its
// interval when it already exists.
func (c *Client) UpsertSweepSchedule(ctx context.Context, interval time.Duration) error {
	handle := c.client.ScheduleClient().GetHandle(ctx, SweepScheduleID)
	if _, err := handle.Describe(ctx); err != nil {
		c.logger.Debug("sweep schedule not found, creating", "schedule_id", SweepScheduleID, "error", err)

		_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
			ID: SweepScheduleID,
			Spec: client.ScheduleSpec{
				Intervals: []client.ScheduleIntervalSpec{{Every: interval}},
			},
			Action: &client.ScheduleWorkflowAction{
				ID:        "sweep-payments",
				Workflow:  SweepPaymentsWorkflowName,
				TaskQueue: c.taskQueue,
			},
			Memo: map[string]interface{}{
				"created_by": "soltax",
			},
		})
		if err != nil {
			return fmt.Errorf("failed to create schedule %q: %w", SweepScheduleID, err)
		}
		c.logger.Info("payment sweep schedule created", "schedule_id", SweepScheduleID, "interval", interval)
		return nil
	}

	err := handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(input client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			input.Description.Schedule.Spec.Intervals = []client.ScheduleIntervalSpec{
				{Every: interval},
			}
			return &client.ScheduleUpdate{
				Schedule: &input.Description.Schedule,
			}, nil
		},
	})
	if err != nil {
		return fmt.Errorf("failed to update schedule %q: %w", SweepScheduleID, err)
	}
	c.logger.Info("payment sweep schedule updated", "schedule_id", SweepScheduleID, "interval", interval)
	return nil
}

// TaskQueue returns the configured task queue.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
