package temporal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/converter"
	"go.temporal.io/sdk/testsuite"
)

func pendingCheck(id string, expiresAt time.Time) *CheckExportPaymentResult {
	return &CheckExportPaymentResult{RequestID: id, Status: "pending", ExpiresAt: expiresAt}
}

func TestAwaitExportPaymentWorkflow(t *testing.T) {
	const requestID = "req-1"
	future := time.Now().Add(time.Hour)
	paidAt := time.Now().UTC().Truncate(time.Second)

	tests := []struct {
		name           string
		mockActivities func(env *testsuite.TestWorkflowEnvironment, a *Activities)
		expectedError  bool
		expectedChecks int
		validateResult func(*testing.T, *AwaitExportPaymentResult)
	}{
		{
			name: "paid after two pending checks",
			mockActivities: func(env *testsuite.TestWorkflowEnvironment, a *Activities) {
				env.OnActivity(a.CheckExportPayment, mock.Anything, mock.Anything).
					Return(pendingCheck(requestID, future), nil).Times(2)
				env.OnActivity(a.CheckExportPayment, mock.Anything, mock.Anything).
					Return(&CheckExportPaymentResult{
						RequestID:            requestID,
						Status:               "paid",
						TransactionSignature: "sig-1",
						PaidAt:               &paidAt,
						ExpiresAt:            future,
					}, nil).Once()
			},
			expectedChecks: 3,
			validateResult: func(t *testing.T, r *AwaitExportPaymentResult) {
				assert.Equal(t, "paid", r.Status)
				assert.Equal(t, "sig-1", r.TransactionSignature)
				require.NotNil(t, r.PaidAt)
				assert.Equal(t, 3, r.Checks)
			},
		},
		{
			name: "expired",
			mockActivities: func(env *testsuite.TestWorkflowEnvironment, a *Activities) {
				env.OnActivity(a.CheckExportPayment, mock.Anything, mock.Anything).
					Return(&CheckExportPaymentResult{RequestID: requestID, Status: "expired", ExpiresAt: future}, nil).Once()
			},
			expectedChecks: 1,
			validateResult: func(t *testing.T, r *AwaitExportPaymentResult) {
				assert.Equal(t, "expired", r.Status)
				assert.Empty(t, r.TransactionSignature)
				assert.Nil(t, r.PaidAt)
			},
		},
		{
			name: "check fails",
			mockActivities: func(env *testsuite.TestWorkflowEnvironment, a *Activities) {
				env.OnActivity(a.CheckExportPayment, mock.Anything, mock.Anything).
					Return(nil, errors.New("store unavailable"))
			},
			expectedError: true,
		},
		{
			name: "pending past deadline gives up",
			mockActivities: func(env *testsuite.TestWorkflowEnvironment, a *Activities) {
				env.OnActivity(a.CheckExportPayment, mock.Anything, mock.Anything).
					Return(pendingCheck(requestID, time.Now().Add(-time.Hour)), nil)
			},
			expectedError:  true,
			expectedChecks: maxChecksPastDeadline + 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testSuite := &testsuite.WorkflowTestSuite{}
			env := testSuite.NewTestWorkflowEnvironment()

			activities := &Activities{}
			env.RegisterActivity(activities.CheckExportPayment)

			checks := 0
			env.SetOnActivityStartedListener(func(*activity.Info, context.Context, converter.EncodedValues) {
				checks++
			})

			tt.mockActivities(env, activities)

			env.ExecuteWorkflow(AwaitExportPaymentWorkflow, AwaitExportPaymentInput{
				RequestID:    requestID,
				PollInterval: 5 * time.Second,
			})

			require.True(t, env.IsWorkflowCompleted())
			if tt.expectedError {
				assert.Error(t, env.GetWorkflowError())
			} else {
				require.NoError(t, env.GetWorkflowError())
				var result AwaitExportPaymentResult
				require.NoError(t, env.GetWorkflowResult(&result))
				assert.Equal(t, requestID, result.RequestID)
				tt.validateResult(t, &result)
			}
			if tt.expectedChecks > 0 {
				assert.Equal(t, tt.expectedChecks, checks)
			}
		})
	}
}

func TestSweepPaymentsWorkflow(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	activities := &Activities{}
	env.RegisterActivity(activities.SweepPayments)
	env.OnActivity(activities.SweepPayments, mock.Anything).Return(&SweepPaymentsResult{Expired: 2, Purged: 1}, nil)

	env.ExecuteWorkflow(SweepPaymentsWorkflow)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	var result SweepPaymentsResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, 2, result.Expired)
	assert.Equal(t, 1, result.Purged)
}

func TestAwaitWorkflowID(t *testing.T) {
	assert.Equal(t, "await-export-payment-abc", AwaitWorkflowID("abc"))
}
