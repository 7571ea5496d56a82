package temporal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/brojonat/soltax/service/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
)

const (
	testPayee  = "BSfD6SHZigAfDWSjzD5Q41jw8LmKwtmjskPH9XW1mrRW"
	testWallet = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
)

type stubTransfers struct {
	transfers []payment.Transfer
}

func (s *stubTransfers) FetchRecentIncomingTransfers(context.Context, string, time.Time, int) ([]payment.Transfer, error) {
	return s.transfers, nil
}

type stubSweeper struct {
	res payment.SweepResult
	err error
}

func (s stubSweeper) Sweep(context.Context) (payment.SweepResult, error) {
	return s.res, s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newGate(t *testing.T, chain payment.TransferSource) *payment.Gate {
	t.Helper()
	g := payment.NewGate(payment.Config{PaymentAddress: testPayee}, payment.NewMemoryStore(), chain, discardLogger())
	t.Cleanup(g.Close)
	return g
}

func TestCheckExportPayment_Pending(t *testing.T) {
	gate := newGate(t, &stubTransfers{})
	req, err := gate.Create(context.Background(), payment.ExportCSV, testWallet, payment.DateRange{})
	require.NoError(t, err)

	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestActivityEnvironment()
	activities := NewActivities(gate, nil, discardLogger())
	env.RegisterActivity(activities.CheckExportPayment)

	val, err := env.ExecuteActivity(activities.CheckExportPayment, CheckExportPaymentInput{RequestID: req.ID})
	require.NoError(t, err)

	var result CheckExportPaymentResult
	require.NoError(t, val.Get(&result))
	assert.Equal(t, "pending", result.Status)
	assert.False(t, result.Terminal())
	assert.True(t, req.ExpiresAt.Equal(result.ExpiresAt))
}

func TestCheckExportPayment_Paid(t *testing.T) {
	chain := &stubTransfers{}
	gate := newGate(t, chain)
	req, err := gate.Create(context.Background(), payment.ExportPDF, testWallet, payment.DateRange{})
	require.NoError(t, err)

	chain.transfers = []payment.Transfer{{
		Signature: "sig-paid",
		BlockTime: req.CreatedAt.Add(time.Second),
		Received:  int64(req.AmountLamports),
	}}

	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestActivityEnvironment()
	activities := NewActivities(gate, nil, discardLogger())
	env.RegisterActivity(activities.CheckExportPayment)

	val, err := env.ExecuteActivity(activities.CheckExportPayment, CheckExportPaymentInput{RequestID: req.ID})
	require.NoError(t, err)

	var result CheckExportPaymentResult
	require.NoError(t, val.Get(&result))
	assert.Equal(t, "paid", result.Status)
	assert.Equal(t, "sig-paid", result.TransactionSignature)
	require.NotNil(t, result.PaidAt)
	assert.True(t, result.Terminal())
}

func TestCheckExportPayment_NotFoundIsNonRetryable(t *testing.T) {
	gate := newGate(t, &stubTransfers{})

	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestActivityEnvironment()
	activities := NewActivities(gate, nil, discardLogger())
	env.RegisterActivity(activities.CheckExportPayment)

	_, err := env.ExecuteActivity(activities.CheckExportPayment, CheckExportPaymentInput{RequestID: "missing"})
	require.Error(t, err)

	var appErr *temporal.ApplicationError
	require.True(t, errors.As(err, &appErr), "expected application error, got %T", err)
	assert.True(t, appErr.NonRetryable())
	assert.Equal(t, "NotFound", appErr.Type())
}

func TestSweepPayments(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}

	t.Run("reports counts", func(t *testing.T) {
		env := testSuite.NewTestActivityEnvironment()
		activities := NewActivities(nil, stubSweeper{res: payment.SweepResult{Expired: 3, Purged: 4}}, discardLogger())
		env.RegisterActivity(activities.SweepPayments)

		val, err := env.ExecuteActivity(activities.SweepPayments)
		require.NoError(t, err)
		var result SweepPaymentsResult
		require.NoError(t, val.Get(&result))
		assert.Equal(t, 3, result.Expired)
		assert.Equal(t, 4, result.Purged)
	})

	t.Run("sweep error", func(t *testing.T) {
		env := testSuite.NewTestActivityEnvironment()
		activities := NewActivities(nil, stubSweeper{err: errors.New("db down")}, discardLogger())
		env.RegisterActivity(activities.SweepPayments)

		_, err := env.ExecuteActivity(activities.SweepPayments)
		assert.ErrorContains(t, err, "db down")
	})

	t.Run("no sweeper configured", func(t *testing.T) {
		env := testSuite.NewTestActivityEnvironment()
		activities := NewActivities(nil, nil, discardLogger())
		env.RegisterActivity(activities.SweepPayments)

		_, err := env.ExecuteActivity(activities.SweepPayments)
		assert.Error(t, err)
	})
}
