package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brojonat/soltax/service/ledger"
	"github.com/brojonat/soltax/service/payment"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testWallet  = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
	testCounter = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWN"
	testPayee   = "BSfD6SHZigAfDWSjzD5Q41jw8LmKwtmjskPH9XW1mrRW"
	systemProg  = "11111111111111111111111111111111"
)

type fakeSource struct {
	envs       []*ledger.Envelope
	err        error
	balance    decimal.Decimal
	balanceErr error
	fetches    atomic.Int32
}

func (f *fakeSource) FetchEnvelopes(ctx context.Context, address string, start, end time.Time) ([]*ledger.Envelope, error) {
	f.fetches.Add(1)
	return f.envs, f.err
}

func (f *fakeSource) FetchBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	return f.balance, f.balanceErr
}

type stubChain struct {
	transfers []payment.Transfer
}

func (s *stubChain) FetchRecentIncomingTransfers(context.Context, string, time.Time, int) ([]payment.Transfer, error) {
	return s.transfers, nil
}

type fixedPrices map[string]decimal.Decimal

func (p fixedPrices) PriceOf(symbol string) decimal.Decimal {
	return p[symbol]
}

// receive builds an envelope in which the wallet gains lamports at bt.
func receive(sig string, bt time.Time, lamports uint64) *ledger.Envelope {
	return &ledger.Envelope{
		Signature:    sig,
		BlockTime:    &bt,
		Fee:          5000,
		HasMeta:      true,
		AccountKeys:  []string{testWallet, testCounter, systemProg},
		PreBalances:  []uint64{1_000_000_000, 50_000_000_000, 1},
		PostBalances: []uint64{1_000_000_000 + lamports, 50_000_000_000 - lamports, 1},
		Instructions: []ledger.Instruction{{ProgramIDIndex: 2}},
	}
}

type fixture struct {
	svc    *Service
	source *fakeSource
	chain  *stubChain
	gate   *payment.Gate
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	source := &fakeSource{balance: decimal.RequireFromString("3.25")}
	chain := &stubChain{}
	gate := payment.NewGate(payment.Config{PaymentAddress: testPayee}, payment.NewMemoryStore(), chain, logger)
	t.Cleanup(gate.Close)

	classifier := ledger.NewClassifier(fixedPrices{"SOL": decimal.NewFromInt(100)})
	return &fixture{
		svc:    NewService(source, classifier, gate, nil, logger),
		source: source,
		chain:  chain,
		gate:   gate,
	}
}

func march() payment.DateRange {
	dr, err := ParseDateRange("2024-03-01", "2024-03-31")
	if err != nil {
		panic(err)
	}
	return dr
}

func (f *fixture) payFor(t *testing.T, format string) *payment.Request {
	t.Helper()
	ctx := context.Background()
	req, err := f.svc.CreateExportPayment(ctx, format, testWallet, march())
	require.NoError(t, err)
	f.chain.transfers = []payment.Transfer{{
		Signature: "pay-" + req.ID,
		BlockTime: req.CreatedAt.Add(time.Second),
		Received:  int64(req.AmountLamports),
	}}
	paid, err := f.svc.GetPaymentStatus(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, payment.StatusPaid, paid.Status)
	return paid
}

func TestParseDateRange(t *testing.T) {
	tests := []struct {
		name    string
		start   string
		end     string
		code    string
		wantEnd time.Time
	}{
		{name: "date only end covers the day", start: "2024-03-01", end: "2024-03-31",
			wantEnd: time.Date(2024, 3, 31, 23, 59, 59, 999999999, time.UTC)},
		{name: "rfc3339 kept exact", start: "2024-03-01T00:00:00Z", end: "2024-03-02T10:00:00+02:00",
			wantEnd: time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC)},
		{name: "single day", start: "2024-03-01", end: "2024-03-01",
			wantEnd: time.Date(2024, 3, 1, 23, 59, 59, 999999999, time.UTC)},
		{name: "exactly 365 days", start: "2023-01-01", end: "2024-01-01",
			wantEnd: time.Date(2024, 1, 1, 23, 59, 59, 999999999, time.UTC)},
		{name: "missing start", start: "", end: "2024-03-31", code: "missing_date_range"},
		{name: "bad format", start: "03/01/2024", end: "2024-03-31", code: "invalid_date_format"},
		{name: "bad end", start: "2024-03-01", end: "tomorrow", code: "invalid_date_format"},
		{name: "reversed", start: "2024-03-31", end: "2024-03-01", code: "invalid_date_range"},
		{name: "366 days", start: "2024-01-01", end: "2025-01-01", code: "date_range_too_large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dr, err := ParseDateRange(tt.start, tt.end)
			if tt.code != "" {
				var verr *ValidationError
				require.True(t, errors.As(err, &verr), "expected validation error, got %v", err)
				assert.Equal(t, tt.code, verr.Code)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.wantEnd.Equal(dr.End), "end = %s", dr.End)
			assert.NoError(t, ValidateDateRange(dr))
		})
	}
}

func TestValidateAddress(t *testing.T) {
	assert.NoError(t, ValidateAddress(testWallet))

	var verr *ValidationError
	require.True(t, errors.As(ValidateAddress(""), &verr))
	assert.Equal(t, "missing_wallet_address", verr.Code)

	require.True(t, errors.As(ValidateAddress("not-a-wallet"), &verr))
	assert.Equal(t, "invalid_wallet_address", verr.Code)

	svc := newFixture(t).svc
	assert.True(t, svc.ValidateWallet(testWallet))
	assert.False(t, svc.ValidateWallet("0OIl"))
}

func TestGetTransactions(t *testing.T) {
	f := newFixture(t)
	f.source.envs = []*ledger.Envelope{
		receive("sig-in", time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC), 2_000_000_000),
		receive("sig-dust", time.Date(2024, 3, 11, 12, 0, 0, 0, time.UTC), 1),
		receive("sig-late", time.Date(2024, 4, 1, 0, 0, 1, 0, time.UTC), 1_000_000_000),
	}

	res, err := f.svc.GetTransactions(context.Background(), testWallet, march())
	require.NoError(t, err)
	require.Len(t, res.Transactions, 1)

	tx := res.Transactions[0]
	assert.Equal(t, "sig-in", tx.ID)
	assert.Equal(t, ledger.TypeBuy, tx.Type)
	assert.True(t, tx.Amount.Equal(decimal.NewFromInt(2)), "amount = %s", tx.Amount)
	assert.True(t, tx.Value.Equal(decimal.NewFromInt(200)), "value = %s", tx.Value)

	assert.Equal(t, 1, res.Summary.TotalTransactions)
	assert.Equal(t, 1, res.Summary.BuyCount)

	sum, err := f.svc.GetSummary(context.Background(), testWallet, march())
	require.NoError(t, err)
	assert.Equal(t, res.Summary.TotalTransactions, sum.TotalTransactions)
}

func TestGetTransactions_EmptyIsNotAnError(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.GetTransactions(context.Background(), testWallet, march())
	require.NoError(t, err)
	assert.Empty(t, res.Transactions)
	assert.Equal(t, 0, res.Summary.TotalTransactions)
}

func TestGetTransactions_RejectsBeforeFetching(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.GetTransactions(context.Background(), "bogus", march())
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))

	_, err = f.svc.GetTransactions(context.Background(), testWallet, payment.DateRange{})
	assert.True(t, errors.As(err, &verr))

	assert.Equal(t, int32(0), f.source.fetches.Load())
}

func TestGetTransactions_FetchError(t *testing.T) {
	f := newFixture(t)
	f.source.err = errors.New("rpc unavailable")

	_, err := f.svc.GetTransactions(context.Background(), testWallet, march())
	assert.ErrorContains(t, err, "rpc unavailable")
}

func TestGetComprehensive(t *testing.T) {
	f := newFixture(t)
	f.source.envs = []*ledger.Envelope{
		receive("a", time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), 1_000_000_000),
		receive("b", time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC), 3_000_000_000),
	}

	res, err := f.svc.GetComprehensive(context.Background(), testWallet, march())
	require.NoError(t, err)
	assert.True(t, res.Balance.Equal(decimal.RequireFromString("3.25")))
	assert.Len(t, res.Transactions, 2)
	assert.Equal(t, 2, res.Metadata.TotalTransactions)
	assert.True(t, res.Metadata.AverageTransactionValue.Equal(decimal.NewFromInt(200)),
		"average = %s", res.Metadata.AverageTransactionValue)
	assert.True(t, res.Metadata.TotalFees.Equal(decimal.RequireFromString("0.00001")))
	assert.False(t, res.Metadata.GeneratedAt.IsZero())

	f.source.balanceErr = errors.New("timeout")
	res, err = f.svc.GetComprehensive(context.Background(), testWallet, march())
	require.NoError(t, err)
	assert.True(t, res.Balance.IsZero())
}

func TestGetBalance(t *testing.T) {
	f := newFixture(t)
	bal, err := f.svc.GetBalance(context.Background(), testWallet)
	require.NoError(t, err)
	assert.Equal(t, "3.25", bal.String())

	_, err = f.svc.GetBalance(context.Background(), "nope")
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestPreview(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 12; i++ {
		f.source.envs = append(f.source.envs,
			receive(string(rune('a'+i)), time.Date(2024, 3, 1+i, 0, 0, 0, 0, time.UTC), 1_000_000_000))
	}

	p, err := f.svc.Preview(context.Background(), testWallet, march())
	require.NoError(t, err)
	assert.Equal(t, 12, p.TotalCount)
	assert.Len(t, p.Transactions, 10)
	assert.Equal(t, "6KB", p.EstimatedSize.CSV)
	assert.Equal(t, "24KB", p.EstimatedSize.PDF)
}

func TestCreateExportPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.svc.CreateExportPayment(ctx, "CSV", testWallet, march())
	require.NoError(t, err)
	assert.Equal(t, payment.ExportCSV, req.ExportType)
	assert.Equal(t, payment.StatusPending, req.Status)
	assert.Equal(t, "0.1", req.Amount().String())
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), req.ExpiresAt, 5*time.Second)

	got, err := f.svc.GetPaymentStatus(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, got.Status)

	_, err = f.svc.CreateExportPayment(ctx, "xlsx", testWallet, march())
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "invalid_export_format", verr.Code)

	_, err = f.svc.GetPayment(ctx, "missing")
	assert.ErrorIs(t, err, payment.ErrNotFound)
}

func TestExport_RequiresPaymentBeforeFetching(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.source.envs = []*ledger.Envelope{receive("a", time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), 1_000_000_000)}

	_, err := f.svc.Export(ctx, "", "csv", testWallet, march())
	assert.ErrorIs(t, err, payment.ErrPaymentRequired)

	_, err = f.svc.Export(ctx, "missing", "csv", testWallet, march())
	assert.ErrorIs(t, err, payment.ErrNotFound)

	pending, err := f.svc.CreateExportPayment(ctx, "csv", testWallet, march())
	require.NoError(t, err)
	_, err = f.svc.Export(ctx, pending.ID, "csv", testWallet, march())
	assert.ErrorIs(t, err, payment.ErrPaymentRequired)

	assert.Equal(t, int32(0), f.source.fetches.Load())
}

func TestExport_WrongWalletOrFormat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	paid := f.payFor(t, "pdf")

	_, err := f.svc.Export(ctx, paid.ID, "csv", testWallet, march())
	assert.ErrorIs(t, err, payment.ErrPaymentRequired)

	_, err = f.svc.Export(ctx, paid.ID, "pdf", testCounter, march())
	assert.ErrorIs(t, err, payment.ErrPaymentRequired)
}

func TestExport_CSV(t *testing.T) {
	f := newFixture(t)
	f.source.envs = []*ledger.Envelope{
		receive("sig-1", time.Date(2024, 3, 10, 8, 30, 0, 0, time.UTC), 1_500_000_000),
	}
	paid := f.payFor(t, "csv")

	file, err := f.svc.Export(context.Background(), paid.ID, "csv", testWallet, march())
	require.NoError(t, err)
	assert.Equal(t, "text/csv", file.ContentType)
	assert.Equal(t, "solana-transactions-"+testWallet+"-2024-03-01-2024-03-31.csv", file.Filename)
	assert.Equal(t, 1, file.Count)

	records, err := csv.NewReader(bytes.NewReader(file.Data)).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "Date", records[0][0])
	assert.Equal(t, []string{"2024-03-10", "08:30:00", "Purchase", "SOL", "1.50000000", "100.00", "150.00"}, records[1][:7])
}

func TestExport_PDF(t *testing.T) {
	f := newFixture(t)
	f.source.envs = []*ledger.Envelope{
		receive("sig-1", time.Date(2024, 3, 10, 8, 30, 0, 0, time.UTC), 1_500_000_000),
	}
	paid := f.payFor(t, "pdf")

	file, err := f.svc.Export(context.Background(), paid.ID, "PDF", testWallet, march())
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", file.ContentType)
	assert.True(t, bytes.HasPrefix(file.Data, []byte("%PDF-")))
}

func TestExport_NoTransactions(t *testing.T) {
	f := newFixture(t)
	paid := f.payFor(t, "csv")

	_, err := f.svc.Export(context.Background(), paid.ID, "csv", testWallet, march())
	assert.ErrorIs(t, err, ErrNoTransactions)
}

func TestExport_ConsumesPayment(t *testing.T) {
	f := newFixture(t)
	f.source.envs = []*ledger.Envelope{
		receive("sig-1", time.Date(2024, 3, 10, 8, 30, 0, 0, time.UTC), 1_500_000_000),
	}
	paid := f.payFor(t, "csv")
	ctx := context.Background()

	_, err := f.svc.Export(ctx, paid.ID, "csv", testWallet, march())
	require.NoError(t, err)

	_, err = f.svc.Export(ctx, paid.ID, "csv", testWallet, march())
	assert.ErrorIs(t, err, payment.ErrPaymentRequired)
	assert.Equal(t, int32(1), f.source.fetches.Load(), "a used request must not reach the chain")

	req, err := f.gate.Get(ctx, paid.ID)
	require.NoError(t, err)
	require.NotNil(t, req.ConsumedAt)
	assert.Equal(t, payment.StatusPaid, req.Status)
}

func TestExport_RangeMustMatchPayment(t *testing.T) {
	f := newFixture(t)
	f.source.envs = []*ledger.Envelope{
		receive("sig-1", time.Date(2024, 3, 10, 8, 30, 0, 0, time.UTC), 1_500_000_000),
	}
	paid := f.payFor(t, "csv")
	ctx := context.Background()

	year, err := ParseDateRange("2023-04-01", "2024-03-31")
	require.NoError(t, err)
	_, err = f.svc.Export(ctx, paid.ID, "csv", testWallet, year)
	assert.ErrorIs(t, err, payment.ErrPaymentRequired)

	firstWeek, err := ParseDateRange("2024-03-01", "2024-03-07")
	require.NoError(t, err)
	_, err = f.svc.Export(ctx, paid.ID, "csv", testWallet, firstWeek)
	assert.ErrorIs(t, err, payment.ErrPaymentRequired)
	assert.Zero(t, f.source.fetches.Load())

	_, err = f.svc.Export(ctx, paid.ID, "csv", testWallet, march())
	require.NoError(t, err, "refused ranges leave the request unused")
}

func TestExport_FailureDoesNotConsume(t *testing.T) {
	f := newFixture(t)
	paid := f.payFor(t, "csv")
	ctx := context.Background()

	_, err := f.svc.Export(ctx, paid.ID, "csv", testWallet, march())
	require.ErrorIs(t, err, ErrNoTransactions)

	f.source.err = errors.New("rpc unavailable")
	_, err = f.svc.Export(ctx, paid.ID, "csv", testWallet, march())
	require.Error(t, err)
	assert.NotErrorIs(t, err, payment.ErrPaymentRequired)

	f.source.err = nil
	f.source.envs = []*ledger.Envelope{
		receive("sig-1", time.Date(2024, 3, 10, 8, 30, 0, 0, time.UTC), 1_500_000_000),
	}
	file, err := f.svc.Export(ctx, paid.ID, "csv", testWallet, march())
	require.NoError(t, err)
	assert.Equal(t, 1, file.Count)
}

func TestGetTransactions_KeepsSourceOrder(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2024, 3, 30, 0, 0, 0, 0, time.UTC)
	var want []string
	for i := range 37 {
		sig := fmt.Sprintf("sig-%02d", i)
		lamports := uint64(1_000_000_000)
		if i%5 == 0 {
			lamports = 100
		}
		f.source.envs = append(f.source.envs, receive(sig, start.Add(-time.Duration(i)*time.Hour), lamports))
		if i%5 != 0 {
			want = append(want, sig)
		}
	}

	res, err := f.svc.GetTransactions(context.Background(), testWallet, march())
	require.NoError(t, err)

	got := make([]string, 0, len(res.Transactions))
	for _, tx := range res.Transactions {
		got = append(got, tx.ID)
	}
	assert.Equal(t, want, got)
}
