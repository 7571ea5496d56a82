// Package report answers wallet history queries and produces paid exports.
package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/brojonat/soltax/service/export"
	"github.com/brojonat/soltax/service/ledger"
	"github.com/brojonat/soltax/service/metrics"
	"github.com/brojonat/soltax/service/payment"
	"github.com/brojonat/soltax/service/summary"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// ErrNoTransactions is returned by Export when the range holds nothing to
// export.
var ErrNoTransactions = errors.New("no transactions found for the specified date range")

// EnvelopeSource fetches raw chain data for a wallet.
type EnvelopeSource interface {
	FetchEnvelopes(ctx context.Context, address string, start, end time.Time) ([]*ledger.Envelope, error)
	FetchBalance(ctx context.Context, address string) (decimal.Decimal, error)
}

// PaymentGate is the part of payment.Gate the service uses.
type PaymentGate interface {
	Create(ctx context.Context, exportType payment.ExportType, wallet string, dr payment.DateRange) (*payment.Request, error)
	Get(ctx context.Context, id string) (*payment.Request, error)
	CheckStatus(ctx context.Context, id string) (*payment.Request, error)
	AuthorizeExport(ctx context.Context, id, wallet string, exportType payment.ExportType, dr payment.DateRange) (*payment.Request, error)
	ConsumeExport(ctx context.Context, id string) (*payment.Request, error)
}

// Service combines fetching, classification, aggregation, payments and
// export rendering.
type Service struct {
	source     EnvelopeSource
	classifier *ledger.Classifier
	gate       PaymentGate
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// NewService creates a report service.
func NewService(source EnvelopeSource, classifier *ledger.Classifier, gate PaymentGate, m *metrics.Metrics, logger *slog.Logger) *Service {
	return &Service{
		source:     source,
		classifier: classifier,
		gate:       gate,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
	}
}

// Transactions is a wallet's classified history over a range.
type Transactions struct {
	Address      string               `json:"address"`
	DateRange    payment.DateRange    `json:"dateRange"`
	Transactions []ledger.Transaction `json:"transactions"`
	Summary      summary.Summary      `json:"summary"`
}

// Comprehensive is the full report: balance, summary and history.
type Comprehensive struct {
	Address      string               `json:"address"`
	DateRange    payment.DateRange    `json:"dateRange"`
	Balance      decimal.Decimal      `json:"balance"`
	Summary      summary.Summary      `json:"summary"`
	Transactions []ledger.Transaction `json:"transactions"`
	Metadata     Metadata             `json:"metadata"`
}

// Metadata describes how a comprehensive report was produced.
type Metadata struct {
	GeneratedAt             time.Time       `json:"generatedAt"`
	TotalTransactions       int             `json:"totalTransactions"`
	TotalFees               decimal.Decimal `json:"totalFees"`
	AverageTransactionValue decimal.Decimal `json:"averageTransactionValue"`
}

// File is a rendered export.
type File struct {
	Filename    string
	ContentType string
	Data        []byte
	Count       int
}

// GetTransactions returns the reportable transactions with block time in
// dr, newest first, and their summary. An empty range is not an error.
func (s *Service) GetTransactions(ctx context.Context, address string, dr payment.DateRange) (*Transactions, error) {
	if err := validate(address, dr); err != nil {
		return nil, err
	}
	txs, err := s.history(ctx, address, dr)
	if err != nil {
		return nil, err
	}
	return &Transactions{
		Address:      address,
		DateRange:    dr,
		Transactions: txs,
		Summary:      summary.Aggregate(txs),
	}, nil
}

// GetSummary returns only the summary of a range.
func (s *Service) GetSummary(ctx context.Context, address string, dr payment.DateRange) (*summary.Summary, error) {
	res, err := s.GetTransactions(ctx, address, dr)
	if err != nil {
		return nil, err
	}
	return &res.Summary, nil
}

// GetComprehensive returns balance, summary and transactions. A balance
// lookup failure is logged and reported as zero.
func (s *Service) GetComprehensive(ctx context.Context, address string, dr payment.DateRange) (*Comprehensive, error) {
	res, err := s.GetTransactions(ctx, address, dr)
	if err != nil {
		return nil, err
	}

	balance, err := s.source.FetchBalance(ctx, address)
	if err != nil {
		s.logger.WarnContext(ctx, "balance lookup failed, reporting zero",
			"address", address,
			"error", err,
		)
		balance = decimal.Zero
	}

	return &Comprehensive{
		Address:      address,
		DateRange:    dr,
		Balance:      balance,
		Summary:      res.Summary,
		Transactions: res.Transactions,
		Metadata: Metadata{
			GeneratedAt:             s.now().UTC(),
			TotalTransactions:       res.Summary.TotalTransactions,
			TotalFees:               res.Summary.TotalFees,
			AverageTransactionValue: res.Summary.AverageValue(),
		},
	}, nil
}

// GetBalance returns the wallet's SOL balance.
func (s *Service) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	if err := ValidateAddress(address); err != nil {
		return decimal.Zero, err
	}
	return s.source.FetchBalance(ctx, address)
}

// ValidateWallet reports whether address is a valid wallet address.
func (s *Service) ValidateWallet(address string) bool {
	return ValidateAddress(address) == nil
}

// Preview shows the first transactions of a range and the estimated export
// sizes. It is free and needs no payment.
func (s *Service) Preview(ctx context.Context, address string, dr payment.DateRange) (*export.Preview, error) {
	if err := validate(address, dr); err != nil {
		return nil, err
	}
	txs, err := s.history(ctx, address, dr)
	if err != nil {
		return nil, err
	}
	return export.NewPreview(address, dr.Start, dr.End, txs), nil
}

// CreateExportPayment opens a payment request for an export.
func (s *Service) CreateExportPayment(ctx context.Context, format, wallet string, dr payment.DateRange) (*payment.Request, error) {
	exportType, err := ParseExportType(format)
	if err != nil {
		return nil, err
	}
	if err := validate(wallet, dr); err != nil {
		return nil, err
	}
	return s.gate.Create(ctx, exportType, wallet, dr)
}

// GetPaymentStatus checks a request against the chain.
func (s *Service) GetPaymentStatus(ctx context.Context, id string) (*payment.Request, error) {
	return s.gate.CheckStatus(ctx, id)
}

// GetPayment returns a request without checking the chain.
func (s *Service) GetPayment(ctx context.Context, id string) (*payment.Request, error) {
	return s.gate.Get(ctx, id)
}

// Export renders the range as format. The payment is authorized before any
// chain data is fetched and consumed only once the file is rendered, so a
// paid request yields exactly one export of its own date range.
func (s *Service) Export(ctx context.Context, paymentID, format, wallet string, dr payment.DateRange) (*File, error) {
	exportType, err := ParseExportType(format)
	if err != nil {
		return nil, err
	}
	if err := validate(wallet, dr); err != nil {
		return nil, err
	}
	if paymentID == "" {
		s.metrics.RecordExport(string(exportType), "unpaid")
		return nil, fmt.Errorf("%w: payment id is required", payment.ErrPaymentRequired)
	}
	if _, err := s.gate.AuthorizeExport(ctx, paymentID, wallet, exportType, dr); err != nil {
		s.metrics.RecordExport(string(exportType), "unpaid")
		return nil, err
	}

	txs, err := s.history(ctx, wallet, dr)
	if err != nil {
		s.metrics.RecordExport(string(exportType), "error")
		return nil, err
	}
	if len(txs) == 0 {
		s.metrics.RecordExport(string(exportType), "empty")
		return nil, ErrNoTransactions
	}

	meta := export.Meta{Address: wallet, Start: dr.Start, End: dr.End, GeneratedAt: s.now()}
	sum := summary.Aggregate(txs)
	format = string(exportType)

	var buf bytes.Buffer
	switch exportType {
	case payment.ExportPDF:
		err = export.WritePDF(&buf, txs, sum, meta)
	default:
		err = export.WriteCSV(&buf, txs, sum, meta)
	}
	if err != nil {
		s.metrics.RecordExport(format, "error")
		return nil, err
	}
	if _, err := s.gate.ConsumeExport(ctx, paymentID); err != nil {
		s.metrics.RecordExport(format, "unpaid")
		return nil, err
	}
	s.metrics.RecordExport(format, "success")

	s.logger.InfoContext(ctx, "export generated",
		"payment_id", paymentID,
		"format", format,
		"wallet", wallet,
		"transactions", len(txs),
		"bytes", buf.Len(),
	)

	f := export.Format(format)
	return &File{
		Filename:    export.Filename(meta, f),
		ContentType: f.ContentType(),
		Data:        buf.Bytes(),
		Count:       len(txs),
	}, nil
}

func (s *Service) history(ctx context.Context, address string, dr payment.DateRange) ([]ledger.Transaction, error) {
	envs, err := s.source.FetchEnvelopes(ctx, address, dr.Start, dr.End)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transactions for %s: %w", address, err)
	}
	txs := s.classify(envs, address)

	out := txs[:0]
	for _, tx := range txs {
		if dr.Contains(tx.BlockTime) {
			out = append(out, tx)
		}
	}
	return out, nil
}

// classify splits envs into one chunk per processor and classifies the
// chunks in parallel, keeping input order and only reportable records.
func (s *Service) classify(envs []*ledger.Envelope, wallet string) []ledger.Transaction {
	size := max((len(envs)+runtime.GOMAXPROCS(0)-1)/runtime.GOMAXPROCS(0), 1)
	chunks := make([][]ledger.Transaction, (len(envs)+size-1)/size)

	var g errgroup.Group
	for i := range chunks {
		lo := i * size
		hi := min(lo+size, len(envs))
		g.Go(func() error {
			chunks[i] = s.classifier.ClassifyAll(envs[lo:hi], wallet)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]ledger.Transaction, 0, len(envs))
	for _, chunk := range chunks {
		for _, tx := range chunk {
			s.metrics.RecordClassified(string(tx.Type), string(tx.Status))
			out = append(out, tx)
		}
	}
	return out
}

func validate(address string, dr payment.DateRange) error {
	if err := ValidateAddress(address); err != nil {
		return err
	}
	return ValidateDateRange(dr)
}
