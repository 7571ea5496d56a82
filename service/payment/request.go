package payment

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a payment request.
type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusExpired Status = "expired"
	StatusFailed  Status = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s != StatusPending
}

// ExportType is the report format a payment unlocks.
type ExportType string

const (
	ExportCSV ExportType = "csv"
	ExportPDF ExportType = "pdf"
)

// ParseExportType accepts "csv" or "pdf" in any case.
func ParseExportType(s string) (ExportType, error) {
	switch ExportType(strings.ToLower(strings.TrimSpace(s))) {
	case ExportCSV:
		return ExportCSV, nil
	case ExportPDF:
		return ExportPDF, nil
	}
	return "", fmt.Errorf("%w: export type must be either \"csv\" or \"pdf\", got %q", ErrInvalidRequest, s)
}

// DateRange is an inclusive time window.
type DateRange struct {
	Start time.Time `json:"startDate"`
	End   time.Time `json:"endDate"`
}

// Contains reports whether t falls within the range, bounds included.
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// Equal reports whether both bounds match at microsecond precision, the
// resolution the Postgres store keeps.
func (r DateRange) Equal(o DateRange) bool {
	return r.Start.Truncate(time.Microsecond).Equal(o.Start.Truncate(time.Microsecond)) &&
		r.End.Truncate(time.Microsecond).Equal(o.End.Truncate(time.Microsecond))
}

// Request is a pay-to-export request.
type Request struct {
	ID                   string     `json:"id"`
	ExportType           ExportType `json:"exportType"`
	WalletAddress        string     `json:"walletAddress"`
	DateRange            DateRange  `json:"dateRange"`
	AmountLamports       uint64     `json:"amountLamports"`
	Status               Status     `json:"status"`
	PaymentAddress       string     `json:"paymentAddress"`
	CreatedAt            time.Time  `json:"createdAt"`
	ExpiresAt            time.Time  `json:"expiresAt"`
	TransactionSignature string     `json:"transactionSignature,omitempty"`
	PaidAt               *time.Time `json:"paidAt,omitempty"`
	ConsumedAt           *time.Time `json:"consumedAt,omitempty"`
}

// Amount is the requested payment in SOL.
func (r *Request) Amount() decimal.Decimal {
	return decimal.New(int64(r.AmountLamports), -9)
}

// Clone returns a deep copy.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	c := *r
	if r.PaidAt != nil {
		t := *r.PaidAt
		c.PaidAt = &t
	}
	if r.ConsumedAt != nil {
		t := *r.ConsumedAt
		c.ConsumedAt = &t
	}
	return &c
}

// PublicView is the subset of a request returned to the payer.
type PublicView struct {
	ID                   string          `json:"id"`
	Amount               decimal.Decimal `json:"amount"`
	AmountLamports       uint64          `json:"amountLamports"`
	PaymentAddress       string          `json:"paymentAddress"`
	Status               Status          `json:"status"`
	ExpiresAt            time.Time       `json:"expiresAt"`
	ExportType           ExportType      `json:"exportType"`
	TransactionSignature string          `json:"transactionSignature,omitempty"`
	PaidAt               *time.Time      `json:"paidAt,omitempty"`
}

// Public returns the payer-facing view of r.
func (r *Request) Public() PublicView {
	return PublicView{
		ID:                   r.ID,
		Amount:               r.Amount(),
		AmountLamports:       r.AmountLamports,
		PaymentAddress:       r.PaymentAddress,
		Status:               r.Status,
		ExpiresAt:            r.ExpiresAt,
		ExportType:           r.ExportType,
		TransactionSignature: r.TransactionSignature,
		PaidAt:               r.PaidAt,
	}
}
