package nats

import (
	"fmt"
	"strings"
	"time"

	"github.com/brojonat/soltax/service/payment"
)

// PaymentEvent is the message published whenever a payment request changes
// state.
type PaymentEvent struct {
	RequestID            string     `json:"request_id"`
	Status               string     `json:"status"`
	ExportType           string     `json:"export_type"`
	WalletAddress        string     `json:"wallet_address"`
	PaymentAddress       string     `json:"payment_address"`
	AmountLamports       uint64     `json:"amount_lamports"`
	TransactionSignature string     `json:"transaction_signature,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	ExpiresAt            time.Time  `json:"expires_at"`
	PaidAt               *time.Time `json:"paid_at,omitempty"`
	PublishedAt          time.Time  `json:"published_at"`
}

// FromPaymentRequest converts a payment request into its event form.
func FromPaymentRequest(r *payment.Request) *PaymentEvent {
	ev := &PaymentEvent{
		RequestID:            r.ID,
		Status:               string(r.Status),
		ExportType:           string(r.ExportType),
		WalletAddress:        r.WalletAddress,
		PaymentAddress:       r.PaymentAddress,
		AmountLamports:       r.AmountLamports,
		TransactionSignature: r.TransactionSignature,
		CreatedAt:            r.CreatedAt,
		ExpiresAt:            r.ExpiresAt,
		PublishedAt:          time.Now().UTC(),
	}
	if r.PaidAt != nil {
		t := *r.PaidAt
		ev.PaidAt = &t
	}
	return ev
}

// Subject returns the subject an event for the given status and request is
// published on: payments.{status}.{request_id}.
func Subject(status payment.Status, requestID string) string {
	return fmt.Sprintf("payments.%s.%s", status, requestID)
}

// RequestSubject matches every event for one request regardless of status.
func RequestSubject(requestID string) string {
	return "payments.*." + requestID
}

// Terminal reports whether the event closes the request's lifecycle.
func (e *PaymentEvent) Terminal() bool {
	return payment.Status(strings.ToLower(e.Status)).Terminal()
}
