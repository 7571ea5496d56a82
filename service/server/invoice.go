package server

import (
	"encoding/base64"
	"fmt"
	"net/url"

	"github.com/brojonat/soltax/service/payment"
	"github.com/skip2/go-qrcode"
)

const (
	invoiceLabel   = "SolTax Export"
	invoiceMessage = "Payment for transaction history export"
)

// Invoice tells a wallet app how to settle a payment request.
type Invoice struct {
	PaymentURL string `json:"paymentUrl"` // Solana Pay transfer request
	Memo       string `json:"memo"`
	QRCodeData string `json:"qrCodeData"` // base64 PNG of PaymentURL
}

// NewInvoice builds the Solana Pay URL and QR code for req. The memo is the
// request id.
func NewInvoice(req *payment.Request) (*Invoice, error) {
	paymentURL := buildSolanaPayURL(req.PaymentAddress, req.Amount().String(), req.ID)

	qr, err := generateQRCode(paymentURL)
	if err != nil {
		return nil, err
	}
	return &Invoice{
		PaymentURL: paymentURL,
		Memo:       req.ID,
		QRCodeData: qr,
	}, nil
}

// buildSolanaPayURL creates a Solana Pay transfer request URL.
// Format: solana:{recipient}?amount={sol}&label={label}&message={message}&memo={memo}
func buildSolanaPayURL(recipient, amountSOL, memo string) string {
	params := url.Values{}
	params.Set("amount", amountSOL)
	params.Set("label", invoiceLabel)
	params.Set("message", invoiceMessage)
	params.Set("memo", memo)

	return fmt.Sprintf("solana:%s?%s", recipient, params.Encode())
}

// generateQRCode creates a QR code image from a payment URL and returns it as base64-encoded PNG.
func generateQRCode(data string) (string, error) {
	qr, err := qrcode.New(data, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("failed to create QR code: %w", err)
	}

	png, err := qr.PNG(256)
	if err != nil {
		return "", fmt.Errorf("failed to encode QR code as PNG: %w", err)
	}
	return base64.StdEncoding.EncodeToString(png), nil
}
