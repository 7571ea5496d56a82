// Package export renders classified transactions as tax-report files.
package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/brojonat/soltax/service/ledger"
	"github.com/shopspring/decimal"
)

// Format is an export file format.
type Format string

const (
	FormatCSV Format = "csv"
	FormatPDF Format = "pdf"
)

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	if f == FormatPDF {
		return "application/pdf"
	}
	return "text/csv"
}

// Meta describes the report being exported.
type Meta struct {
	Address     string
	Start       time.Time
	End         time.Time
	GeneratedAt time.Time
}

// Filename is the download name for a report.
func Filename(m Meta, f Format) string {
	return fmt.Sprintf("solana-transactions-%s-%s-%s.%s",
		m.Address, m.Start.UTC().Format(time.DateOnly), m.End.UTC().Format(time.DateOnly), f)
}

var typeLabels = map[ledger.Type]string{
	ledger.TypeBuy:     "Purchase",
	ledger.TypeSell:    "Sale",
	ledger.TypeSwap:    "Swap",
	ledger.TypeLP:      "Liquidity",
	ledger.TypeAirdrop: "Airdrop",
}

// TypeLabel is the tax-report name of a transaction type.
func TypeLabel(t ledger.Type) string {
	if l, ok := typeLabels[t]; ok {
		return l
	}
	return "Other"
}

// Notes explains a transaction in a few words.
func Notes(tx ledger.Transaction) string {
	var notes []string
	switch tx.Type {
	case ledger.TypeSwap:
		notes = append(notes, "DEX swap transaction")
	case ledger.TypeLP:
		notes = append(notes, "Liquidity pool activity")
	case ledger.TypeAirdrop:
		notes = append(notes, "Token airdrop")
	}
	if tx.Status == ledger.StatusFailed {
		notes = append(notes, "Transaction failed")
	}
	return strings.Join(notes, "; ")
}

func formatAmount(d decimal.Decimal) string {
	if d.IsZero() {
		return "0"
	}
	return d.StringFixed(8)
}

func formatUSD(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func formatFee(lamports uint64) string {
	if lamports == 0 {
		return "0"
	}
	return decimal.New(int64(lamports), -9).StringFixed(9)
}

func tokenOf(tx ledger.Transaction) string {
	if tx.Token == "" {
		return ledger.SymbolSOL
	}
	return tx.Token
}
