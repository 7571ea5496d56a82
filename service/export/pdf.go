package export

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/brojonat/soltax/service/ledger"
	"github.com/brojonat/soltax/service/summary"
	"github.com/go-pdf/fpdf"
)

type pdfColumn struct {
	title string
	width float64
	align string
	value func(ledger.Transaction) string
}

var pdfColumns = []pdfColumn{
	{"Date", 36, "L", func(tx ledger.Transaction) string { return tx.BlockTime.UTC().Format("2006-01-02 15:04") }},
	{"Type", 24, "L", func(tx ledger.Transaction) string { return TypeLabel(tx.Type) }},
	{"Token", 22, "L", tokenOf},
	{"Amount", 32, "R", func(tx ledger.Transaction) string { return formatAmount(tx.Amount) }},
	{"Price (USD)", 24, "R", func(tx ledger.Transaction) string { return formatUSD(tx.Price) }},
	{"Value (USD)", 26, "R", func(tx ledger.Transaction) string { return formatUSD(tx.Value) }},
	{"Fee (SOL)", 26, "R", func(tx ledger.Transaction) string { return formatFee(tx.Fee) }},
	{"Status", 18, "C", func(tx ledger.Transaction) string { return string(tx.Status) }},
	{"Signature", 69, "L", func(tx ledger.Transaction) string { return shorten(tx.ID, 40) }},
}

const pdfRowHeight = 6.0

// WritePDF renders a landscape A4 report: title, wallet and date range
// header, summary block and transaction table.
func WritePDF(w io.Writer, txs []ledger.Transaction, s summary.Summary, m Meta) error {
	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetTitle("Solana Transaction Report", true)
	pdf.SetMargins(10, 12, 10)
	pdf.SetAutoPageBreak(true, 15)
	pdf.AliasNbPages("")
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.SetTextColor(120, 120, 120)
		pdf.CellFormat(0, 8, fmt.Sprintf("Page %d/{nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 10, "Solana Transaction Report", "", 1, "L", false, 0, "")

	generated := m.GeneratedAt
	if generated.IsZero() {
		generated = time.Now()
	}
	pdf.SetFont("Helvetica", "", 10)
	header := [][2]string{
		{"Wallet", m.Address},
		{"Period", m.Start.UTC().Format(time.DateOnly) + " to " + m.End.UTC().Format(time.DateOnly)},
		{"Generated", generated.UTC().Format(time.RFC3339)},
	}
	for _, h := range header {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.CellFormat(25, 6, h[0], "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		pdf.CellFormat(0, 6, h[1], "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)

	writeSummaryBlock(pdf, s)
	pdf.Ln(4)
	writeTable(pdf, txs)

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("failed to render pdf: %w", err)
	}
	return nil
}

var typeTotalLabels = map[ledger.Type]string{
	ledger.TypeBuy:     "Bought (USD)",
	ledger.TypeSell:    "Sold (USD)",
	ledger.TypeSwap:    "Swapped (USD)",
	ledger.TypeLP:      "Liquidity (USD)",
	ledger.TypeAirdrop: "Airdrops (USD)",
}

// summaryLines returns the label/value pairs of the pdf summary block, with
// one line per reportable type in ledger.Types order.
func summaryLines(s summary.Summary) [][2]string {
	lines := [][2]string{
		{"Total transactions", strconv.Itoa(s.TotalTransactions)},
		{"Successful / failed", fmt.Sprintf("%d / %d", s.SuccessfulTransactions, s.FailedTransactions)},
		{"Total fees (SOL)", formatFee(s.TotalFeesLamports)},
		{"Total value (USD)", formatUSD(s.TotalValue)},
	}
	for _, t := range ledger.Types {
		b := s.TypeBucket(t)
		lines = append(lines, [2]string{typeTotalLabels[t], fmt.Sprintf("%s in %d", formatUSD(b.Value), b.Count)})
	}
	return append(lines, [2]string{"Net gain (USD)", formatUSD(s.NetGain)})
}

func writeSummaryBlock(pdf *fpdf.Fpdf, s summary.Summary) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, "Summary", "", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	for _, l := range summaryLines(s) {
		pdf.CellFormat(50, 5.5, l[0], "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 5.5, l[1], "", 1, "L", false, 0, "")
	}
}

func writeTable(pdf *fpdf.Fpdf, txs []ledger.Transaction) {
	head := func() {
		pdf.SetFont("Helvetica", "B", 9)
		pdf.SetFillColor(230, 230, 240)
		for _, c := range pdfColumns {
			pdf.CellFormat(c.width, pdfRowHeight+1, c.title, "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Helvetica", "", 8)
	}

	if len(txs) == 0 {
		pdf.SetFont("Helvetica", "I", 10)
		pdf.CellFormat(0, 8, "No transactions in this period.", "", 1, "L", false, 0, "")
		return
	}

	head()
	_, pageHeight := pdf.GetPageSize()
	_, _, _, bottom := pdf.GetMargins()
	for i, tx := range txs {
		if pdf.GetY()+pdfRowHeight > pageHeight-bottom {
			pdf.AddPage()
			head()
		}
		fill := i%2 == 1
		pdf.SetFillColor(247, 247, 250)
		if tx.Status == ledger.StatusFailed {
			pdf.SetTextColor(170, 40, 40)
		} else {
			pdf.SetTextColor(0, 0, 0)
		}
		for _, c := range pdfColumns {
			pdf.CellFormat(c.width, pdfRowHeight, c.value(tx), "1", 0, c.align, fill, 0, "")
		}
		pdf.Ln(-1)
	}
	pdf.SetTextColor(0, 0, 0)
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
