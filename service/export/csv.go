package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/brojonat/soltax/service/ledger"
	"github.com/brojonat/soltax/service/summary"
)

var csvHeader = []string{
	"Date",
	"Time",
	"Transaction Type",
	"Token",
	"Amount",
	"Price (USD)",
	"Value (USD)",
	"Fee (SOL)",
	"Transaction Hash",
	"Swap To",
	"Swap To Amount",
	"Status",
	"Notes",
}

// WriteCSV writes one row per transaction followed by a blank row and the
// report summary.
func WriteCSV(w io.Writer, txs []ledger.Transaction, s summary.Summary, m Meta) error {
	cw := csv.NewWriter(w)

	rows := make([][]string, 0, len(txs)+10)
	rows = append(rows, csvHeader)
	for _, tx := range txs {
		rows = append(rows, csvRow(tx))
	}
	rows = append(rows, summaryRows(s, m)...)

	for _, row := range rows {
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvRow(tx ledger.Transaction) []string {
	t := tx.BlockTime.UTC()
	swapToAmount := ""
	if tx.SwapToAmount != nil {
		swapToAmount = formatAmount(*tx.SwapToAmount)
	}
	return []string{
		t.Format("2006-01-02"),
		t.Format("15:04:05"),
		TypeLabel(tx.Type),
		tokenOf(tx),
		formatAmount(tx.Amount),
		formatUSD(tx.Price),
		formatUSD(tx.Value),
		formatFee(tx.Fee),
		tx.ID,
		tx.SwapTo,
		swapToAmount,
		string(tx.Status),
		Notes(tx),
	}
}

func summaryRows(s summary.Summary, m Meta) [][]string {
	labelled := func(label, value string) []string {
		row := make([]string, len(csvHeader))
		row[0], row[1] = label, value
		return row
	}
	heading := make([]string, len(csvHeader))
	heading[0], heading[2] = "SUMMARY", "REPORT SUMMARY"

	return [][]string{
		make([]string, len(csvHeader)),
		heading,
		labelled("Wallet Address", m.Address),
		labelled("Date Range", m.Start.UTC().Format(rangeLayout)+" - "+m.End.UTC().Format(rangeLayout)),
		labelled("Total Transactions", strconv.Itoa(s.TotalTransactions)),
		labelled("Successful Transactions", strconv.Itoa(s.SuccessfulTransactions)),
		labelled("Failed Transactions", strconv.Itoa(s.FailedTransactions)),
		labelled("Total Fees (SOL)", formatFee(s.TotalFeesLamports)),
		labelled("Total Value (USD)", formatUSD(s.TotalValue)),
	}
}

const rangeLayout = "Mon Jan 02 2006"
