package export

import (
	"fmt"
	"time"

	"github.com/brojonat/soltax/service/ledger"
)

// PreviewLimit is how many transactions a preview shows.
const PreviewLimit = 10

// Preview summarizes what an export of a range would contain.
type Preview struct {
	Address       string               `json:"address"`
	DateRange     PreviewRange         `json:"dateRange"`
	Transactions  []ledger.Transaction `json:"preview"`
	TotalCount    int                  `json:"totalCount"`
	EstimatedSize EstimatedSize        `json:"estimatedSize"`
}

// PreviewRange is the requested window.
type PreviewRange struct {
	Start time.Time `json:"startDate"`
	End   time.Time `json:"endDate"`
}

// EstimatedSize is a rough file size per format, e.g. "5KB".
type EstimatedSize struct {
	CSV string `json:"csv"`
	PDF string `json:"pdf"`
}

// NewPreview keeps the first PreviewLimit transactions of txs and estimates
// export sizes at half a kilobyte per CSV row and two per PDF row.
func NewPreview(address string, start, end time.Time, txs []ledger.Transaction) *Preview {
	head := txs
	if len(head) > PreviewLimit {
		head = head[:PreviewLimit]
	}
	shown := make([]ledger.Transaction, len(head))
	copy(shown, head)

	n := len(txs)
	return &Preview{
		Address:      address,
		DateRange:    PreviewRange{Start: start, End: end},
		Transactions: shown,
		TotalCount:   n,
		EstimatedSize: EstimatedSize{
			CSV: fmt.Sprintf("%dKB", (n+1)/2),
			PDF: fmt.Sprintf("%dKB", n*2),
		},
	}
}
