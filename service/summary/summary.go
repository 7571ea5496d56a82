// Package summary folds classified transactions into report statistics.
package summary

import (
	"github.com/brojonat/soltax/service/ledger"
	"github.com/shopspring/decimal"
)

// Bucket is a count and USD total.
type Bucket struct {
	Count int             `json:"count"`
	Value decimal.Decimal `json:"value"`
}

func (b *Bucket) add(v decimal.Decimal) {
	b.Count++
	b.Value = b.Value.Add(v)
}

// TokenSummary aggregates every transaction whose primary token is the same.
type TokenSummary struct {
	Count        int                     `json:"count"`
	Value        decimal.Decimal         `json:"value"`
	TotalAmount  decimal.Decimal         `json:"totalAmount"`
	TotalBought  decimal.Decimal         `json:"totalBought"`
	TotalSold    decimal.Decimal         `json:"totalSold"`
	TotalSwapped decimal.Decimal         `json:"totalSwapped"`
	BuyCount     int                     `json:"buyCount"`
	SellCount    int                     `json:"sellCount"`
	SwapCount    int                     `json:"swapCount"`
	ByType       map[ledger.Type]*Bucket `json:"byType"`
}

// Summary is the per-run statistics of a transaction list. Money totals are
// USD; TotalFees is SOL.
type Summary struct {
	TotalTransactions      int `json:"totalTransactions"`
	SuccessfulTransactions int `json:"successfulTransactions"`
	FailedTransactions     int `json:"failedTransactions"`

	TotalFeesLamports uint64          `json:"totalFeesLamports"`
	TotalFees         decimal.Decimal `json:"totalFees"`
	TotalValue        decimal.Decimal `json:"totalValue"`

	ByType  map[ledger.Type]*Bucket  `json:"byType"`
	ByToken map[string]*TokenSummary `json:"tokens"`

	TotalBought   decimal.Decimal `json:"totalBought"`
	TotalSold     decimal.Decimal `json:"totalSold"`
	TotalSwapped  decimal.Decimal `json:"totalSwapped"`
	TotalLP       decimal.Decimal `json:"totalLP"`
	TotalAirdrops decimal.Decimal `json:"totalAirdrops"`

	BuyCount     int `json:"buyCount"`
	SellCount    int `json:"sellCount"`
	SwapCount    int `json:"swapCount"`
	LPCount      int `json:"lpCount"`
	AirdropCount int `json:"airdropCount"`

	NetGain     decimal.Decimal `json:"netGain"`
	TotalVolume decimal.Decimal `json:"totalVolume"`
}

// Aggregate computes the summary of txs. The numeric results do not depend on
// input order, and an empty input yields all zeros.
func Aggregate(txs []ledger.Transaction) Summary {
	s := Summary{
		TotalFees:     decimal.Zero,
		TotalValue:    decimal.Zero,
		ByType:        make(map[ledger.Type]*Bucket),
		ByToken:       make(map[string]*TokenSummary),
		TotalBought:   decimal.Zero,
		TotalSold:     decimal.Zero,
		TotalSwapped:  decimal.Zero,
		TotalLP:       decimal.Zero,
		TotalAirdrops: decimal.Zero,
	}

	for _, tx := range txs {
		s.TotalTransactions++
		switch tx.Status {
		case ledger.StatusSuccess:
			s.SuccessfulTransactions++
		case ledger.StatusFailed:
			s.FailedTransactions++
		}
		s.TotalFeesLamports += tx.Fee
		s.TotalValue = s.TotalValue.Add(tx.Value)

		bucket(s.ByType, tx.Type).add(tx.Value)

		token := tx.Token
		if token == "" {
			token = ledger.SymbolSOL
		}
		ts, ok := s.ByToken[token]
		if !ok {
			ts = newTokenSummary()
			s.ByToken[token] = ts
		}
		ts.Count++
		ts.Value = ts.Value.Add(tx.Value)
		bucket(ts.ByType, tx.Type).add(tx.Value)

		switch tx.Type {
		case ledger.TypeBuy:
			s.TotalBought = s.TotalBought.Add(tx.Value)
			s.BuyCount++
			ts.TotalBought = ts.TotalBought.Add(tx.Value)
			ts.BuyCount++
			ts.TotalAmount = ts.TotalAmount.Add(tx.Amount)
		case ledger.TypeSell:
			s.TotalSold = s.TotalSold.Add(tx.Value)
			s.SellCount++
			ts.TotalSold = ts.TotalSold.Add(tx.Value)
			ts.SellCount++
			ts.TotalAmount = ts.TotalAmount.Add(tx.Amount)
		case ledger.TypeSwap:
			s.TotalSwapped = s.TotalSwapped.Add(tx.Value)
			s.SwapCount++
			ts.TotalSwapped = ts.TotalSwapped.Add(tx.Value)
			ts.SwapCount++
			ts.TotalAmount = ts.TotalAmount.Add(tx.Amount)
		case ledger.TypeLP:
			s.TotalLP = s.TotalLP.Add(tx.Value)
			s.LPCount++
		case ledger.TypeAirdrop:
			s.TotalAirdrops = s.TotalAirdrops.Add(tx.Value)
			s.AirdropCount++
		}
	}

	s.TotalFees = decimal.New(int64(s.TotalFeesLamports), -9)
	s.NetGain = s.TotalSold.Sub(s.TotalBought)
	s.TotalVolume = s.TotalBought.Add(s.TotalSold).Add(s.TotalSwapped)
	return s
}

// AverageValue is TotalValue / TotalTransactions, or zero for an empty run.
func (s Summary) AverageValue() decimal.Decimal {
	if s.TotalTransactions == 0 {
		return decimal.Zero
	}
	return s.TotalValue.Div(decimal.NewFromInt(int64(s.TotalTransactions)))
}

// TypeBucket returns the bucket for t, zero when absent.
func (s Summary) TypeBucket(t ledger.Type) Bucket {
	if b, ok := s.ByType[t]; ok {
		return *b
	}
	return Bucket{Value: decimal.Zero}
}

func bucket(m map[ledger.Type]*Bucket, t ledger.Type) *Bucket {
	b, ok := m[t]
	if !ok {
		b = &Bucket{Value: decimal.Zero}
		m[t] = b
	}
	return b
}

func newTokenSummary() *TokenSummary {
	return &TokenSummary{
		Value:        decimal.Zero,
		TotalAmount:  decimal.Zero,
		TotalBought:  decimal.Zero,
		TotalSold:    decimal.Zero,
		TotalSwapped: decimal.Zero,
		ByType:       make(map[ledger.Type]*Bucket),
	}
}
