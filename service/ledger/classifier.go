package ledger

import (
	"github.com/shopspring/decimal"
)

// PriceLookup resolves a USD unit price for a token symbol. Implementations
// must never fail; unknown symbols resolve to a default.
type PriceLookup interface {
	PriceOf(symbol string) decimal.Decimal
}

// Classifier turns raw envelopes into categorized, valued transactions.
// It holds no mutable state and is safe for concurrent use.
type Classifier struct {
	rules  []Rule
	prices PriceLookup
}

// NewClassifier creates a classifier. With no rules the DefaultRules are used.
func NewClassifier(prices PriceLookup, rules ...Rule) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Classifier{rules: rules, prices: prices}
}

// Classify categorizes env from the point of view of wallet. It returns false
// when the envelope lacks settlement metadata or a block time.
//
// Instructions are scanned in order and the first instruction whose owning
// rule yields a result decides the type. When no instruction does, the
// wallet's native SOL delta decides, with deltas at or below the dust threshold
// leaving the type unknown. Failed envelopes skip the native fallback since
// their only balance change is the fee.
func (c *Classifier) Classify(env *Envelope, wallet string) (Transaction, bool) {
	if env == nil || !env.HasMeta || env.BlockTime == nil {
		return Transaction{}, false
	}

	tx := Transaction{
		ID:        env.Signature,
		BlockTime: env.BlockTime.UTC(),
		Slot:      env.Slot,
		Fee:       env.Fee,
		Status:    StatusSuccess,
		Type:      TypeUnknown,
		Token:     SymbolSOL,
		Amount:    decimal.Zero,
	}
	if env.Failed {
		tx.Status = StatusFailed
	}

	res, ok := c.matchInstructions(env, wallet)
	if !ok && !env.Failed {
		res, ok = nativeResult(env, wallet)
	}
	if ok {
		tx.Type = res.Type
		if res.Token != "" {
			tx.Token = res.Token
		}
		tx.TokenMint = res.TokenMint
		tx.Amount = res.Amount.Abs()
		tx.SwapTo = res.SwapTo
		tx.SwapToAmount = res.SwapToAmount
	}

	tx.Price = c.priceOf(tx.Token)
	tx.Value = tx.Amount.Mul(tx.Price)
	return tx, true
}

// ClassifyAll classifies every envelope and keeps the reportable records, in
// input order.
func (c *Classifier) ClassifyAll(envs []*Envelope, wallet string) []Transaction {
	out := make([]Transaction, 0, len(envs))
	for _, env := range envs {
		tx, ok := c.Classify(env, wallet)
		if !ok || !tx.Reportable() {
			continue
		}
		out = append(out, tx)
	}
	return out
}

func (c *Classifier) matchInstructions(env *Envelope, wallet string) (Result, bool) {
	for _, ix := range env.Instructions {
		if ix.ProgramIDIndex < 0 || ix.ProgramIDIndex >= len(env.AccountKeys) {
			continue
		}
		programID := env.AccountKeys[ix.ProgramIDIndex]
		for _, rule := range c.rules {
			if !rule.Match(programID, env) {
				continue
			}
			if res, ok := rule.Apply(env, wallet); ok {
				return res, true
			}
			break
		}
	}
	return Result{}, false
}

func nativeResult(env *Envelope, wallet string) (Result, bool) {
	delta, ok := nativeDelta(env, wallet)
	if !ok || IsDust(delta) {
		return Result{}, false
	}
	typ := TypeSell
	if delta.IsPositive() {
		typ = TypeBuy
	}
	return Result{Type: typ, Token: SymbolSOL, Amount: delta.Abs()}, true
}

func (c *Classifier) priceOf(symbol string) decimal.Decimal {
	if c.prices == nil {
		return decimal.Zero
	}
	p := c.prices.PriceOf(symbol)
	if p.IsNegative() {
		return decimal.Zero
	}
	return p
}
