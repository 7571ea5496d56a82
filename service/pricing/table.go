package pricing

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// UnknownSymbol is always present in the table at price zero.
const UnknownSymbol = "Unknown Token"

// DefaultSeed is the fallback table used when no seed is configured. The
// numbers are approximate and go stale; deployments override them with
// PRICE_SEED and the live refresher replaces them within one interval.
func DefaultSeed() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		"SOL":         decimal.NewFromInt(150),
		"USDC":        decimal.NewFromInt(1),
		"USDT":        decimal.NewFromInt(1),
		"BONK":        decimal.RequireFromString("0.00002"),
		"JUP":         decimal.RequireFromString("0.80"),
		"RAY":         decimal.RequireFromString("2.00"),
		"mSOL":        decimal.NewFromInt(170),
		"ORCA":        decimal.RequireFromString("3.00"),
		UnknownSymbol: decimal.Zero,
	}
}

// Table is a process-wide symbol → USD unit price mapping. Readers and the
// refresher may use it concurrently; writes replace whole entries.
type Table struct {
	mu       sync.RWMutex
	prices   map[string]decimal.Decimal
	fallback decimal.Decimal
}

// NewTable creates a table seeded with seed. Negative seed prices are
// dropped. Unknown symbols resolve to fallback.
func NewTable(seed map[string]decimal.Decimal, fallback decimal.Decimal) *Table {
	if fallback.IsNegative() {
		fallback = decimal.Zero
	}
	t := &Table{
		prices:   make(map[string]decimal.Decimal, len(seed)+1),
		fallback: fallback,
	}
	for sym, p := range seed {
		if p.IsNegative() {
			continue
		}
		t.prices[sym] = p
	}
	t.prices[UnknownSymbol] = decimal.Zero
	return t
}

// PriceOf returns the current USD price of symbol. It never fails.
func (t *Table) PriceOf(symbol string) decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if p, ok := t.prices[symbol]; ok {
		return p
	}
	return t.fallback
}

// Set replaces the entry for symbol. Negative prices are ignored.
func (t *Table) Set(symbol string, price decimal.Decimal) bool {
	if symbol == "" || symbol == UnknownSymbol || price.IsNegative() {
		return false
	}
	t.mu.Lock()
	t.prices[symbol] = price
	t.mu.Unlock()
	return true
}

// Symbols returns the symbols in the table, sorted, excluding UnknownSymbol.
func (t *Table) Symbols() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.prices))
	for k := range t.prices {
		if k != UnknownSymbol {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// ParseSeed parses "SOL=150,USDC=1" into a seed map.
func ParseSeed(s string) (map[string]decimal.Decimal, error) {
	seed := make(map[string]decimal.Decimal)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		sym, raw, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(sym) == "" {
			return nil, fmt.Errorf("invalid price seed entry %q: expected SYMBOL=PRICE", part)
		}
		p, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid price for %s: %w", sym, err)
		}
		if p.IsNegative() {
			return nil, fmt.Errorf("invalid price for %s: must be >= 0", sym)
		}
		seed[strings.TrimSpace(sym)] = p
	}
	return seed, nil
}
