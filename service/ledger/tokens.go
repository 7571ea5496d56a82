package ledger

import "github.com/shopspring/decimal"

const (
	// SymbolSOL is the native token symbol and the default token of a record.
	SymbolSOL = "SOL"

	// SymbolUnknown is used for mints missing from the symbol table. The
	// price table maps it to zero.
	SymbolUnknown = "Unknown Token"

	// LamportsPerSOL converts native balances to whole SOL.
	LamportsPerSOL = 1_000_000_000

	// TokenProgramID is the SPL Token program.
	TokenProgramID = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"

	// WrappedSOLMint is the mint of wrapped SOL token accounts.
	WrappedSOLMint = "So11111111111111111111111111111111111111112"
)

// dustExp is the exponent of the largest absolute delta still treated as
// rounding noise, 0.000001.
const dustExp = -6

// IsDust reports whether d is too small to count as a transfer. A delta equal
// to 0.000001 is dust.
func IsDust(d decimal.Decimal) bool {
	return d.Abs().LessThanOrEqual(decimal.New(1, dustExp))
}

// MintSymbols maps well-known mints to their ticker symbol.
var MintSymbols = map[string]string{
	WrappedSOLMint: SymbolSOL,
	"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v": "USDC",
	"Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB": "USDT",
	"DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263": "BONK",
	"JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN":  "JUP",
	"4k3Dyjzvzp8eMZWUXbBCjEvwSkkk59S5iCNLY3QrkX6R": "RAY",
	"mSoLzYCxHdYgdzU16g5QSh3i5K3z3KZK7ytfqcJm7So":  "mSOL",
	"orcaEKTdK7LKz57vaAYr9QeNsVEPfiu6QeMU1kektZE":  "ORCA",
}

// SymbolForMint resolves a mint to its symbol, or SymbolUnknown.
func SymbolForMint(mint string) string {
	if s, ok := MintSymbols[mint]; ok {
		return s
	}
	return SymbolUnknown
}

// SwapProgramIDs are DEX programs whose instructions mark a swap.
var SwapProgramIDs = map[string]string{
	"9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM": "orca",
	"675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8": "raydium",
	"JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4":  "jupiter",
	"whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc":  "orca-whirlpool",
}

// LiquidityProgramIDs are pool programs whose instructions mark liquidity
// provision.
var LiquidityProgramIDs = map[string]string{
	"LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo":  "meteora-dlmm",
	"Eo7WjKq67rjJQSZxS6z3YkapzY3eMj6Xy8X5EQVn5UaB": "meteora-pools",
	"CAMMCzo5YL8w4VFF8KVHrK22GGUsp5VTaW7grrKgrWqK": "raydium-clmm",
}
