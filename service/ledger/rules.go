package ledger

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Result is the partial classification a rule contributes. Price and value
// are resolved by the Classifier once the token is fixed.
type Result struct {
	Type         Type
	Token        string
	TokenMint    string
	Amount       decimal.Decimal
	SwapTo       string
	SwapToAmount *decimal.Decimal
}

// Rule is one entry of the classification priority list. For a given
// instruction the first rule whose Match accepts the program id owns it; Apply
// then either yields a result or declines, in which case the instruction
// contributes nothing.
type Rule struct {
	Name  string
	Match func(programID string, env *Envelope) bool
	Apply func(env *Envelope, wallet string) (Result, bool)
}

// DefaultRules returns the production priority order: direct token program
// transfers, known swap programs, known liquidity programs, then airdrop/mint
// log markers.
func DefaultRules() []Rule {
	return []Rule{
		TokenProgramRule(),
		SwapProgramRule(SwapProgramIDs),
		LiquidityProgramRule(LiquidityProgramIDs),
		AirdropLogRule(),
	}
}

// TokenProgramRule classifies SPL token program instructions by the first
// non-dust wallet token delta.
func TokenProgramRule() Rule {
	return Rule{
		Name: "token-program",
		Match: func(programID string, _ *Envelope) bool {
			return programID == TokenProgramID
		},
		Apply: func(env *Envelope, wallet string) (Result, bool) {
			deltas := walletTokenDeltas(env, wallet)
			if len(deltas) == 0 {
				return Result{}, false
			}
			d := deltas[0]
			typ := TypeSell
			if d.delta.IsPositive() {
				typ = TypeBuy
			}
			return Result{
				Type:      typ,
				Token:     SymbolForMint(d.mint),
				TokenMint: d.mint,
				Amount:    d.delta.Abs(),
			}, true
		},
	}
}

// SwapProgramRule classifies instructions of the given DEX programs as swaps.
// The first two wallet token deltas give the legs; a decoded swap hint for the
// wallet is used when the balances alone do not show both legs.
func SwapProgramRule(programs map[string]string) Rule {
	return Rule{
		Name: "swap-program",
		Match: func(programID string, _ *Envelope) bool {
			_, ok := programs[programID]
			return ok
		},
		Apply: func(env *Envelope, wallet string) (Result, bool) {
			res := Result{Type: TypeSwap, Token: SymbolSOL}

			if deltas := walletTokenDeltas(env, wallet); len(deltas) >= 2 {
				from, to := deltas[0], deltas[1]
				toAmount := to.delta.Abs()
				res.Token = SymbolForMint(from.mint)
				res.TokenMint = from.mint
				res.Amount = from.delta.Abs()
				res.SwapTo = SymbolForMint(to.mint)
				res.SwapToAmount = &toAmount
				return res, true
			}

			if h := env.SwapHint; h != nil && h.Signer == wallet && !IsDust(h.InAmount) {
				outAmount := h.OutAmount.Abs()
				res.Token = SymbolForMint(h.InMint)
				res.TokenMint = h.InMint
				res.Amount = h.InAmount.Abs()
				res.SwapTo = SymbolForMint(h.OutMint)
				res.SwapToAmount = &outAmount
			}
			return res, true
		},
	}
}

// LiquidityProgramRule marks instructions of the given pool programs as
// liquidity activity.
func LiquidityProgramRule(programs map[string]string) Rule {
	return Rule{
		Name: "liquidity-program",
		Match: func(programID string, _ *Envelope) bool {
			_, ok := programs[programID]
			return ok
		},
		Apply: func(*Envelope, string) (Result, bool) {
			return Result{Type: TypeLP, Token: SymbolSOL}, true
		},
	}
}

// AirdropLogRule matches any instruction of an envelope whose logs mention an
// airdrop or a mint. The first token account newly created for the wallet
// gives the token and amount.
func AirdropLogRule() Rule {
	return Rule{
		Name: "airdrop-log",
		Match: func(_ string, env *Envelope) bool {
			return logsMention(env.Logs, "airdrop", "mint")
		},
		Apply: func(env *Envelope, wallet string) (Result, bool) {
			res := Result{Type: TypeAirdrop, Token: SymbolSOL}
			for _, d := range walletTokenDeltas(env, wallet) {
				if !d.isNew {
					continue
				}
				res.Token = SymbolForMint(d.mint)
				res.TokenMint = d.mint
				res.Amount = d.delta.Abs()
				break
			}
			return res, true
		},
	}
}

func logsMention(logs []string, needles ...string) bool {
	for _, line := range logs {
		lower := strings.ToLower(line)
		for _, n := range needles {
			if strings.Contains(lower, n) {
				return true
			}
		}
	}
	return false
}
