package solana

import (
	"fmt"

	"github.com/brojonat/soltax/service/ledger"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
)

// envelopeFromResult converts a GetTransaction result into a ledger envelope.
// Account keys loaded through address lookup tables are appended after the
// static keys so that balance and instruction indices resolve against the
// full list.
func envelopeFromResult(signature string, result *rpc.GetTransactionResult) (*ledger.Envelope, error) {
	if result == nil || result.Transaction == nil {
		return nil, ErrTransactionNotFound
	}

	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}

	env := &ledger.Envelope{
		Signature: signature,
		Slot:      result.Slot,
	}
	if result.BlockTime != nil {
		t := result.BlockTime.Time().UTC()
		env.BlockTime = &t
	}

	keys := make(solana.PublicKeySlice, 0, len(tx.Message.AccountKeys))
	keys = append(keys, tx.Message.AccountKeys...)

	if meta := result.Meta; meta != nil {
		env.HasMeta = true
		env.Fee = meta.Fee
		env.Failed = meta.Err != nil
		env.PreBalances = meta.PreBalances
		env.PostBalances = meta.PostBalances
		env.PreTokenBalances = tokenBalances(meta.PreTokenBalances)
		env.PostTokenBalances = tokenBalances(meta.PostTokenBalances)
		env.Logs = meta.LogMessages

		keys = append(keys, meta.LoadedAddresses.Writable...)
		keys = append(keys, meta.LoadedAddresses.ReadOnly...)
	}

	env.AccountKeys = make([]string, len(keys))
	for i, k := range keys {
		env.AccountKeys[i] = k.String()
	}

	env.Instructions = make([]ledger.Instruction, len(tx.Message.Instructions))
	for i, ix := range tx.Message.Instructions {
		env.Instructions[i] = ledger.Instruction{ProgramIDIndex: int(ix.ProgramIDIndex)}
	}

	return env, nil
}

func tokenBalances(in []rpc.TokenBalance) []ledger.TokenBalance {
	if len(in) == 0 {
		return nil
	}
	out := make([]ledger.TokenBalance, 0, len(in))
	for _, b := range in {
		tb := ledger.TokenBalance{
			AccountIndex: int(b.AccountIndex),
			Mint:         b.Mint.String(),
			UIAmount:     uiAmount(b.UiTokenAmount),
		}
		if b.Owner != nil {
			tb.Owner = b.Owner.String()
		}
		out = append(out, tb)
	}
	return out
}

// uiAmount prefers the exact string form, then the raw integer amount scaled
// by decimals, then the float form.
func uiAmount(a *rpc.UiTokenAmount) decimal.Decimal {
	if a == nil {
		return decimal.Zero
	}
	if a.UiAmountString != "" {
		if d, err := decimal.NewFromString(a.UiAmountString); err == nil {
			return d
		}
	}
	if a.Amount != "" {
		if d, err := decimal.NewFromString(a.Amount); err == nil {
			return d.Shift(-int32(a.Decimals))
		}
	}
	if a.UiAmount != nil {
		return decimal.NewFromFloat(*a.UiAmount)
	}
	return decimal.Zero
}

// lamportDelta returns post minus pre lamports of address, and false when the
// address is not part of the transaction or balances are missing.
func lamportDelta(env *ledger.Envelope, address string) (int64, bool) {
	for i, k := range env.AccountKeys {
		if k != address {
			continue
		}
		if i >= len(env.PreBalances) || i >= len(env.PostBalances) {
			return 0, false
		}
		return int64(env.PostBalances[i]) - int64(env.PreBalances[i]), true
	}
	return 0, false
}

// touchesProgram reports whether any top-level instruction invokes one of
// programs.
func touchesProgram(env *ledger.Envelope, programs map[string]string) bool {
	for _, ix := range env.Instructions {
		if ix.ProgramIDIndex < 0 || ix.ProgramIDIndex >= len(env.AccountKeys) {
			continue
		}
		if _, ok := programs[env.AccountKeys[ix.ProgramIDIndex]]; ok {
			return true
		}
	}
	return false
}
