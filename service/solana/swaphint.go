package solana

import (
	"fmt"
	"math/big"

	"github.com/brojonat/soltax/service/ledger"
	solanaswapgo "github.com/franco-bianco/solanaswap-go/solanaswap-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
)

// SwapDecoder extracts swap legs from a raw transaction. A nil hint with a nil
// error means the transaction carries no recognizable swap.
type SwapDecoder func(result *rpc.GetTransactionResult) (*ledger.SwapHint, error)

// DecodeSwap decodes DEX instruction data with solanaswap-go. The decoder
// indexes instruction accounts directly, so malformed transactions are
// recovered into errors.
func DecodeSwap(result *rpc.GetTransactionResult) (hint *ledger.SwapHint, err error) {
	if result == nil || result.Meta == nil || result.Transaction == nil {
		return nil, nil
	}
	defer func() {
		if r := recover(); r != nil {
			hint, err = nil, fmt.Errorf("swap decoder panicked: %v", r)
		}
	}()

	parser, err := solanaswapgo.NewTransactionParser(result)
	if err != nil {
		return nil, fmt.Errorf("failed to create swap parser: %w", err)
	}
	swaps, err := parser.ParseTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to parse swap instructions: %w", err)
	}
	if len(swaps) == 0 {
		return nil, nil
	}
	info, err := parser.ProcessSwapData(swaps)
	if err != nil {
		return nil, fmt.Errorf("failed to process swap data: %w", err)
	}

	hint = &ledger.SwapHint{
		AMMs:      info.AMMs,
		InMint:    info.TokenInMint.String(),
		InAmount:  scaled(info.TokenInAmount, info.TokenInDecimals),
		OutMint:   info.TokenOutMint.String(),
		OutAmount: scaled(info.TokenOutAmount, info.TokenOutDecimals),
	}
	if len(info.Signers) > 0 {
		hint.Signer = info.Signers[0].String()
	}
	return hint, nil
}

func scaled(raw uint64, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(raw), -int32(decimals))
}
