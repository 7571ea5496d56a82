package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Type is the semantic category assigned to a classified transaction.
type Type string

const (
	TypeBuy     Type = "buy"
	TypeSell    Type = "sell"
	TypeSwap    Type = "swap"
	TypeLP      Type = "lp"
	TypeAirdrop Type = "airdrop"
	TypeUnknown Type = "unknown"
)

// Types lists every reportable category in display order.
var Types = []Type{TypeBuy, TypeSell, TypeSwap, TypeLP, TypeAirdrop}

// Status records whether the chain executed the transaction.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// TokenBalance is one token account's balance as recorded in a transaction's
// pre or post settlement metadata.
type TokenBalance struct {
	AccountIndex int
	Owner        string
	Mint         string
	UIAmount     decimal.Decimal
}

// Instruction is a top-level instruction of a transaction message.
// Only the program id index is needed for classification.
type Instruction struct {
	ProgramIDIndex int
}

// SwapHint carries swap legs decoded directly from DEX instruction data.
// It is optional; envelopes built without a decoder leave it nil.
type SwapHint struct {
	Signer    string
	AMMs      []string
	InMint    string
	InAmount  decimal.Decimal
	OutMint   string
	OutAmount decimal.Decimal
}

// Envelope is one raw on-chain transaction plus its execution metadata.
// This is our domain model, independent of the RPC response format.
type Envelope struct {
	Signature         string
	Slot              uint64
	BlockTime         *time.Time // nil when the node did not report one
	Fee               uint64     // lamports
	Failed            bool
	HasMeta           bool
	AccountKeys       []string
	PreBalances       []uint64
	PostBalances      []uint64
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
	Instructions      []Instruction
	Logs              []string
	SwapHint          *SwapHint
}

// Transaction is a categorized, valued transaction record.
// Amount is always a magnitude; direction is carried by Type.
type Transaction struct {
	ID           string           `json:"id"`
	BlockTime    time.Time        `json:"blockTime"`
	Slot         uint64           `json:"slot"`
	Fee          uint64           `json:"fee"`
	Status       Status           `json:"status"`
	Type         Type             `json:"type"`
	Token        string           `json:"token"`
	TokenMint    string           `json:"tokenMint,omitempty"`
	Amount       decimal.Decimal  `json:"amount"`
	SwapTo       string           `json:"swapTo,omitempty"`
	SwapToAmount *decimal.Decimal `json:"swapToAmount,omitempty"`
	Price        decimal.Decimal  `json:"price"`
	Value        decimal.Decimal  `json:"value"`
}

// Reportable reports whether the transaction belongs in user-facing results.
// Successful transactions that never rose above dust stay unknown and are
// dropped; failed transactions are kept for their fees.
func (t Transaction) Reportable() bool {
	return t.Type != TypeUnknown || t.Status == StatusFailed
}
