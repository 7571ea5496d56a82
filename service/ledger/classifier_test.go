package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testWallet    = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
	testCounter   = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWN"
	systemProgram = "11111111111111111111111111111111"
	usdcMint      = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	orcaProgram   = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	meteoraDLMM   = "LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo"
)

// staticPrices is a fixed price table for tests.
type staticPrices map[string]decimal.Decimal

func (s staticPrices) PriceOf(symbol string) decimal.Decimal {
	if p, ok := s[symbol]; ok {
		return p
	}
	return decimal.Zero
}

var testPrices = staticPrices{
	"SOL":  decimal.NewFromInt(150),
	"USDC": decimal.NewFromInt(1),
	"BONK": decimal.RequireFromString("0.00002"),
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// newEnvelope builds a successful envelope with the wallet at account index 0,
// a counterparty at index 1 and the given program ids after them. Each program
// id gets one instruction, in order.
func newEnvelope(programs ...string) *Envelope {
	bt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	keys := append([]string{testWallet, testCounter}, programs...)
	ixs := make([]Instruction, len(programs))
	for i := range programs {
		ixs[i] = Instruction{ProgramIDIndex: i + 2}
	}
	pre := make([]uint64, len(keys))
	post := make([]uint64, len(keys))
	return &Envelope{
		Signature:    "5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7",
		Slot:         250_000_000,
		BlockTime:    &bt,
		Fee:          5000,
		HasMeta:      true,
		AccountKeys:  keys,
		PreBalances:  pre,
		PostBalances: post,
		Instructions: ixs,
	}
}

func TestClassify_NativeReceive(t *testing.T) {
	env := newEnvelope(systemProgram)
	env.PreBalances[0] = 1_000_000_000
	env.PostBalances[0] = 11_500_000_000

	c := NewClassifier(testPrices)
	tx, ok := c.Classify(env, testWallet)
	require.True(t, ok)

	assert.Equal(t, TypeBuy, tx.Type)
	assert.Equal(t, "SOL", tx.Token)
	assert.True(t, tx.Amount.Equal(dec("10.5")), "amount = %s", tx.Amount)
	assert.True(t, tx.Value.Equal(dec("10.5").Mul(decimal.NewFromInt(150))), "value = %s", tx.Value)
	assert.Equal(t, StatusSuccess, tx.Status)
	assert.Equal(t, env.Signature, tx.ID)
	assert.Equal(t, uint64(5000), tx.Fee)

	t.Logf("✓ +10.5 SOL classified as buy worth %s USD", tx.Value)
}

func TestClassify_NativeSend(t *testing.T) {
	env := newEnvelope(systemProgram)
	env.PreBalances[0] = 3_000_000_000
	env.PostBalances[0] = 1_000_000_000

	tx, ok := NewClassifier(testPrices).Classify(env, testWallet)
	require.True(t, ok)

	assert.Equal(t, TypeSell, tx.Type)
	assert.True(t, tx.Amount.Equal(dec("2")))
	assert.False(t, tx.Amount.IsNegative(), "amount is a magnitude")
}

func TestClassify_TokenSell(t *testing.T) {
	env := newEnvelope(TokenProgramID)
	env.PreTokenBalances = []TokenBalance{{AccountIndex: 1, Owner: testWallet, Mint: usdcMint, UIAmount: dec("500")}}
	env.PostTokenBalances = []TokenBalance{{AccountIndex: 1, Owner: testWallet, Mint: usdcMint, UIAmount: dec("0")}}

	tx, ok := NewClassifier(testPrices).Classify(env, testWallet)
	require.True(t, ok)

	assert.Equal(t, TypeSell, tx.Type)
	assert.Equal(t, "USDC", tx.Token)
	assert.Equal(t, usdcMint, tx.TokenMint)
	assert.True(t, tx.Amount.Equal(dec("500")))
	assert.True(t, tx.Price.Equal(dec("1")))
	assert.True(t, tx.Value.Equal(dec("500")))
}

func TestClassify_TokenBuyIgnoresOtherOwners(t *testing.T) {
	env := newEnvelope(TokenProgramID)
	env.PreTokenBalances = []TokenBalance{
		{AccountIndex: 1, Owner: testCounter, Mint: usdcMint, UIAmount: dec("1000")},
	}
	env.PostTokenBalances = []TokenBalance{
		{AccountIndex: 1, Owner: testCounter, Mint: usdcMint, UIAmount: dec("900")},
		{AccountIndex: 3, Owner: testWallet, Mint: usdcMint, UIAmount: dec("100")},
	}

	tx, ok := NewClassifier(testPrices).Classify(env, testWallet)
	require.True(t, ok)

	assert.Equal(t, TypeBuy, tx.Type)
	assert.True(t, tx.Amount.Equal(dec("100")), "new account contributes its full post amount")
}

func TestClassify_Swap(t *testing.T) {
	env := newEnvelope(orcaProgram)
	env.PreTokenBalances = []TokenBalance{
		{AccountIndex: 1, Owner: testWallet, Mint: usdcMint, UIAmount: dec("500")},
		{AccountIndex: 3, Owner: testWallet, Mint: WrappedSOLMint, UIAmount: dec("0")},
	}
	env.PostTokenBalances = []TokenBalance{
		{AccountIndex: 1, Owner: testWallet, Mint: usdcMint, UIAmount: dec("0")},
		{AccountIndex: 3, Owner: testWallet, Mint: WrappedSOLMint, UIAmount: dec("5")},
	}

	tx, ok := NewClassifier(testPrices).Classify(env, testWallet)
	require.True(t, ok)

	assert.Equal(t, TypeSwap, tx.Type)
	assert.Equal(t, "USDC", tx.Token)
	assert.True(t, tx.Amount.Equal(dec("500")))
	assert.Equal(t, "SOL", tx.SwapTo)
	require.NotNil(t, tx.SwapToAmount)
	assert.True(t, tx.SwapToAmount.Equal(dec("5")))
	assert.True(t, tx.Value.Equal(dec("500")))

	t.Logf("✓ swap %s %s -> %s %s", tx.Amount, tx.Token, tx.SwapToAmount, tx.SwapTo)
}

func TestClassify_SwapWithoutTwoLegsDefaultsToSOL(t *testing.T) {
	env := newEnvelope(orcaProgram)
	env.PostTokenBalances = []TokenBalance{{AccountIndex: 3, Owner: testWallet, Mint: usdcMint, UIAmount: dec("20")}}

	tx, ok := NewClassifier(testPrices).Classify(env, testWallet)
	require.True(t, ok)

	assert.Equal(t, TypeSwap, tx.Type)
	assert.Equal(t, "SOL", tx.Token)
	assert.True(t, tx.Price.Equal(dec("150")))
	assert.True(t, tx.Amount.IsZero())
	assert.Empty(t, tx.SwapTo)
}

func TestClassify_SwapUsesDecodedHint(t *testing.T) {
	env := newEnvelope(orcaProgram)
	env.SwapHint = &SwapHint{
		Signer:    testWallet,
		InMint:    WrappedSOLMint,
		InAmount:  dec("2"),
		OutMint:   usdcMint,
		OutAmount: dec("300"),
	}

	tx, ok := NewClassifier(testPrices).Classify(env, testWallet)
	require.True(t, ok)

	assert.Equal(t, TypeSwap, tx.Type)
	assert.Equal(t, "SOL", tx.Token)
	assert.True(t, tx.Amount.Equal(dec("2")))
	assert.Equal(t, "USDC", tx.SwapTo)
	assert.True(t, tx.Value.Equal(dec("300")))

	t.Run("hint for another signer is ignored", func(t *testing.T) {
		env.SwapHint.Signer = testCounter
		tx, ok := NewClassifier(testPrices).Classify(env, testWallet)
		require.True(t, ok)
		assert.True(t, tx.Amount.IsZero())
	})
}

func TestClassify_Liquidity(t *testing.T) {
	env := newEnvelope(meteoraDLMM)

	tx, ok := NewClassifier(testPrices).Classify(env, testWallet)
	require.True(t, ok)

	assert.Equal(t, TypeLP, tx.Type)
	assert.Equal(t, "SOL", tx.Token)
}

func TestClassify_Airdrop(t *testing.T) {
	bonk := "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
	env := newEnvelope(systemProgram)
	env.Logs = []string{"Program log: Instruction: MintTo", "Program log: claim AIRDROP"}
	env.PostTokenBalances = []TokenBalance{{AccountIndex: 4, Owner: testWallet, Mint: bonk, UIAmount: dec("1000000")}}

	tx, ok := NewClassifier(testPrices).Classify(env, testWallet)
	require.True(t, ok)

	assert.Equal(t, TypeAirdrop, tx.Type)
	assert.Equal(t, "BONK", tx.Token)
	assert.True(t, tx.Amount.Equal(dec("1000000")))
	assert.True(t, tx.Value.Equal(dec("20")))

	t.Run("existing accounts do not count as airdropped", func(t *testing.T) {
		env.PreTokenBalances = []TokenBalance{{AccountIndex: 4, Owner: testWallet, Mint: bonk, UIAmount: dec("10")}}
		tx, ok := NewClassifier(testPrices).Classify(env, testWallet)
		require.True(t, ok)
		assert.Equal(t, TypeAirdrop, tx.Type)
		assert.Equal(t, "SOL", tx.Token)
		assert.True(t, tx.Amount.IsZero())
	})
}

func TestClassify_UnknownMintPricesAtZero(t *testing.T) {
	env := newEnvelope(TokenProgramID)
	env.PostTokenBalances = []TokenBalance{{AccountIndex: 3, Owner: testWallet, Mint: "Gdq3kzF8CGxzHVFHyVXAKxZdGj5MFokKvjzxCQ2WBZyd", UIAmount: dec("42")}}

	tx, ok := NewClassifier(testPrices).Classify(env, testWallet)
	require.True(t, ok)

	assert.Equal(t, SymbolUnknown, tx.Token)
	assert.True(t, tx.Price.IsZero())
	assert.True(t, tx.Value.IsZero())
}

func TestClassify_DustBoundary(t *testing.T) {
	tests := []struct {
		name     string
		lamports uint64
		wantType Type
	}{
		{"below threshold", 999, TypeUnknown},
		{"exactly threshold", 1000, TypeUnknown},
		{"just above threshold", 1001, TypeBuy},
		{"well above", 5_000_000, TypeBuy},
	}

	c := NewClassifier(testPrices)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newEnvelope(systemProgram)
			env.PreBalances[0] = 2_000_000
			env.PostBalances[0] = 2_000_000 + tt.lamports

			tx, ok := c.Classify(env, testWallet)
			require.True(t, ok)
			assert.Equal(t, tt.wantType, tx.Type)
			if tt.wantType == TypeUnknown {
				assert.True(t, tx.Amount.IsZero())
				assert.False(t, tx.Reportable())
			} else {
				assert.True(t, tx.Reportable())
			}
		})
	}
}

func TestClassify_TokenDustIsIgnored(t *testing.T) {
	env := newEnvelope(TokenProgramID)
	env.PreTokenBalances = []TokenBalance{{AccountIndex: 1, Owner: testWallet, Mint: usdcMint, UIAmount: dec("10")}}
	env.PostTokenBalances = []TokenBalance{{AccountIndex: 1, Owner: testWallet, Mint: usdcMint, UIAmount: dec("10.000001")}}
	env.PreBalances[0] = 1_000_000_000
	env.PostBalances[0] = 1_200_000_000

	tx, ok := NewClassifier(testPrices).Classify(env, testWallet)
	require.True(t, ok)

	// The token rule declines, so the native fallback decides.
	assert.Equal(t, TypeBuy, tx.Type)
	assert.Equal(t, "SOL", tx.Token)
	assert.True(t, tx.Amount.Equal(dec("0.2")))
}

func TestClassify_FirstInstructionWins(t *testing.T) {
	env := newEnvelope(meteoraDLMM, orcaProgram)

	tx, ok := NewClassifier(testPrices).Classify(env, testWallet)
	require.True(t, ok)
	assert.Equal(t, TypeLP, tx.Type)

	env = newEnvelope(orcaProgram, meteoraDLMM)
	tx, ok = NewClassifier(testPrices).Classify(env, testWallet)
	require.True(t, ok)
	assert.Equal(t, TypeSwap, tx.Type)
}

func TestClassify_ProgramRuleShadowsAirdropLogs(t *testing.T) {
	// Token program instruction with no wallet delta declines; the airdrop
	// rule is not consulted for that instruction.
	env := newEnvelope(TokenProgramID)
	env.Logs = []string{"Program log: Instruction: MintTo"}

	tx, ok := NewClassifier(testPrices).Classify(env, testWallet)
	require.True(t, ok)
	assert.Equal(t, TypeUnknown, tx.Type)
}

func TestClassify_Discarded(t *testing.T) {
	c := NewClassifier(testPrices)

	t.Run("nil envelope", func(t *testing.T) {
		_, ok := c.Classify(nil, testWallet)
		assert.False(t, ok)
	})

	t.Run("no block time", func(t *testing.T) {
		env := newEnvelope(systemProgram)
		env.BlockTime = nil
		_, ok := c.Classify(env, testWallet)
		assert.False(t, ok)
	})

	t.Run("no settlement metadata", func(t *testing.T) {
		env := newEnvelope(systemProgram)
		env.HasMeta = false
		_, ok := c.Classify(env, testWallet)
		assert.False(t, ok)
	})
}

func TestClassify_FailedKeepsFeeOnly(t *testing.T) {
	env := newEnvelope(systemProgram)
	env.Failed = true
	env.PreBalances[0] = 1_000_000_000
	env.PostBalances[0] = 1_000_000_000 - 5000

	tx, ok := NewClassifier(testPrices).Classify(env, testWallet)
	require.True(t, ok)

	assert.Equal(t, StatusFailed, tx.Status)
	assert.Equal(t, TypeUnknown, tx.Type)
	assert.True(t, tx.Amount.IsZero())
	assert.Equal(t, uint64(5000), tx.Fee)
	assert.True(t, tx.Reportable(), "failed transactions are kept for their fees")
}

func TestClassify_ValueIsAmountTimesPrice(t *testing.T) {
	amounts := []string{"0", "0.000002", "1", "10.5", "123456.789012345"}
	c := NewClassifier(testPrices)

	for _, a := range amounts {
		env := newEnvelope(TokenProgramID)
		env.PostTokenBalances = []TokenBalance{{AccountIndex: 3, Owner: testWallet, Mint: WrappedSOLMint, UIAmount: dec(a)}}

		tx, ok := c.Classify(env, testWallet)
		require.True(t, ok)
		assert.True(t, tx.Value.Equal(tx.Amount.Mul(tx.Price)), "amount=%s price=%s value=%s", tx.Amount, tx.Price, tx.Value)
	}
}

func TestClassify_InstructionIndexOutOfRange(t *testing.T) {
	env := newEnvelope()
	env.Instructions = []Instruction{{ProgramIDIndex: 99}}
	env.PreBalances[0] = 0
	env.PostBalances[0] = 1_000_000_000

	tx, ok := NewClassifier(testPrices).Classify(env, testWallet)
	require.True(t, ok)
	assert.Equal(t, TypeBuy, tx.Type)
}

func TestClassifier_CustomRuleOrder(t *testing.T) {
	env := newEnvelope(orcaProgram)
	env.Logs = []string{"airdrop"}

	c := NewClassifier(testPrices, AirdropLogRule(), SwapProgramRule(SwapProgramIDs))
	tx, ok := c.Classify(env, testWallet)
	require.True(t, ok)
	assert.Equal(t, TypeAirdrop, tx.Type)

	names := make([]string, 0)
	for _, r := range NewClassifier(testPrices).rules {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"token-program", "swap-program", "liquidity-program", "airdrop-log"}, names)
}

func TestClassifyAll_FiltersUnreportable(t *testing.T) {
	dust := newEnvelope(systemProgram)
	dust.PostBalances[0] = 10

	received := newEnvelope(systemProgram)
	received.PostBalances[0] = 1_000_000_000

	noTime := newEnvelope(systemProgram)
	noTime.BlockTime = nil

	txs := NewClassifier(testPrices).ClassifyAll([]*Envelope{dust, received, noTime}, testWallet)
	require.Len(t, txs, 1)
	assert.Equal(t, TypeBuy, txs[0].Type)
}

func TestIsDust(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"0", true},
		{"0.000001", true},
		{"-0.000001", true},
		{"0.0000010001", false},
		{"-0.000002", false},
		{"1", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsDust(decimal.RequireFromString(tt.in)), tt.in)
	}
}
