package ledger

import "github.com/shopspring/decimal"

// tokenDelta is the change of one wallet-owned token account across a
// transaction.
type tokenDelta struct {
	accountIndex int
	mint         string
	delta        decimal.Decimal
	isNew        bool
}

// walletTokenDeltas returns the non-dust token account changes owned by
// wallet, in post-balance order. An account with no pre entry contributes its
// full post amount. Accounts present only in pre (closed accounts) contribute
// the negated pre amount.
func walletTokenDeltas(env *Envelope, wallet string) []tokenDelta {
	pre := make(map[int]TokenBalance, len(env.PreTokenBalances))
	for _, b := range env.PreTokenBalances {
		if b.Owner == wallet {
			pre[b.AccountIndex] = b
		}
	}

	var deltas []tokenDelta
	seen := make(map[int]bool, len(env.PostTokenBalances))
	for _, post := range env.PostTokenBalances {
		if post.Owner != wallet {
			continue
		}
		seen[post.AccountIndex] = true

		d := tokenDelta{accountIndex: post.AccountIndex, mint: post.Mint}
		if before, ok := pre[post.AccountIndex]; ok {
			d.delta = post.UIAmount.Sub(before.UIAmount)
		} else {
			d.delta = post.UIAmount
			d.isNew = true
		}
		if IsDust(d.delta) {
			continue
		}
		deltas = append(deltas, d)
	}

	for _, before := range env.PreTokenBalances {
		if before.Owner != wallet || seen[before.AccountIndex] {
			continue
		}
		d := tokenDelta{accountIndex: before.AccountIndex, mint: before.Mint, delta: before.UIAmount.Neg()}
		if IsDust(d.delta) {
			continue
		}
		deltas = append(deltas, d)
	}

	return deltas
}

// nativeDelta returns the wallet's SOL balance change in whole SOL.
func nativeDelta(env *Envelope, wallet string) (decimal.Decimal, bool) {
	for i, key := range env.AccountKeys {
		if key != wallet {
			continue
		}
		if i >= len(env.PreBalances) || i >= len(env.PostBalances) {
			return decimal.Zero, false
		}
		lamports := int64(env.PostBalances[i]) - int64(env.PreBalances[i])
		return decimal.New(lamports, -9), true
	}
	return decimal.Zero, false
}
