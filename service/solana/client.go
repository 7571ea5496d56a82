package solana

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/soltax/service/ledger"
	"github.com/brojonat/soltax/service/metrics"
	"github.com/brojonat/soltax/service/payment"
	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetSignaturesForAddress(
		ctx context.Context,
		address solana.PublicKey,
		opts *rpc.GetSignaturesForAddressOpts,
	) ([]*rpc.TransactionSignature, error)

	GetTransaction(
		ctx context.Context,
		signature solana.Signature,
		opts *rpc.GetTransactionOpts,
	) (*rpc.GetTransactionResult, error)

	GetBalance(ctx context.Context, address solana.PublicKey) (uint64, error)
}

// Config tunes fetching. Zero values take the defaults below.
type Config struct {
	Concurrency    int           // parallel GetTransaction calls per query
	FetchTimeout   time.Duration // per transaction, retries included
	SignatureLimit int           // most signatures listed for one address query
	MaxAttempts    uint          // per RPC call
	RetryInterval  time.Duration // initial backoff between attempts
	SwapDecoder    SwapDecoder   // defaults to DecodeSwap
}

const (
	DefaultConcurrency    = 8
	DefaultFetchTimeout   = 20 * time.Second
	DefaultSignatureLimit = 1000
	DefaultMaxAttempts    = 3

	signaturePageSize = 1000
)

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.SignatureLimit <= 0 {
		c.SignatureLimit = DefaultSignatureLimit
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 500 * time.Millisecond
	}
	if c.SwapDecoder == nil {
		c.SwapDecoder = DecodeSwap
	}
	return c
}

// Client fetches wallet history and turns it into ledger envelopes.
type Client struct {
	rpc      RPCClient
	cfg      Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	endpoint string // RPC endpoint identifier for metrics (e.g., "mainnet", rpc host)
}

// NewClient creates a new Solana client.
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Client {
	return &Client{
		rpc:      rpcClient,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		metrics:  m,
		endpoint: endpoint,
	}
}

// FetchEnvelopes returns every transaction of address whose block time falls
// within [start, end], newest first. Transactions that cannot be fetched or
// decoded are logged and skipped; only a failure to list signatures is an
// error.
func (c *Client) FetchEnvelopes(ctx context.Context, address string, start, end time.Time) ([]*ledger.Envelope, error) {
	pk, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}

	sigs, err := c.listSignatures(ctx, pk, start, c.cfg.SignatureLimit)
	if err != nil {
		return nil, err
	}

	var inRange []*rpc.TransactionSignature
	for _, s := range sigs {
		if s.BlockTime == nil {
			continue
		}
		bt := s.BlockTime.Time()
		if bt.Before(start) || bt.After(end) {
			continue
		}
		inRange = append(inRange, s)
	}

	c.logger.DebugContext(ctx, "fetching transactions",
		"wallet", address,
		"signatures", len(sigs),
		"in_range", len(inRange),
	)

	results := make([]*ledger.Envelope, len(inRange))
	var g errgroup.Group
	g.SetLimit(c.cfg.Concurrency)
	for i, s := range inRange {
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
			defer cancel()

			env, err := c.FetchTransaction(fctx, s.Signature.String())
			if err != nil {
				c.metrics.RecordEnvelopeSkipped(skipReason(err))
				c.logger.WarnContext(ctx, "skipping transaction",
					"signature", s.Signature.String(),
					"error", err,
				)
				return nil
			}
			results[i] = env
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	envs := make([]*ledger.Envelope, 0, len(results))
	for _, env := range results {
		if env != nil {
			envs = append(envs, env)
		}
	}
	c.metrics.RecordEnvelopesFetched(len(envs))

	c.logger.InfoContext(ctx, "fetched transactions",
		"wallet", address,
		"count", len(envs),
		"skipped", len(inRange)-len(envs),
	)
	return envs, nil
}

// FetchTransaction fetches one transaction and converts it to an envelope.
// Swap legs are decoded for successful transactions that invoke a known DEX.
func (c *Client) FetchTransaction(ctx context.Context, signature string) (*ledger.Envelope, error) {
	result, err := c.fetchResult(ctx, signature)
	if err != nil {
		return nil, err
	}

	env, err := envelopeFromResult(signature, result)
	if err != nil {
		return nil, err
	}

	if !env.Failed && touchesProgram(env, ledger.SwapProgramIDs) {
		hint, err := c.cfg.SwapDecoder(result)
		if err != nil {
			c.logger.DebugContext(ctx, "swap decode failed, using balance deltas",
				"signature", signature,
				"error", err,
			)
		}
		env.SwapHint = hint
	}
	return env, nil
}

// FetchBalance returns the finalized native balance of address in SOL.
func (c *Client) FetchBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	pk, err := ParseAddress(address)
	if err != nil {
		return decimal.Zero, err
	}
	lamports, err := withRetry(ctx, c, "GetBalance", func(ctx context.Context) (uint64, error) {
		return c.rpc.GetBalance(ctx, pk)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.New(int64(lamports), -9), nil
}

// FetchRecentIncomingTransfers lists the newest limit transactions touching
// address and reports the lamport change at address for those after since.
func (c *Client) FetchRecentIncomingTransfers(ctx context.Context, address string, since time.Time, limit int) ([]payment.Transfer, error) {
	pk, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}

	sigs, err := c.listSignatures(ctx, pk, since, limit)
	if err != nil {
		return nil, err
	}

	transfers := make([]*payment.Transfer, len(sigs))
	var g errgroup.Group
	g.SetLimit(c.cfg.Concurrency)
	for i, s := range sigs {
		if s.BlockTime == nil || !s.BlockTime.Time().After(since) {
			continue
		}
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
			defer cancel()

			sig := s.Signature.String()
			result, err := c.fetchResult(fctx, sig)
			if err != nil {
				c.logger.WarnContext(ctx, "skipping payment candidate", "signature", sig, "error", err)
				return nil
			}
			env, err := envelopeFromResult(sig, result)
			if err != nil {
				c.logger.WarnContext(ctx, "skipping payment candidate", "signature", sig, "error", err)
				return nil
			}
			received, ok := lamportDelta(env, address)
			if !ok {
				return nil
			}
			transfers[i] = &payment.Transfer{
				Signature: sig,
				BlockTime: s.BlockTime.Time(),
				Received:  received,
				Failed:    s.Err != nil || env.Failed,
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]payment.Transfer, 0, len(transfers))
	for _, tr := range transfers {
		if tr != nil {
			out = append(out, *tr)
		}
	}
	return out, nil
}

// listSignatures pages backwards from the newest signature until it reaches
// one older than since, runs out, or holds limit signatures.
func (c *Client) listSignatures(ctx context.Context, address solana.PublicKey, since time.Time, limit int) ([]*rpc.TransactionSignature, error) {
	var (
		out    []*rpc.TransactionSignature
		before solana.Signature
	)
	for len(out) < limit {
		pageSize := min(signaturePageSize, limit-len(out))
		opts := &rpc.GetSignaturesForAddressOpts{
			Limit:      &pageSize,
			Before:     before,
			Commitment: rpc.CommitmentFinalized,
		}

		page, err := withRetry(ctx, c, "GetSignaturesForAddress", func(ctx context.Context) ([]*rpc.TransactionSignature, error) {
			return c.rpc.GetSignaturesForAddress(ctx, address, opts)
		})
		if err != nil {
			c.logger.ErrorContext(ctx, "failed to get signatures",
				"wallet", address.String(),
				"error", err,
			)
			return nil, err
		}
		c.metrics.RecordRPCSignaturesPerCall(c.endpoint, float64(len(page)))

		reachedSince := false
		for _, s := range page {
			if s.BlockTime != nil && s.BlockTime.Time().Before(since) {
				reachedSince = true
				break
			}
			out = append(out, s)
		}
		if reachedSince || len(page) < pageSize {
			break
		}
		before = page[len(page)-1].Signature
	}
	return out, nil
}

func (c *Client) fetchResult(ctx context.Context, signature string) (*rpc.GetTransactionResult, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, err
	}

	maxVersion := uint64(0)
	return withRetry(ctx, c, "GetTransaction", func(ctx context.Context) (*rpc.GetTransactionResult, error) {
		result, err := c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
			Encoding:                       solana.EncodingBase64,
			Commitment:                     rpc.CommitmentFinalized,
			MaxSupportedTransactionVersion: &maxVersion,
		})
		if err != nil && isVersionDecodeError(err) {
			c.metrics.RecordRPCRetry("GetTransaction", "parse_error")
			result, err = c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
				Encoding:   solana.EncodingBase64,
				Commitment: rpc.CommitmentFinalized,
			})
		}
		if errors.Is(err, rpc.ErrNotFound) || (err == nil && result == nil) {
			return nil, backoff.Permanent(ErrTransactionNotFound)
		}
		return result, err
	})
}

// withRetry runs op with exponential backoff, recording every attempt.
func withRetry[T any](ctx context.Context, c *Client, method string, op func(context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryInterval

	return backoff.Retry(ctx, func() (T, error) {
		start := time.Now()
		out, err := op(ctx)

		status := "success"
		if err != nil {
			status = "error"
			if isRateLimited(err) {
				c.metrics.RecordRateLimitHit(c.endpoint)
			}
		}
		c.metrics.RecordRPCCall(method, status, c.endpoint, time.Since(start).Seconds())
		return out, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.cfg.MaxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			reason := "timeout_or_error"
			if isRateLimited(err) {
				reason = "rate_limit"
			}
			c.metrics.RecordRPCRetry(method, reason)
			c.logger.WarnContext(ctx, "rpc call failed, retrying",
				"method", method,
				"error", err,
				"backoff", next,
			)
		}),
	)
}

func isRateLimited(err error) bool {
	return strings.Contains(err.Error(), "429")
}

// isVersionDecodeError matches the decode failure some nodes trigger when a
// legacy transaction is requested with a max supported version.
func isVersionDecodeError(err error) bool {
	return strings.Contains(err.Error(), "expects '\"' or 'n', but found '{'")
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, ErrTransactionNotFound):
		return "not_found"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "fetch_error"
	}
}

var _ payment.TransferSource = (*Client)(nil)
