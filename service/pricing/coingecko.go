package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"
)

// DefaultCoinGeckoURL is the public CoinGecko v3 API.
const DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3"

// CoinGeckoIDs maps table symbols to CoinGecko coin ids.
var CoinGeckoIDs = map[string]string{
	"SOL":  "solana",
	"USDC": "usd-coin",
	"USDT": "tether",
	"BONK": "bonk",
	"JUP":  "jupiter-exchange-solana",
	"RAY":  "raydium",
	"mSOL": "msol",
	"ORCA": "orca",
}

// CoinGeckoSource is a LiveSource backed by the CoinGecko simple price
// endpoint.
type CoinGeckoSource struct {
	baseURL    string
	httpClient *http.Client
	ids        map[string]string
	maxTries   uint
	logger     *slog.Logger
}

// NewCoinGeckoSource creates a source against baseURL (DefaultCoinGeckoURL
// when empty).
func NewCoinGeckoSource(baseURL string, httpClient *http.Client, logger *slog.Logger) *CoinGeckoSource {
	if baseURL == "" {
		baseURL = DefaultCoinGeckoURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &CoinGeckoSource{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		ids:        CoinGeckoIDs,
		maxTries:   3,
		logger:     logger,
	}
}

type simplePrice struct {
	USD decimal.Decimal `json:"usd"`
}

// FetchPrices returns USD prices for the symbols CoinGecko knows about.
// Symbols without an id mapping are silently omitted.
func (s *CoinGeckoSource) FetchPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	bySymbol := make(map[string]string)
	ids := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		if id, ok := s.ids[sym]; ok {
			bySymbol[id] = sym
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", "usd")
	endpoint := s.baseURL + "/simple/price?" + q.Encode()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 5 * time.Second

	notify := func(err error, d time.Duration) {
		s.logger.Debug("retrying price fetch", "error", err, "backoff", d)
	}

	body, err := backoff.Retry(ctx, func() (map[string]simplePrice, error) {
		return s.get(ctx, endpoint)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(s.maxTries),
		backoff.WithNotify(notify),
	)
	if err != nil {
		return nil, err
	}

	out := make(map[string]decimal.Decimal, len(body))
	for id, p := range body {
		if sym, ok := bySymbol[id]; ok {
			out[sym] = p.USD
		}
	}
	return out, nil
}

func (s *CoinGeckoSource) get(ctx context.Context, endpoint string) (map[string]simplePrice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("price request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("price API returned status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, backoff.Permanent(fmt.Errorf("price API returned status %d: %s", resp.StatusCode, string(b)))
	}

	var body map[string]simplePrice
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to decode price response: %w", err))
	}
	return body, nil
}
