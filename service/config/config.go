package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/soltax/service/pricing"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Solana configuration. SolanaRPCURL may list several endpoints
	// separated by commas; one is picked per process.
	SolanaRPCURL string

	// Optional backends. An empty DatabaseURL keeps payment requests in
	// memory; an empty NATSURL disables payment events.
	DatabaseURL string
	NATSURL     string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Pricing
	PriceAPIURL          string
	PriceRefreshInterval time.Duration
	PriceSeed            map[string]decimal.Decimal

	// Transaction fetching
	FetchConcurrency int
	FetchTimeout     time.Duration
	SignatureLimit   int

	Payment PaymentConfig
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.SolanaRPCURL = getEnvOrDefault("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.NATSURL = os.Getenv("NATS_URL")

	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "soltax-payments")

	cfg.PriceAPIURL = getEnvOrDefault("PRICE_API_URL", pricing.DefaultCoinGeckoURL)
	if d, err := parseDuration("PRICE_REFRESH_INTERVAL", "5m"); err != nil {
		errs = append(errs, err)
	} else {
		cfg.PriceRefreshInterval = d
	}

	cfg.PriceSeed = pricing.DefaultSeed()
	if raw := os.Getenv("PRICE_SEED"); raw != "" {
		seed, err := pricing.ParseSeed(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("PRICE_SEED: %w", err))
		}
		for sym, p := range seed {
			cfg.PriceSeed[sym] = p
		}
	}

	if n, err := parseInt("FETCH_CONCURRENCY", 8); err != nil {
		errs = append(errs, err)
	} else {
		cfg.FetchConcurrency = n
	}
	if d, err := parseDuration("FETCH_TIMEOUT", "20s"); err != nil {
		errs = append(errs, err)
	} else {
		cfg.FetchTimeout = d
	}
	if n, err := parseInt("SIGNATURE_LIMIT", 1000); err != nil {
		errs = append(errs, err)
	} else {
		cfg.SignatureLimit = n
	}

	cfg.Payment.LoadDefaults()
	if err := cfg.Payment.LoadFromEnv(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.SolanaRPCURL) == "" {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL is required"))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.PriceRefreshInterval < time.Second {
		errs = append(errs, fmt.Errorf("PRICE_REFRESH_INTERVAL must be at least 1 second"))
	}

	if c.FetchConcurrency < 1 {
		errs = append(errs, fmt.Errorf("FETCH_CONCURRENCY must be positive"))
	}

	if c.FetchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("FETCH_TIMEOUT must be positive"))
	}

	if c.SignatureLimit < 1 {
		errs = append(errs, fmt.Errorf("SIGNATURE_LIMIT must be positive"))
	}

	if err := c.Payment.Validate(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// PaymentConfig fixes the terms of pay-to-export requests.
type PaymentConfig struct {
	Address        string // receives export payments; exports are unavailable when empty
	AmountLamports uint64
	Timeout        time.Duration
	Retention      time.Duration // settled requests are purged after this
	SweepInterval  time.Duration
	Lookback       int           // recent signatures inspected per check
	PollInterval   time.Duration // between checks while awaiting payment
}

// LoadDefaults sets the default payment terms: 0.1 SOL within 15 minutes.
func (c *PaymentConfig) LoadDefaults() {
	c.AmountLamports = 100_000_000
	c.Timeout = 15 * time.Minute
	c.Retention = time.Hour
	c.SweepInterval = time.Minute
	c.Lookback = 10
	c.PollInterval = 5 * time.Second
}

// LoadFromEnv overrides defaults with EXPORT_PAYMENT_* variables.
func (c *PaymentConfig) LoadFromEnv() error {
	var errs []error

	c.Address = getEnvOrDefault("EXPORT_PAYMENT_ADDRESS", c.Address)

	if v := os.Getenv("EXPORT_PAYMENT_LAMPORTS"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("EXPORT_PAYMENT_LAMPORTS: invalid integer %q: %w", v, err))
		} else {
			c.AmountLamports = n
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"EXPORT_PAYMENT_TIMEOUT", &c.Timeout},
		{"EXPORT_PAYMENT_RETENTION", &c.Retention},
		{"EXPORT_PAYMENT_SWEEP_INTERVAL", &c.SweepInterval},
		{"EXPORT_PAYMENT_POLL_INTERVAL", &c.PollInterval},
	}
	for _, d := range durations {
		v, err := parseDuration(d.key, d.dst.String())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*d.dst = v
	}

	if n, err := parseInt("EXPORT_PAYMENT_LOOKBACK", c.Lookback); err != nil {
		errs = append(errs, err)
	} else {
		c.Lookback = n
	}

	if len(errs) > 0 {
		return fmt.Errorf("payment configuration: %v", errs)
	}
	return nil
}

// Validate checks the payment terms. The address is optional but must be a
// valid public key when set.
func (c *PaymentConfig) Validate() error {
	var errs []error

	if c.Address != "" {
		if _, err := solana.PublicKeyFromBase58(c.Address); err != nil {
			errs = append(errs, fmt.Errorf("EXPORT_PAYMENT_ADDRESS is not a valid Solana address: %w", err))
		}
	}
	if c.AmountLamports == 0 {
		errs = append(errs, fmt.Errorf("EXPORT_PAYMENT_LAMPORTS must be positive"))
	}
	if c.Timeout < time.Minute {
		errs = append(errs, fmt.Errorf("EXPORT_PAYMENT_TIMEOUT must be at least 1 minute"))
	}
	if c.Retention < c.Timeout {
		errs = append(errs, fmt.Errorf("EXPORT_PAYMENT_RETENTION (%v) cannot be shorter than EXPORT_PAYMENT_TIMEOUT (%v)", c.Retention, c.Timeout))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("EXPORT_PAYMENT_SWEEP_INTERVAL must be positive"))
	}
	if c.Lookback < 1 {
		errs = append(errs, fmt.Errorf("EXPORT_PAYMENT_LOOKBACK must be positive"))
	}
	if c.PollInterval < time.Second {
		errs = append(errs, fmt.Errorf("EXPORT_PAYMENT_POLL_INTERVAL must be at least 1 second"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("payment configuration invalid: %v", errs)
	}
	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}
