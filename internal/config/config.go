// Package config defines the top-level configuration for the arbitrage core
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration. Fields are populated from a TOML file and
// then optionally overridden by FLASHARB_* environment variables.
type Config struct {
	Wallet      WalletConfig      `toml:"wallet"`
	Venues      []VenueConfig     `toml:"venues"`
	Policy      PolicyConfig      `toml:"policy"`
	Risk        RiskConfig        `toml:"risk"`
	Detector    DetectorConfig    `toml:"detector"`
	Pricing     PricingConfig     `toml:"pricing"`
	Engine      EngineConfig      `toml:"engine"`
	Coordinator CoordinatorConfig `toml:"coordinator"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Archive     ArchiveConfig     `toml:"archive"`
	Server      ServerConfig      `toml:"server"`
	Notify      NotifyConfig      `toml:"notify"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// WalletConfig holds the signing key for venue gateway requests.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	ChainID          int64  `toml:"chain_id"`
}

// VenueConfig holds one venue gateway's endpoints and credentials.
type VenueConfig struct {
	ID              string   `toml:"id"`
	BaseURL         string   `toml:"base_url"`
	FeedURL         string   `toml:"feed_url"`
	FeedPairs       []string `toml:"feed_pairs"`
	APIKey          string   `toml:"api_key"`
	APISecret       string   `toml:"api_secret"`
	APIPassphrase   string   `toml:"api_passphrase"`
	LegDeadline     duration `toml:"leg_deadline"`
	RequestTimeout  duration `toml:"request_timeout"`
	RateLimitPerSec int      `toml:"rate_limit_per_sec"`
}

// PolicyInstrument is one allow-list entry in the compliance policy.
type PolicyInstrument struct {
	Symbol          string `toml:"symbol"`
	ChainID         int64  `toml:"chain_id"`
	ContractAddress string `toml:"contract_address"`
	Status          string `toml:"status"`
}

// PolicyConfig holds the initial compliance policy. Live reloads go through
// the API or the signal bus; this is only the boot state.
type PolicyConfig struct {
	Instruments       []PolicyInstrument `toml:"instruments"`
	AllowedVenues     []string           `toml:"allowed_venues"`
	DeniedInstruments []string           `toml:"denied_instruments"`
	DeniedVenues      []string           `toml:"denied_venues"`
}

// RiskConfig holds the risk gate limits.
type RiskConfig struct {
	MaxLossBps          int64            `toml:"max_loss_bps"`
	MaxExposurePerAsset map[string]int64 `toml:"max_exposure_per_asset"`
	MaxLegs             int              `toml:"max_legs"`
	MinProfitBps        int64            `toml:"min_profit_bps"`
}

// DetectorConfig holds opportunity detection parameters. GasByChain is keyed
// by decimal chain id; TOML map keys are strings.
type DetectorConfig struct {
	LoanAssets     []string         `toml:"loan_assets"`
	MaxNotional    map[string]int64 `toml:"max_notional"`
	MaxLegs        int              `toml:"max_legs"`
	MinProfitBps   int64            `toml:"min_profit_bps"`
	MaxSlippageBps int64            `toml:"max_slippage_bps"`

	FlashLoanBps    int64            `toml:"flash_loan_bps"`
	PerVenueFeeBps  map[string]int64 `toml:"per_venue_fee_bps"`
	DefaultVenueBps int64            `toml:"default_venue_fee_bps"`
	GasByChain      map[string]int64 `toml:"gas_by_chain"`
	GasDefault      int64            `toml:"gas_default"`
}

// PricingConfig holds aggregator parameters.
type PricingConfig struct {
	Pairs        []string `toml:"pairs"`
	VenueTimeout duration `toml:"venue_timeout"`
}

// EngineConfig holds the scan loop parameters.
type EngineConfig struct {
	ScanInterval   duration `toml:"scan_interval"`
	MaxConcurrent  int      `toml:"max_concurrent"`
	DryRun         bool     `toml:"dry_run"`
	HintChannel    string   `toml:"hint_channel"`
	ControlChannel string   `toml:"control_channel"`
}

// CoordinatorConfig holds execution timeouts.
type CoordinatorConfig struct {
	CallTimeout       duration `toml:"call_timeout"`
	LockTTL           duration `toml:"lock_ttl"`
	LockWait          duration `toml:"lock_wait"`
	LockRetryInterval duration `toml:"lock_retry_interval"`
}

// PostgresConfig holds ledger database connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds object storage parameters for the archive.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig holds cold-export parameters.
type ArchiveConfig struct {
	Enabled    bool     `toml:"enabled"`
	MaxAge     duration `toml:"max_age"`
	Interval   duration `toml:"interval"`
	BatchLimit int      `toml:"batch_limit"`
}

// ServerConfig holds the operational HTTP API parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration so the TOML decoder can parse strings like
// "5m" or "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Wallet: WalletConfig{
			ChainID: 137,
		},
		Risk: RiskConfig{
			MaxLossBps:   100,
			MaxLegs:      4,
			MinProfitBps: 30,
		},
		Detector: DetectorConfig{
			MaxLegs:         3,
			MinProfitBps:    30,
			MaxSlippageBps:  50,
			FlashLoanBps:    9,
			DefaultVenueBps: 30,
			GasDefault:      2_000_000,
		},
		Pricing: PricingConfig{
			VenueTimeout: duration{3 * time.Second},
		},
		Engine: EngineConfig{
			ScanInterval:   duration{2 * time.Second},
			MaxConcurrent:  1,
			DryRun:         true,
			HintChannel:    "flasharb:hints",
			ControlChannel: "flasharb:control",
		},
		Coordinator: CoordinatorConfig{
			CallTimeout:       duration{5 * time.Second},
			LockTTL:           duration{30 * time.Second},
			LockWait:          duration{10 * time.Second},
			LockRetryInterval: duration{25 * time.Millisecond},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "flasharb",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "flasharb-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:    false,
			MaxAge:     duration{30 * 24 * time.Hour},
			Interval:   duration{time.Hour},
			BatchLimit: 10_000,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Notify: NotifyConfig{
			Events: []string{"execution.committed", "execution.reverted", "execution.aborted"},
		},
		Mode:     "detect",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"detect": true, // scan and log, never execute
	"trade":  true, // scan and execute
	"server": true, // API only, no scanning
	"full":   true, // scan, execute, and serve the API
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the config for invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: detect, trade, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	mode := strings.ToLower(c.Mode)
	trading := mode == "trade" || mode == "full"

	// Wallet — a key source is mandatory once executions can happen.
	if trading {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
		if c.Wallet.ChainID <= 0 {
			errs = append(errs, "wallet: chain_id must be positive")
		}
	}

	// Venues
	if mode != "server" && len(c.Venues) == 0 {
		errs = append(errs, "venues: at least one venue gateway must be configured")
	}
	seen := make(map[string]bool, len(c.Venues))
	for i, v := range c.Venues {
		if v.ID == "" {
			errs = append(errs, fmt.Sprintf("venues[%d]: id must not be empty", i))
			continue
		}
		if seen[v.ID] {
			errs = append(errs, fmt.Sprintf("venues[%d]: duplicate id %q", i, v.ID))
		}
		seen[v.ID] = true
		if v.BaseURL == "" {
			errs = append(errs, fmt.Sprintf("venues[%d] (%s): base_url must not be empty", i, v.ID))
		}
	}

	// Detector
	if mode != "server" {
		if len(c.Detector.LoanAssets) == 0 {
			errs = append(errs, "detector: loan_assets must not be empty")
		}
		for _, asset := range c.Detector.LoanAssets {
			if c.Detector.MaxNotional[asset] <= 0 {
				errs = append(errs, fmt.Sprintf("detector: max_notional for loan asset %s must be > 0", asset))
			}
		}
		if c.Detector.MaxLegs < 2 {
			errs = append(errs, "detector: max_legs must be >= 2")
		}
		if c.Detector.MinProfitBps <= 0 {
			errs = append(errs, "detector: min_profit_bps must be > 0")
		}
		if c.Detector.MaxSlippageBps < 0 {
			errs = append(errs, "detector: max_slippage_bps must be >= 0")
		}
	}

	// Risk
	if c.Risk.MaxLegs < 2 {
		errs = append(errs, "risk: max_legs must be >= 2")
	}
	if c.Risk.MinProfitBps <= 0 {
		errs = append(errs, "risk: min_profit_bps must be > 0")
	}
	if c.Risk.MaxLossBps < 0 {
		errs = append(errs, "risk: max_loss_bps must be >= 0")
	}

	// Policy instrument statuses
	for i, inst := range c.Policy.Instruments {
		switch strings.ToLower(inst.Status) {
		case "halal", "haram", "unreviewed":
		default:
			errs = append(errs, fmt.Sprintf("policy.instruments[%d] (%s): unknown status %q", i, inst.Symbol, inst.Status))
		}
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 — only needed when the archive runs.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
