package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleTOML = `
mode = "trade"
log_level = "debug"

[wallet]
private_key = "0xdeadbeef"
chain_id = 137

[[venues]]
id = "polygon-quickswap"
base_url = "https://gw-a.example.com"
feed_url = "wss://gw-a.example.com/feed"
feed_pairs = ["WETH/USDC"]
rate_limit_per_sec = 10

[[venues]]
id = "polygon-sushi"
base_url = "https://gw-b.example.com"

[policy]
allowed_venues = ["polygon-quickswap", "polygon-sushi"]

[[policy.instruments]]
symbol = "USDC"
chain_id = 137
status = "halal"

[[policy.instruments]]
symbol = "WETH"
chain_id = 137
status = "halal"

[risk]
max_loss_bps = 80
max_legs = 3
min_profit_bps = 40
[risk.max_exposure_per_asset]
USDC = 5000000000
WETH = 2000000000

[detector]
loan_assets = ["USDC"]
max_legs = 3
min_profit_bps = 40
max_slippage_bps = 30
[detector.max_notional]
USDC = 1000000000

[engine]
scan_interval = "500ms"
max_concurrent = 2
dry_run = false

[coordinator]
call_timeout = "3s"

[postgres]
host = "db.internal"
database = "flasharb"
user = "arb"
password = "pw"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadMergesOverDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Mode != "trade" || cfg.LogLevel != "debug" {
		t.Fatalf("mode/log_level = %s/%s", cfg.Mode, cfg.LogLevel)
	}
	if len(cfg.Venues) != 2 || cfg.Venues[0].ID != "polygon-quickswap" {
		t.Fatalf("venues = %+v", cfg.Venues)
	}
	if cfg.Engine.ScanInterval.Duration != 500*time.Millisecond {
		t.Fatalf("scan_interval = %v", cfg.Engine.ScanInterval.Duration)
	}
	if cfg.Coordinator.CallTimeout.Duration != 3*time.Second {
		t.Fatalf("call_timeout = %v", cfg.Coordinator.CallTimeout.Duration)
	}
	// Untouched sections keep their defaults.
	if cfg.Redis.Addr != "localhost:6379" || cfg.Coordinator.LockTTL.Duration != 30*time.Second {
		t.Fatal("defaults lost during merge")
	}
	if cfg.Risk.MaxExposurePerAsset["USDC"] != 5_000_000_000 {
		t.Fatalf("exposure map = %v", cfg.Risk.MaxExposurePerAsset)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FLASHARB_MODE", "detect")
	t.Setenv("FLASHARB_POSTGRES_PASSWORD", "from-env")
	t.Setenv("FLASHARB_ENGINE_DRY_RUN", "true")
	t.Setenv("FLASHARB_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(writeConfig(t, sampleTOML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "detect" {
		t.Fatalf("mode = %s, env override lost", cfg.Mode)
	}
	if cfg.Postgres.Password != "from-env" {
		t.Fatal("postgres password env override lost")
	}
	if !cfg.Engine.DryRun {
		t.Fatal("dry_run env override lost")
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("cors origins = %v", cfg.Server.CORSOrigins)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "bogus"
	cfg.LogLevel = "loud"
	cfg.Redis.Addr = ""
	cfg.Detector.LoanAssets = nil

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation failure")
	}
	for _, want := range []string{"unknown mode", "unknown log_level", "redis: addr", "loan_assets"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}

func TestValidateTradeModeRequiresKey(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Wallet.PrivateKey = ""

	verr := cfg.Validate()
	if verr == nil || !strings.Contains(verr.Error(), "wallet") {
		t.Fatalf("expected wallet error, got %v", verr)
	}

	// An encrypted key path needs its password.
	cfg.Wallet.EncryptedKeyPath = "/etc/flasharb/key.json"
	verr = cfg.Validate()
	if verr == nil || !strings.Contains(verr.Error(), "key_password") {
		t.Fatalf("expected key_password error, got %v", verr)
	}
}

func TestRedactedHidesSecrets(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Venues[0].APISecret = "super-secret"

	red := Redacted(cfg)
	if red.Wallet.PrivateKey != "***" || red.Postgres.Password != "***" {
		t.Fatalf("secrets not redacted: %+v", red.Wallet)
	}
	if red.Venues[0].APISecret != "***" {
		t.Fatal("venue secret not redacted")
	}
	// The original must be untouched.
	if cfg.Venues[0].APISecret != "super-secret" {
		t.Fatal("redaction mutated the original config")
	}
}
