package config

import (
	"os"
	"path/filepath"
	"testing"

	"tradingd/internal/risk"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

const minimalConfig = `
venue:
  name: hyperliquid
  base_url: https://api.hyperliquid.xyz
  ws_url: wss://api.hyperliquid.xyz/ws
wallet:
  private_key: "0xdeadbeef"
  chain_id: 42161
`

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, minimalConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.RateLimit.RequestsPerSecond != 20 || cfg.RateLimit.Burst != 20 {
		t.Errorf("rate_limit defaults = %+v, want 20/20", cfg.RateLimit)
	}
	if cfg.PendingOrderTimeoutMS != 10_000 {
		t.Errorf("pending_order_timeout_ms = %d, want 10000", cfg.PendingOrderTimeoutMS)
	}
	if cfg.EventBus.QueueSizeOrDefault() != 1024 {
		t.Errorf("event_bus.queue_size default = %d, want 1024", cfg.EventBus.QueueSizeOrDefault())
	}
	if cfg.Decimal.Rounding != "half_even" {
		t.Errorf("decimal.rounding default = %q, want half_even", cfg.Decimal.Rounding)
	}
}

func TestLoadEnvOverridesPrivateKey(t *testing.T) {
	path := writeConfigFile(t, minimalConfig)
	t.Setenv("TRADINGD_WALLET_PRIVATE_KEY", "0xfromenv")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Wallet.PrivateKey != "0xfromenv" {
		t.Errorf("PrivateKey = %q, want env override", cfg.Wallet.PrivateKey)
	}
}

func TestValidateRequiresWalletAndVenue(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty config")
	}
}

func TestValidateAcceptsMinimalConfig(t *testing.T) {
	path := writeConfigFile(t, minimalConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestDecimalConfigToRounding(t *testing.T) {
	cases := map[string]bool{
		"":          true,
		"half_even": true,
		"half_up":   true,
		"down":      true,
		"bogus":     false,
	}
	for mode, wantOK := range cases {
		_, err := DecimalConfig{Rounding: mode}.ToRounding()
		if (err == nil) != wantOK {
			t.Errorf("ToRounding(%q) err = %v, wantOK %v", mode, err, wantOK)
		}
	}
}

func TestBacktestConfigRejectsUnsupportedSlippageModel(t *testing.T) {
	_, err := BacktestConfig{SlippageModel: "book"}.ToEngineConfig("hyperliquid", risk.Config{})
	if err == nil {
		t.Fatal("expected error for unsupported slippage model \"book\"")
	}
}
