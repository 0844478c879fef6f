package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadPrecedenceFlagsOverEnvOverFile(t *testing.T) {
	configPath := writeConfig(t, "output: plain\nretries: 1\nbridge:\n  sort: eta_asc\n  gas_tier: low\n")

	t.Setenv("XBRIDGE_OUTPUT", "json")
	t.Setenv("XBRIDGE_GAS_TIER", "high")
	flags := GlobalFlags{ConfigPath: configPath, Plain: true, Retries: 5}
	settings, err := Load(flags)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.OutputMode != "plain" {
		t.Fatalf("expected flag to win, got output=%s", settings.OutputMode)
	}
	if settings.Retries != 5 {
		t.Fatalf("expected retries from flags, got %d", settings.Retries)
	}
	if settings.Bridge.Sort != "eta_asc" {
		t.Fatalf("expected sort from file, got %s", settings.Bridge.Sort)
	}
	if settings.Bridge.GasTier != "high" {
		t.Fatalf("expected env to override file gas tier, got %s", settings.Bridge.GasTier)
	}
}

func TestLoadBridgeDefaults(t *testing.T) {
	settings, err := Load(GlobalFlags{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml"), Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	b := settings.Bridge
	if b.ReturnTolerance.String() != "0.8" || b.MaxETASeconds != 3600 || b.MaxRefreshCount != 5 {
		t.Fatalf("unexpected bridge defaults: %+v", b)
	}
	if b.RefreshRate != 30*time.Second || b.Debounce != 300*time.Millisecond {
		t.Fatalf("unexpected timing defaults: %+v", b)
	}
	if b.Continuity != "identity" || b.Currency != "usd" || settings.Retries != 2 {
		t.Fatalf("unexpected defaults: %+v retries=%d", b, settings.Retries)
	}
}

func TestLoadBridgeSectionAndProviderKeys(t *testing.T) {
	configPath := writeConfig(t, `
log:
  level: debug
  format: json
bridge:
  return_tolerance: "0.9"
  max_refresh_count: 3
  refresh_rate: 10s
  continuity: fingerprint
  src_networks: [ethereum, base]
  insufficient_bal: true
rpc:
  8453: http://127.0.0.1:8545
providers:
  lifi:
    api_key_env: TEST_LIFI_KEY
  bungee:
    api_key: bungee-key
    affiliate: aff
`)
	t.Setenv("TEST_LIFI_KEY", "from-env")
	settings, err := Load(GlobalFlags{ConfigPath: configPath, Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	b := settings.Bridge
	if b.ReturnTolerance.String() != "0.9" || b.MaxRefreshCount != 3 || b.RefreshRate != 10*time.Second {
		t.Fatalf("unexpected bridge settings: %+v", b)
	}
	if b.Continuity != "fingerprint" || !b.InsufficientBal || len(b.SrcNetworks) != 2 {
		t.Fatalf("unexpected bridge settings: %+v", b)
	}
	if settings.RPCURLs[8453] != "http://127.0.0.1:8545" {
		t.Fatalf("unexpected rpc overrides: %+v", settings.RPCURLs)
	}
	if settings.LiFiAPIKey != "from-env" || settings.BungeeAPIKey != "bungee-key" || settings.BungeeAffiliate != "aff" {
		t.Fatalf("unexpected provider keys: lifi=%q bungee=%q aff=%q", settings.LiFiAPIKey, settings.BungeeAPIKey, settings.BungeeAffiliate)
	}
	if settings.LogLevel != "debug" || settings.LogFormat != "json" {
		t.Fatalf("unexpected log settings: %s %s", settings.LogLevel, settings.LogFormat)
	}
}

func TestLoadProviderBaseURLs(t *testing.T) {
	configPath := writeConfig(t, `
providers:
  lifi:
    base_url: http://127.0.0.1:9000/v1
  defillama:
    base_url: https://coins.llama.fi/
`)
	settings, err := Load(GlobalFlags{ConfigPath: configPath, Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.ProviderURLs["lifi"] != "http://127.0.0.1:9000/v1" || settings.ProviderURLs["defillama"] != "https://coins.llama.fi/" {
		t.Fatalf("unexpected provider urls: %+v", settings.ProviderURLs)
	}
	if _, ok := settings.ProviderURLs["across"]; ok {
		t.Fatalf("did not expect across override: %+v", settings.ProviderURLs)
	}

	configPath = writeConfig(t, "providers:\n  across:\n    base_url: https://evil.example/api\n")
	if _, err := Load(GlobalFlags{ConfigPath: configPath, Retries: -1}); err == nil {
		t.Fatal("expected non-canonical host to be rejected")
	}
}

func TestLoadRejectsInvalidTolerance(t *testing.T) {
	configPath := writeConfig(t, "bridge:\n  return_tolerance: \"1.5\"\n")
	if _, err := Load(GlobalFlags{ConfigPath: configPath}); err == nil {
		t.Fatal("expected tolerance validation error")
	}
}

func TestLoadMutuallyExclusiveOutputFlags(t *testing.T) {
	_, err := Load(GlobalFlags{JSON: true, Plain: true})
	if err == nil {
		t.Fatal("expected error with --json and --plain")
	}
}
