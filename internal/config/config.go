package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/ggonzalez94/xbridge/internal/registry"
)

type GlobalFlags struct {
	ConfigPath     string
	JSON           bool
	Plain          bool
	Select         string
	ResultsOnly    bool
	EnableCommands string
	Strict         bool
	Timeout        string
	Retries        int
	MaxStale       string
	NoStale        bool
	NoCache        bool
	LogLevel       string
	LogFormat      string
}

// Bridge holds the tunables of quote ranking, refresh and validation.
type Bridge struct {
	ReturnTolerance decimal.Decimal
	MaxETASeconds   int64
	MaxRefreshCount int
	RefreshRate     time.Duration
	Debounce        time.Duration
	Sort            string
	Continuity      string
	GasTier         string
	Currency        string
	SrcNetworks     []string
	DestNetworks    []string
	InsufficientBal bool
	SlippageBps     int64
	Providers       []string
}

type Settings struct {
	OutputMode      string
	SelectFields    []string
	ResultsOnly     bool
	EnableCommands  []string
	Strict          bool
	Timeout         time.Duration
	Retries         int
	MaxStale        time.Duration
	NoStale         bool
	CacheEnabled    bool
	CachePath       string
	CacheLockPath   string
	LogLevel        string
	LogFormat       string
	Bridge          Bridge
	RPCURLs         map[int64]string
	LiFiAPIKey      string
	BungeeAPIKey    string
	BungeeAffiliate string
	ProviderURLs    map[string]string
}

type providerKey struct {
	APIKey    string `yaml:"api_key"`
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url"`
}

type fileConfig struct {
	Output  string `yaml:"output"`
	Strict  *bool  `yaml:"strict"`
	Timeout string `yaml:"timeout"`
	Retries *int   `yaml:"retries"`
	Log     struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Cache struct {
		Enabled  *bool  `yaml:"enabled"`
		MaxStale string `yaml:"max_stale"`
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"cache"`
	Bridge struct {
		ReturnTolerance string   `yaml:"return_tolerance"`
		MaxETASeconds   *int64   `yaml:"max_eta_seconds"`
		MaxRefreshCount *int     `yaml:"max_refresh_count"`
		RefreshRate     string   `yaml:"refresh_rate"`
		Debounce        string   `yaml:"debounce"`
		Sort            string   `yaml:"sort"`
		Continuity      string   `yaml:"continuity"`
		GasTier         string   `yaml:"gas_tier"`
		Currency        string   `yaml:"currency"`
		SrcNetworks     []string `yaml:"src_networks"`
		DestNetworks    []string `yaml:"dest_networks"`
		InsufficientBal *bool    `yaml:"insufficient_bal"`
		SlippageBps     *int64   `yaml:"slippage_bps"`
		Providers       []string `yaml:"providers"`
	} `yaml:"bridge"`
	RPC       map[int64]string `yaml:"rpc"`
	Providers struct {
		LiFi      providerKey `yaml:"lifi"`
		Across    providerKey `yaml:"across"`
		DefiLlama providerKey `yaml:"defillama"`
		Bungee    struct {
			providerKey  `yaml:",inline"`
			Affiliate    string `yaml:"affiliate"`
			AffiliateEnv string `yaml:"affiliate_env"`
		} `yaml:"bungee"`
	} `yaml:"providers"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 10 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.MaxStale < 0 {
		settings.MaxStale = 5 * time.Minute
	}
	if err := validateBridge(&settings.Bridge); err != nil {
		return Settings{}, err
	}

	return settings, nil
}

func DefaultBridge() Bridge {
	return Bridge{
		ReturnTolerance: decimal.RequireFromString("0.8"),
		MaxETASeconds:   3600,
		MaxRefreshCount: 5,
		RefreshRate:     30 * time.Second,
		Debounce:        300 * time.Millisecond,
		Sort:            "cost_asc",
		Continuity:      "identity",
		GasTier:         "medium",
		Currency:        "usd",
		SlippageBps:     50,
	}
}

func defaultSettings() (Settings, error) {
	cachePath, lockPath, err := defaultCachePaths()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OutputMode:    "json",
		Timeout:       10 * time.Second,
		Retries:       2,
		MaxStale:      5 * time.Minute,
		CacheEnabled:  true,
		CachePath:     cachePath,
		CacheLockPath: lockPath,
		LogLevel:      "warn",
		LogFormat:     "text",
		Bridge:        DefaultBridge(),
		RPCURLs:       map[int64]string{},
		ProviderURLs:  map[string]string{},
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	if v := os.Getenv("XBRIDGE_CONFIG"); v != "" {
		return v, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "xbridge", "config.yaml"), nil
}

func defaultCachePaths() (string, string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, "xbridge")
	return filepath.Join(dir, "cache.db"), filepath.Join(dir, "cache.lock"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.Strict != nil {
		settings.Strict = *cfg.Strict
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	if cfg.Log.Level != "" {
		settings.LogLevel = cfg.Log.Level
	}
	if cfg.Log.Format != "" {
		settings.LogFormat = cfg.Log.Format
	}
	if cfg.Cache.Enabled != nil {
		settings.CacheEnabled = *cfg.Cache.Enabled
	}
	if cfg.Cache.MaxStale != "" {
		d, err := time.ParseDuration(cfg.Cache.MaxStale)
		if err != nil {
			return fmt.Errorf("config cache.max_stale: %w", err)
		}
		settings.MaxStale = d
	}
	if cfg.Cache.Path != "" {
		settings.CachePath = cfg.Cache.Path
	}
	if cfg.Cache.LockPath != "" {
		settings.CacheLockPath = cfg.Cache.LockPath
	}

	b := &settings.Bridge
	fb := cfg.Bridge
	if fb.ReturnTolerance != "" {
		d, err := decimal.NewFromString(fb.ReturnTolerance)
		if err != nil {
			return fmt.Errorf("config bridge.return_tolerance: %w", err)
		}
		b.ReturnTolerance = d
	}
	if fb.MaxETASeconds != nil {
		b.MaxETASeconds = *fb.MaxETASeconds
	}
	if fb.MaxRefreshCount != nil {
		b.MaxRefreshCount = *fb.MaxRefreshCount
	}
	for name, raw := range map[string]struct {
		value string
		dst   *time.Duration
	}{
		"refresh_rate": {fb.RefreshRate, &b.RefreshRate},
		"debounce":     {fb.Debounce, &b.Debounce},
	} {
		if raw.value == "" {
			continue
		}
		d, err := time.ParseDuration(raw.value)
		if err != nil {
			return fmt.Errorf("config bridge.%s: %w", name, err)
		}
		*raw.dst = d
	}
	setIf(&b.Sort, fb.Sort)
	setIf(&b.Continuity, fb.Continuity)
	setIf(&b.GasTier, fb.GasTier)
	setIf(&b.Currency, strings.ToLower(fb.Currency))
	if len(fb.SrcNetworks) > 0 {
		b.SrcNetworks = fb.SrcNetworks
	}
	if len(fb.DestNetworks) > 0 {
		b.DestNetworks = fb.DestNetworks
	}
	if fb.InsufficientBal != nil {
		b.InsufficientBal = *fb.InsufficientBal
	}
	if fb.SlippageBps != nil {
		b.SlippageBps = *fb.SlippageBps
	}
	if len(fb.Providers) > 0 {
		b.Providers = fb.Providers
	}

	for chainID, rpcURL := range cfg.RPC {
		settings.RPCURLs[chainID] = rpcURL
	}

	settings.LiFiAPIKey = resolveKey(settings.LiFiAPIKey, cfg.Providers.LiFi)
	settings.BungeeAPIKey = resolveKey(settings.BungeeAPIKey, cfg.Providers.Bungee.providerKey)
	setIf(&settings.BungeeAffiliate, cfg.Providers.Bungee.Affiliate)
	if cfg.Providers.Bungee.AffiliateEnv != "" {
		settings.BungeeAffiliate = os.Getenv(cfg.Providers.Bungee.AffiliateEnv)
	}

	for name, base := range map[string]string{
		"lifi":      cfg.Providers.LiFi.BaseURL,
		"across":    cfg.Providers.Across.BaseURL,
		"bungee":    cfg.Providers.Bungee.BaseURL,
		"defillama": cfg.Providers.DefiLlama.BaseURL,
	} {
		base = strings.TrimSpace(base)
		if base == "" {
			continue
		}
		if !registry.IsAllowedProviderURL(name, base) {
			return fmt.Errorf("config providers.%s.base_url %q is not an allowed endpoint", name, base)
		}
		settings.ProviderURLs[name] = base
	}

	return nil
}

func resolveKey(current string, key providerKey) string {
	if key.APIKeyEnv != "" {
		return os.Getenv(key.APIKeyEnv)
	}
	if key.APIKey != "" {
		return key.APIKey
	}
	return current
}

func setIf(dst *string, v string) {
	if strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("XBRIDGE_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("XBRIDGE_STRICT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.Strict = b
		}
	}
	if v := os.Getenv("XBRIDGE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("XBRIDGE_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := os.Getenv("XBRIDGE_MAX_STALE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.MaxStale = d
		}
	}
	if v := os.Getenv("XBRIDGE_NO_STALE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.NoStale = b
		}
	}
	if v := os.Getenv("XBRIDGE_NO_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.CacheEnabled = !b
		}
	}
	setIf(&settings.CachePath, os.Getenv("XBRIDGE_CACHE_PATH"))
	setIf(&settings.CacheLockPath, os.Getenv("XBRIDGE_CACHE_LOCK_PATH"))
	setIf(&settings.LogLevel, os.Getenv("XBRIDGE_LOG_LEVEL"))
	setIf(&settings.LogFormat, os.Getenv("XBRIDGE_LOG_FORMAT"))
	setIf(&settings.Bridge.Sort, os.Getenv("XBRIDGE_SORT"))
	setIf(&settings.Bridge.GasTier, os.Getenv("XBRIDGE_GAS_TIER"))
	setIf(&settings.Bridge.Continuity, os.Getenv("XBRIDGE_CONTINUITY"))
	if v := os.Getenv("XBRIDGE_CURRENCY"); v != "" {
		settings.Bridge.Currency = strings.ToLower(v)
	}
	if v := os.Getenv("XBRIDGE_REFRESH_RATE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Bridge.RefreshRate = d
		}
	}
	if v := os.Getenv("XBRIDGE_MAX_REFRESH_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Bridge.MaxRefreshCount = n
		}
	}
	setIf(&settings.LiFiAPIKey, os.Getenv("XBRIDGE_LIFI_API_KEY"))
	setIf(&settings.BungeeAPIKey, os.Getenv("XBRIDGE_BUNGEE_API_KEY"))
	setIf(&settings.BungeeAffiliate, os.Getenv("XBRIDGE_BUNGEE_AFFILIATE"))
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if fields := splitList(flags.Select); len(fields) > 0 {
		settings.SelectFields = fields
	}
	settings.ResultsOnly = flags.ResultsOnly
	if allowed := splitList(flags.EnableCommands); len(allowed) > 0 {
		settings.EnableCommands = allowed
	}

	if flags.Strict {
		settings.Strict = true
	}
	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if flags.MaxStale != "" {
		d, err := time.ParseDuration(flags.MaxStale)
		if err != nil {
			return fmt.Errorf("parse --max-stale: %w", err)
		}
		settings.MaxStale = d
	}
	if flags.NoStale {
		settings.NoStale = true
	}
	if flags.NoCache {
		settings.CacheEnabled = false
	}
	setIf(&settings.LogLevel, flags.LogLevel)
	setIf(&settings.LogFormat, flags.LogFormat)

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}
	if settings.LogFormat != "text" && settings.LogFormat != "json" {
		return fmt.Errorf("log format must be text or json")
	}

	return nil
}

func validateBridge(b *Bridge) error {
	if b.ReturnTolerance.IsNegative() || b.ReturnTolerance.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("bridge.return_tolerance must be within [0,1]")
	}
	if b.MaxRefreshCount < 0 {
		return fmt.Errorf("bridge.max_refresh_count must be >= 0")
	}
	if b.RefreshRate <= 0 {
		b.RefreshRate = 30 * time.Second
	}
	if b.Debounce <= 0 {
		b.Debounce = 300 * time.Millisecond
	}
	if b.SlippageBps < 0 || b.SlippageBps > 10_000 {
		return fmt.Errorf("bridge.slippage_bps must be within [0,10000]")
	}
	return nil
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}
