// Package config defines all configuration for the trading runtime.
// Config is loaded from a YAML file (default: configs/config.yaml).
// ${VAR} and ${VAR:default} references in the file are substituted from the
// environment before parsing, and sensitive fields can be overridden via
// POLY_* environment variables.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"

	"polytrader/pkg/types"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Mode        string            `mapstructure:"mode"` // "paper" or "live"
	Endpoints   EndpointsConfig   `mapstructure:"endpoints"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Liveness    LivenessConfig    `mapstructure:"liveness"`
	Paper       PaperConfig       `mapstructure:"paper"`
	Harness     HarnessConfig     `mapstructure:"harness"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// EndpointsConfig holds the venue's stream and REST endpoints.
type EndpointsConfig struct {
	MarketWSURL string `mapstructure:"market_ws_url"`
	UserWSURL   string `mapstructure:"user_ws_url"`
	RESTURL     string `mapstructure:"rest_url"`  // metadata (Gamma) API
	CLOBURL     string `mapstructure:"clob_url"`  // trading API (live mode)
}

// CredentialsConfig holds venue credentials. The L2 triplet (api_key, secret,
// passphrase) authenticates the user stream and trading requests. When only
// private_key is set, the L2 triplet is derived via L1 auth on startup.
type CredentialsConfig struct {
	ApiKey        string `mapstructure:"api_key"`
	ApiSecret     string `mapstructure:"api_secret"`
	ApiPassphrase string `mapstructure:"api_passphrase"`
	PrivateKey    string `mapstructure:"private_key"`
	FunderAddress string `mapstructure:"funder_address"`
	ChainID       int    `mapstructure:"chain_id"`
	SignatureType int    `mapstructure:"signature_type"`
}

// HasL2 reports whether the full L2 triplet is configured.
func (c CredentialsConfig) HasL2() bool {
	return c.ApiKey != "" && c.ApiSecret != "" && c.ApiPassphrase != ""
}

// LivenessConfig tunes stream keepalive and reconnection.
type LivenessConfig struct {
	PingIntervalSec   int  `mapstructure:"ping_interval_sec"`
	ReconnectDelaySec int  `mapstructure:"reconnect_delay_sec"`
	AutoReconnect     bool `mapstructure:"auto_reconnect"`
}

// PingInterval returns the keepalive cadence as a duration.
func (l LivenessConfig) PingInterval() time.Duration {
	return time.Duration(l.PingIntervalSec) * time.Second
}

// ReconnectDelay returns the fixed wait between reconnect attempts.
func (l LivenessConfig) ReconnectDelay() time.Duration {
	return time.Duration(l.ReconnectDelaySec) * time.Second
}

// PaperConfig tunes the local fill simulator.
type PaperConfig struct {
	StartingBalance float64 `mapstructure:"starting_balance"`
	Slippage        float64 `mapstructure:"slippage"`      // applied to MARKET orders only
	FillDelayMs     int     `mapstructure:"fill_delay_ms"` // logged for observability, never awaited
}

// HarnessConfig selects the strategy and the markets it trades.
// Markets accepts full URLs, slugs, or numeric market IDs.
type HarnessConfig struct {
	Strategy             string             `mapstructure:"strategy"`
	Markets              []string           `mapstructure:"markets"`
	HeartbeatIntervalSec int                `mapstructure:"heartbeat_interval_sec"`
	Params               map[string]float64 `mapstructure:"params"` // strategy tunables
}

// HeartbeatInterval returns the heartbeat cadence as a duration.
func (h HarnessConfig) HeartbeatInterval() time.Duration {
	return time.Duration(h.HeartbeatIntervalSec) * time.Second
}

// StorageConfig sets where orders, trades, and positions are persisted.
type StorageConfig struct {
	DatabasePath string `mapstructure:"database_path"`
	CSVDir       string `mapstructure:"csv_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// envRef matches ${VAR} and ${VAR:default} references in the raw YAML.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::([^}]*))?\}`)

// ExpandEnv substitutes ${VAR} and ${VAR:default} references. An unset
// variable without a default expands to the empty string.
func ExpandEnv(raw string) string {
	return envRef.ReplaceAllStringFunc(raw, func(ref string) string {
		groups := envRef.FindStringSubmatch(ref)
		if val, ok := os.LookupEnv(groups[1]); ok {
			return val
		}
		return groups[2]
	})
}

// Load reads config from a YAML file with env substitution and overrides.
// Sensitive fields use env vars: POLY_PRIVATE_KEY, POLY_API_KEY,
// POLY_API_SECRET, POLY_API_PASSPHRASE.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := v.ReadConfig(strings.NewReader(ExpandEnv(string(raw)))); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if key := os.Getenv("POLY_PRIVATE_KEY"); key != "" {
		cfg.Credentials.PrivateKey = key
	}
	if key := os.Getenv("POLY_API_KEY"); key != "" {
		cfg.Credentials.ApiKey = key
	}
	if secret := os.Getenv("POLY_API_SECRET"); secret != "" {
		cfg.Credentials.ApiSecret = secret
	}
	if pass := os.Getenv("POLY_API_PASSPHRASE"); pass != "" {
		cfg.Credentials.ApiPassphrase = pass
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", string(types.ModePaper))
	v.SetDefault("endpoints.market_ws_url", "wss://ws-subscriptions-clob.polymarket.com/ws/market")
	v.SetDefault("endpoints.user_ws_url", "wss://ws-subscriptions-clob.polymarket.com/ws/user")
	v.SetDefault("endpoints.rest_url", "https://gamma-api.polymarket.com")
	v.SetDefault("endpoints.clob_url", "https://clob.polymarket.com")
	v.SetDefault("credentials.chain_id", 137)
	v.SetDefault("liveness.ping_interval_sec", 5)
	v.SetDefault("liveness.reconnect_delay_sec", 5)
	v.SetDefault("liveness.auto_reconnect", true)
	v.SetDefault("paper.starting_balance", 10000.0)
	v.SetDefault("paper.slippage", 0.001)
	v.SetDefault("harness.heartbeat_interval_sec", 30)
	v.SetDefault("storage.database_path", "data/polytrader.db")
	v.SetDefault("storage.csv_dir", "data/exports")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	switch types.ExecutionMode(c.Mode) {
	case types.ModePaper, types.ModeLive:
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", types.ModePaper, types.ModeLive, c.Mode)
	}
	if c.Endpoints.MarketWSURL == "" {
		return fmt.Errorf("endpoints.market_ws_url is required")
	}
	if c.Endpoints.RESTURL == "" {
		return fmt.Errorf("endpoints.rest_url is required")
	}
	if c.Mode == string(types.ModeLive) {
		if c.Endpoints.CLOBURL == "" {
			return fmt.Errorf("endpoints.clob_url is required in live mode")
		}
		if c.Credentials.PrivateKey == "" && !c.Credentials.HasL2() {
			return fmt.Errorf("live mode needs credentials.private_key or the full api_key/api_secret/api_passphrase triplet")
		}
		if c.Credentials.ChainID == 0 {
			return fmt.Errorf("credentials.chain_id is required in live mode (137 for mainnet)")
		}
	}
	if c.Liveness.PingIntervalSec <= 0 {
		return fmt.Errorf("liveness.ping_interval_sec must be > 0")
	}
	if c.Liveness.ReconnectDelaySec <= 0 {
		return fmt.Errorf("liveness.reconnect_delay_sec must be > 0")
	}
	if c.Paper.StartingBalance <= 0 {
		return fmt.Errorf("paper.starting_balance must be > 0")
	}
	if c.Paper.Slippage < 0 || c.Paper.Slippage >= 1 {
		return fmt.Errorf("paper.slippage must be in [0, 1)")
	}
	if c.Harness.HeartbeatIntervalSec <= 0 {
		return fmt.Errorf("harness.heartbeat_interval_sec must be > 0")
	}
	if c.Harness.Strategy == "" {
		return fmt.Errorf("harness.strategy is required")
	}
	if len(c.Harness.Markets) == 0 {
		return fmt.Errorf("harness.markets must list at least one market URL, slug, or id")
	}
	return nil
}
