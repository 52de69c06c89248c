package infra

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds every application setting. Sensitive values can be overridden
// through LIQUIBOT_* environment variables after the file is loaded.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Feed struct {
		WSURL string `yaml:"ws_url"` // node/indexer websocket stream
	} `yaml:"feed"`

	Oracle struct {
		URL        string `yaml:"url"` // fallback price endpoint
		TimeoutSec int    `yaml:"timeout_sec"`
	} `yaml:"oracle"`

	Registry struct {
		URL    string `yaml:"url"` // trove indexer REST base URL
		APIKey string `yaml:"api_key"`
	} `yaml:"registry"`

	Relay struct {
		URL    string `yaml:"url"` // liquidation relay base URL
		APIKey string `yaml:"api_key"`
	} `yaml:"relay"`

	Risk struct {
		LiquidationThreshold decimal.Decimal `yaml:"liquidation_threshold"` // default 1.10
		ProximityThreshold   decimal.Decimal `yaml:"proximity_threshold"`   // default 1.30
		PollIntervalSec      int             `yaml:"poll_interval_sec"`     // default 10
		SnapshotLimit        int             `yaml:"snapshot_limit"`        // default 50
		CallTimeoutSec       int             `yaml:"call_timeout_sec"`      // default 15
		FullScan             bool            `yaml:"full_scan"`
	} `yaml:"risk"`

	Notify struct {
		WebhookURL string `yaml:"webhook_url"` // optional
	} `yaml:"notify"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the config file, applies env overrides and
// defaults, and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults fills protocol defaults for unset risk parameters.
func (c *Config) applyDefaults() {
	if c.Risk.LiquidationThreshold.IsZero() {
		c.Risk.LiquidationThreshold = decimal.RequireFromString("1.1")
	}
	if c.Risk.ProximityThreshold.IsZero() {
		c.Risk.ProximityThreshold = decimal.RequireFromString("1.3")
	}
	if c.Risk.PollIntervalSec <= 0 {
		c.Risk.PollIntervalSec = 10
	}
	if c.Risk.SnapshotLimit <= 0 {
		c.Risk.SnapshotLimit = 50
	}
	if c.Risk.CallTimeoutSec <= 0 {
		c.Risk.CallTimeoutSec = 15
	}
	if c.Oracle.TimeoutSec <= 0 {
		c.Oracle.TimeoutSec = 10
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Feed.WSURL == "" || (!hasPrefix(c.Feed.WSURL, "ws://") && !hasPrefix(c.Feed.WSURL, "wss://")) {
		return fmt.Errorf("invalid feed WS URL: %s", c.Feed.WSURL)
	}
	if c.Oracle.URL == "" {
		return fmt.Errorf("fallback oracle URL is required")
	}
	if c.Registry.URL == "" {
		return fmt.Errorf("registry URL is required")
	}
	if c.Relay.URL == "" {
		return fmt.Errorf("relay URL is required")
	}
	if !c.Risk.LiquidationThreshold.IsPositive() {
		return fmt.Errorf("liquidation threshold must be positive")
	}
	if !c.Risk.ProximityThreshold.IsPositive() {
		return fmt.Errorf("proximity threshold must be positive")
	}
	return nil
}

// PollInterval returns the active-polling interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Risk.PollIntervalSec) * time.Second
}

// CallTimeout returns the per-call adapter timeout as a duration.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Risk.CallTimeoutSec) * time.Second
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv overwrites settings from environment variables when present.
func overrideWithEnv(cfg *Config) {
	if url := os.Getenv("LIQUIBOT_FEED_WS_URL"); url != "" {
		cfg.Feed.WSURL = url
	}
	if url := os.Getenv("LIQUIBOT_ORACLE_URL"); url != "" {
		cfg.Oracle.URL = url
	}
	if key := os.Getenv("LIQUIBOT_REGISTRY_KEY"); key != "" {
		cfg.Registry.APIKey = key
	}
	if key := os.Getenv("LIQUIBOT_RELAY_KEY"); key != "" {
		cfg.Relay.APIKey = key
	}
	if url := os.Getenv("LIQUIBOT_WEBHOOK_URL"); url != "" {
		cfg.Notify.WebhookURL = url
	}
}
