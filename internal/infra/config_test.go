package infra

import (
	"os"
	"path/filepath"
	"testing"
)

const validYAML = `
app:
  name: liquibot
  version: "0.1.0"
feed:
  ws_url: wss://node.example.com/stream
oracle:
  url: https://oracle.example.com/v1/price
registry:
  url: https://indexer.example.com
relay:
  url: https://relay.example.com
risk:
  liquidation_threshold: "1.1"
  proximity_threshold: "1.3"
logging:
  level: debug
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Feed.WSURL != "wss://node.example.com/stream" {
		t.Errorf("unexpected feed URL: %s", cfg.Feed.WSURL)
	}
	if cfg.Risk.LiquidationThreshold.String() != "1.1" {
		t.Errorf("unexpected liquidation threshold: %s", cfg.Risk.LiquidationThreshold)
	}

	// Defaults fill unset values
	if cfg.Risk.PollIntervalSec != 10 {
		t.Errorf("expected default poll interval 10, got %d", cfg.Risk.PollIntervalSec)
	}
	if cfg.Risk.SnapshotLimit != 50 {
		t.Errorf("expected default snapshot limit 50, got %d", cfg.Risk.SnapshotLimit)
	}
	if cfg.Risk.CallTimeoutSec != 15 {
		t.Errorf("expected default call timeout 15, got %d", cfg.Risk.CallTimeoutSec)
	}
}

func TestLoadConfigDefaultsThresholds(t *testing.T) {
	yaml := `
feed:
  ws_url: wss://node.example.com/stream
oracle:
  url: https://oracle.example.com/v1/price
registry:
  url: https://indexer.example.com
relay:
  url: https://relay.example.com
`
	cfg, err := LoadConfig(writeConfig(t, yaml))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Risk.LiquidationThreshold.String() != "1.1" {
		t.Errorf("expected default liquidation threshold 1.1, got %s", cfg.Risk.LiquidationThreshold)
	}
	if cfg.Risk.ProximityThreshold.String() != "1.3" {
		t.Errorf("expected default proximity threshold 1.3, got %s", cfg.Risk.ProximityThreshold)
	}
}

func TestLoadConfigRejectsBadFeedURL(t *testing.T) {
	yaml := `
feed:
  ws_url: https://not-a-websocket.example.com
oracle:
  url: https://oracle.example.com/v1/price
registry:
  url: https://indexer.example.com
relay:
  url: https://relay.example.com
`
	if _, err := LoadConfig(writeConfig(t, yaml)); err == nil {
		t.Fatal("expected validation error for non-ws feed URL")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LIQUIBOT_RELAY_KEY", "secret-key")
	t.Setenv("LIQUIBOT_WEBHOOK_URL", "https://hooks.example.com/xyz")

	cfg, err := LoadConfig(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Relay.APIKey != "secret-key" {
		t.Errorf("env override for relay key not applied: %q", cfg.Relay.APIKey)
	}
	if cfg.Notify.WebhookURL != "https://hooks.example.com/xyz" {
		t.Errorf("env override for webhook URL not applied: %q", cfg.Notify.WebhookURL)
	}
}
