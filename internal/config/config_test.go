package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "MAISTRO_WEB_PORT", "MAISTRO_WEB_PASSWORD", "MAISTRO_AGENT_COMMAND",
		"MAISTRO_DATA_DIR", "MAISTRO_STORE_PATH", "MAISTRO_NATS_URL", "MAISTRO_TELEGRAM_TOKEN",
		"MAISTRO_TELEGRAM_CHAT_ID", "MAISTRO_VAULT_PASSPHRASE", "DEBUG",
	} {
		t.Setenv(k, "")
	}
}

func TestDefaults(t *testing.T) {
	cfg := defaults()

	if cfg.Web.Port != 3000 {
		t.Errorf("expected web port 3000, got %d", cfg.Web.Port)
	}
	if !cfg.Web.Enabled {
		t.Error("expected web enabled by default")
	}
	if cfg.Agent.StepDelay != time.Second {
		t.Errorf("expected step delay 1s, got %v", cfg.Agent.StepDelay)
	}
	if cfg.Agent.StepTimeout != 0 {
		t.Errorf("expected watchdog disabled by default, got %v", cfg.Agent.StepTimeout)
	}
	if cfg.Store.Path != "data/maistro.db" {
		t.Errorf("expected store path data/maistro.db, got %s", cfg.Store.Path)
	}
	if cfg.Scheduler.PollInterval != 30*time.Second {
		t.Errorf("expected poll interval 30s, got %v", cfg.Scheduler.PollInterval)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAISTRO_CONFIG", "/nonexistent/config.yaml")
	t.Setenv("MAISTRO_WEB_PASSWORD", "secret")
	t.Setenv("MAISTRO_WEB_PORT", "9090")
	t.Setenv("MAISTRO_AGENT_COMMAND", "/opt/goose")
	t.Setenv("MAISTRO_TELEGRAM_CHAT_ID", "12345")
	t.Setenv("DEBUG", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Web.Auth != "secret" {
		t.Errorf("expected web auth secret, got %s", cfg.Web.Auth)
	}
	if cfg.Web.Port != 9090 {
		t.Errorf("expected web port 9090, got %d", cfg.Web.Port)
	}
	if cfg.Agent.Command != "/opt/goose" {
		t.Errorf("expected agent command /opt/goose, got %s", cfg.Agent.Command)
	}
	if cfg.Telegram.ChatID != 12345 {
		t.Errorf("expected chat id 12345, got %d", cfg.Telegram.ChatID)
	}
	if !cfg.Debug {
		t.Error("expected debug enabled")
	}
	if cfg.NATS.URL != "nats://127.0.0.1:4222" {
		t.Errorf("expected derived nats url, got %s", cfg.NATS.URL)
	}
}

func TestLoadFromYAML(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "maistro.yaml")

	yaml := `
web:
  port: 4000
agent:
  command: /usr/local/bin/goose
  step_delay: 250ms
  step_timeout: 10m
data:
  dir: /var/lib/maistro
scheduler:
  enabled: false
telegram:
  token: ${TEST_TG_TOKEN}
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MAISTRO_CONFIG", path)
	t.Setenv("TEST_TG_TOKEN", "from-env")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Web.Port != 4000 {
		t.Errorf("expected port 4000, got %d", cfg.Web.Port)
	}
	if cfg.Agent.StepDelay != 250*time.Millisecond {
		t.Errorf("expected step delay 250ms, got %v", cfg.Agent.StepDelay)
	}
	if cfg.Agent.StepTimeout != 10*time.Minute {
		t.Errorf("expected step timeout 10m, got %v", cfg.Agent.StepTimeout)
	}
	if cfg.Scheduler.Enabled {
		t.Error("expected scheduler disabled")
	}
	if cfg.Telegram.Token != "from-env" {
		t.Errorf("expected expanded telegram token, got %s", cfg.Telegram.Token)
	}
	if got := cfg.PromptsDir(); got != "/var/lib/maistro/prompts" {
		t.Errorf("unexpected prompts dir %s", got)
	}
	// Unset fields keep their defaults
	if cfg.NATS.Port != 4222 {
		t.Errorf("expected default nats port, got %d", cfg.NATS.Port)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("web: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MAISTRO_CONFIG", path)

	if _, err := Load(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestFindAgentCommandFromPathFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "goose-path.txt"), []byte("/custom/goose\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := findAgentCommand(dir); got != "/custom/goose" {
		t.Errorf("expected /custom/goose, got %s", got)
	}
}
