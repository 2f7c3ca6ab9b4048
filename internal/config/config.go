package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Web       WebConfig       `yaml:"web"`
	Agent     AgentConfig     `yaml:"agent"`
	Data      DataConfig      `yaml:"data"`
	Store     StoreConfig     `yaml:"store"`
	NATS      NATSConfig      `yaml:"nats"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Vault     VaultConfig     `yaml:"vault"`
	Debug     bool            `yaml:"debug"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Auth    string `yaml:"auth"`
}

// AgentConfig describes how the external agent CLI is invoked.
type AgentConfig struct {
	Command     string        `yaml:"command"`
	SessionDir  string        `yaml:"session_dir"`
	GooseConfig string        `yaml:"goose_config"`
	StepDelay   time.Duration `yaml:"step_delay"`
	StepTimeout time.Duration `yaml:"step_timeout"` // 0 disables the watchdog
}

type DataConfig struct {
	Dir string `yaml:"dir"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	URL     string `yaml:"url"` // used by `maistro run` to reach a running gateway
}

type SchedulerConfig struct {
	Enabled      bool          `yaml:"enabled"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
}

type VaultConfig struct {
	Passphrase string `yaml:"passphrase"`
}

func (c *Config) PromptsDir() string {
	return filepath.Join(c.Data.Dir, "prompts")
}

func (c *Config) ConfigsPath() string {
	return filepath.Join(c.Data.Dir, "configs.json")
}

func (c *Config) MCPServersPath() string {
	return filepath.Join(c.Data.Dir, "mcp-servers.json")
}

func (c *Config) ModelsPath() string {
	return filepath.Join(c.Data.Dir, "models.json")
}

func defaults() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Web: WebConfig{
			Enabled: true,
			Port:    3000,
		},
		Agent: AgentConfig{
			SessionDir:  filepath.Join(home, ".local", "share", "goose", "sessions"),
			GooseConfig: filepath.Join(home, ".config", "goose", "config.yaml"),
			StepDelay:   time.Second,
		},
		Data: DataConfig{
			Dir: "data",
		},
		Store: StoreConfig{
			Path: "data/maistro.db",
		},
		NATS: NATSConfig{
			Enabled: true,
			Port:    4222,
		},
		Scheduler: SchedulerConfig{
			Enabled:      true,
			PollInterval: 30 * time.Second,
		},
	}
}

func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("MAISTRO_CONFIG")
	if path == "" {
		path = "config/maistro.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if cfg.NATS.URL == "" {
		cfg.NATS.URL = fmt.Sprintf("nats://127.0.0.1:%d", cfg.NATS.Port)
	}
	if cfg.Agent.Command == "" {
		cfg.Agent.Command = findAgentCommand(cfg.Data.Dir)
	}

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("MAISTRO_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("MAISTRO_WEB_PASSWORD"); v != "" {
		cfg.Web.Auth = v
	}
	if v := os.Getenv("MAISTRO_AGENT_COMMAND"); v != "" {
		cfg.Agent.Command = v
	}
	if v := os.Getenv("MAISTRO_DATA_DIR"); v != "" {
		cfg.Data.Dir = v
	}
	if v := os.Getenv("MAISTRO_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("MAISTRO_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("MAISTRO_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("MAISTRO_TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Telegram.ChatID = id
		}
	}
	if v := os.Getenv("MAISTRO_VAULT_PASSPHRASE"); v != "" {
		cfg.Vault.Passphrase = v
	}
	if v := os.Getenv("DEBUG"); v != "" {
		cfg.Debug = v == "true" || v == "1"
	}
}

// findAgentCommand locates the goose binary: a path saved in the data dir,
// then PATH, then common install locations.
func findAgentCommand(dataDir string) string {
	if data, err := os.ReadFile(filepath.Join(dataDir, "goose-path.txt")); err == nil {
		if p := strings.TrimSpace(string(data)); p != "" {
			return p
		}
	}

	if p, err := exec.LookPath("goose"); err == nil {
		return p
	}

	home, _ := os.UserHomeDir()
	candidates := []string{
		"/usr/local/bin/goose",
		"/usr/bin/goose",
		"/bin/goose",
		filepath.Join(home, ".local", "bin", "goose"),
		filepath.Join(home, "bin", "goose"),
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c
		}
	}

	return "goose"
}
