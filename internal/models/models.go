// Package models keeps the model settings document and switches the agent CLI
// between models by rewriting its YAML config.
package models

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/mtzanidakis/maistro/internal/jsondoc"
	"github.com/mtzanidakis/maistro/internal/vault"
	"gopkg.in/yaml.v3"
)

const Provider = "openrouter"

var (
	ErrUnknownModel   = errors.New("model is not in the list of available models")
	ErrMissingAPIKey  = errors.New("openrouter API key is not configured")
	ErrRemoveDefault  = errors.New("cannot remove the default model")
	ErrInvalidModelID = errors.New("invalid model id")
)

// Settings is the persisted model document.
type Settings struct {
	DefaultModel    string   `json:"defaultModel"`
	APIKey          string   `json:"apiKey"`
	AvailableModels []string `json:"availableModels"`
}

func defaultSettings() Settings {
	return Settings{
		DefaultModel: "anthropic/claude-3.7-sonnet",
		AvailableModels: []string{
			"anthropic/claude-3.7-sonnet:thinking",
			"anthropic/claude-3.7-sonnet",
			"openai/o3-mini-high",
			"openai/gpt-4o-2024-11-20",
		},
	}
}

// Manager owns models.json and the agent config file it writes to.
type Manager struct {
	path        string
	agentConfig string
	vault       *vault.Vault
	settings    Settings
	mu          sync.RWMutex
}

// NewManager loads the settings document. v may be nil, in which case the API
// key is stored as given.
func NewManager(path, agentConfig string, v *vault.Vault) (*Manager, error) {
	m := &Manager{path: path, agentConfig: agentConfig, vault: v}
	if err := m.Reload(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) Reload() error {
	s := defaultSettings()
	if err := jsondoc.Load(m.path, &s); err != nil {
		return fmt.Errorf("load model settings: %w", err)
	}

	m.mu.Lock()
	m.settings = s
	m.mu.Unlock()
	return nil
}

func (m *Manager) Path() string {
	return m.path
}

// Models returns the available model ids.
func (m *Manager) Models() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.settings.AvailableModels)
}

func (m *Manager) DefaultModel() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.settings.DefaultModel == "" {
		return defaultSettings().DefaultModel
	}
	return m.settings.DefaultModel
}

func (m *Manager) SetDefault(model string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(m.settings.AvailableModels, model) {
		return fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}
	m.settings.DefaultModel = model
	return m.persist()
}

// Add appends a model id. Adding a known id is a no-op.
func (m *Manager) Add(model string) error {
	if model == "" {
		return ErrInvalidModelID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if slices.Contains(m.settings.AvailableModels, model) {
		return nil
	}
	m.settings.AvailableModels = append(m.settings.AvailableModels, model)
	return m.persist()
}

func (m *Manager) Remove(model string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.settings.DefaultModel == model {
		return ErrRemoveDefault
	}
	n := len(m.settings.AvailableModels)
	m.settings.AvailableModels = slices.DeleteFunc(m.settings.AvailableModels, func(s string) bool { return s == model })
	if len(m.settings.AvailableModels) == n {
		return nil
	}
	return m.persist()
}

// SetAPIKey stores the provider key, sealed when a vault is configured.
func (m *Manager) SetAPIKey(key string) error {
	stored := key
	if m.vault != nil && key != "" {
		sealed, err := m.vault.Seal(key)
		if err != nil {
			return fmt.Errorf("seal api key: %w", err)
		}
		stored = sealed
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings.APIKey = stored
	return m.persist()
}

// APIKey returns the plaintext provider key.
func (m *Manager) APIKey() (string, error) {
	m.mu.RLock()
	stored := m.settings.APIKey
	m.mu.RUnlock()

	if !vault.IsSealed(stored) {
		return stored, nil
	}
	if m.vault == nil {
		return "", fmt.Errorf("api key is sealed but no vault passphrase is configured")
	}
	key, err := m.vault.Open(stored)
	if err != nil {
		return "", fmt.Errorf("open api key: %w", err)
	}
	return key, nil
}

func (m *Manager) HasAPIKey() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings.APIKey != ""
}

// SwitchModel points the agent CLI at model by rewriting its YAML config.
// Unrelated keys in the file are preserved.
func (m *Manager) SwitchModel(ctx context.Context, model string) error {
	m.mu.RLock()
	known := slices.Contains(m.settings.AvailableModels, model)
	m.mu.RUnlock()
	if !known {
		return fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}

	key, err := m.APIKey()
	if err != nil {
		return err
	}
	if key == "" {
		return ErrMissingAPIKey
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	doc, err := m.readAgentConfig()
	if err != nil {
		return err
	}

	doc["provider"] = Provider
	doc["GOOSE_PROVIDER"] = Provider
	doc["GOOSE_MODEL"] = model

	settings, _ := doc["provider_settings"].(map[string]any)
	if settings == nil {
		settings = map[string]any{}
	}
	router, _ := settings[Provider].(map[string]any)
	if router == nil {
		router = map[string]any{}
	}
	router["api_key"] = key
	settings[Provider] = router
	doc["provider_settings"] = settings

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal agent config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.agentConfig), 0o755); err != nil {
		return fmt.Errorf("create agent config dir: %w", err)
	}
	if err := os.WriteFile(m.agentConfig, data, 0o600); err != nil {
		return fmt.Errorf("write agent config: %w", err)
	}

	slog.Info("agent model switched", "model", model)
	return nil
}

// CurrentModel reads the model the agent CLI is configured with, or "" when
// it is not set up for the provider.
func (m *Manager) CurrentModel() (string, error) {
	doc, err := m.readAgentConfig()
	if err != nil {
		return "", err
	}
	if doc["provider"] != Provider {
		return "", nil
	}
	if model, ok := doc["GOOSE_MODEL"].(string); ok && model != "" {
		return model, nil
	}
	settings, _ := doc["provider_settings"].(map[string]any)
	router, _ := settings[Provider].(map[string]any)
	model, _ := router["model"].(string)
	return model, nil
}

func (m *Manager) readAgentConfig() (map[string]any, error) {
	doc := map[string]any{}
	data, err := os.ReadFile(m.agentConfig)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return nil, fmt.Errorf("read agent config: %w", err)
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse agent config: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

// persist must be called with mu held.
func (m *Manager) persist() error {
	if err := jsondoc.Save(m.path, m.settings); err != nil {
		return fmt.Errorf("save model settings: %w", err)
	}
	return nil
}
