package main

import (
	"fmt"
	"log/slog"

	"github.com/mtzanidakis/maistro/internal/config"
	"github.com/mtzanidakis/maistro/internal/configs"
	"github.com/mtzanidakis/maistro/internal/execution"
	"github.com/mtzanidakis/maistro/internal/mcp"
	"github.com/mtzanidakis/maistro/internal/models"
	"github.com/mtzanidakis/maistro/internal/prompts"
	"github.com/mtzanidakis/maistro/internal/runner"
	"github.com/mtzanidakis/maistro/internal/session"
	"github.com/mtzanidakis/maistro/internal/store"
	"github.com/mtzanidakis/maistro/internal/vault"
)

// app holds the components shared by serve and run.
type app struct {
	cfg     *config.Config
	configs *configs.Manager
	mcp     *mcp.Manager
	models  *models.Manager
	orch    *execution.Orchestrator
}

func newApp(cfg *config.Config) (*app, error) {
	cfgs, err := configs.NewManager(cfg.ConfigsPath())
	if err != nil {
		return nil, fmt.Errorf("init configurations: %w", err)
	}

	servers, err := mcp.NewManager(cfg.MCPServersPath())
	if err != nil {
		return nil, fmt.Errorf("init mcp servers: %w", err)
	}

	mdl, err := openModels(cfg)
	if err != nil {
		return nil, err
	}

	orch := execution.NewOrchestrator(execution.Deps{
		Configs:  cfgs,
		Prompts:  prompts.Materializer{Dir: cfg.PromptsDir()},
		Models:   mdl,
		Tools:    servers,
		Sessions: session.Store{Dir: cfg.Agent.SessionDir},
		Runner:   runner.New(),
	}, execution.Options{
		Command:     cfg.Agent.Command,
		StepDelay:   cfg.Agent.StepDelay,
		StepTimeout: cfg.Agent.StepTimeout,
	})

	slog.Debug("agent command resolved", "command", cfg.Agent.Command)

	return &app{
		cfg:     cfg,
		configs: cfgs,
		mcp:     servers,
		models:  mdl,
		orch:    orch,
	}, nil
}

func openModels(cfg *config.Config) (*models.Manager, error) {
	var v *vault.Vault
	if cfg.Vault.Passphrase != "" {
		v = vault.New(cfg.Vault.Passphrase)
	}
	mdl, err := models.NewManager(cfg.ModelsPath(), cfg.Agent.GooseConfig, v)
	if err != nil {
		return nil, fmt.Errorf("init models: %w", err)
	}
	return mdl, nil
}

// recordTo persists lifecycle events. History is best effort; a failed write
// never affects the execution.
func recordTo(db *store.Store) execution.LifecycleListener {
	return func(ev execution.Event) {
		if err := db.Record(ev); err != nil {
			slog.Warn("failed to record execution", "execution", ev.Execution.ID, "kind", ev.Kind, "error", err)
		}
	}
}
