package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mtzanidakis/maistro/internal/channel"
	"github.com/mtzanidakis/maistro/internal/docwatch"
	"github.com/mtzanidakis/maistro/internal/natsbus"
	"github.com/mtzanidakis/maistro/internal/scheduler"
	"github.com/mtzanidakis/maistro/internal/store"
	"github.com/mtzanidakis/maistro/internal/telegram"
	"github.com/mtzanidakis/maistro/internal/web"
	"github.com/spf13/cobra"
)

const historyRetention = 90 * 24 * time.Hour

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the maistro gateway (web UI, scheduler, event relay)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	slog.Info("starting maistro gateway", "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}

	// SQLite execution history
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	if n, err := db.MarkInterrupted(); err != nil {
		slog.Warn("failed to close stale executions", "error", err)
	} else if n > 0 {
		slog.Info("marked interrupted executions", "count", n)
	}
	a.orch.OnLifecycle(recordTo(db))
	go pruneHistory(ctx, db)
	slog.Info("store initialized", "path", cfg.Store.Path)

	channels := channel.NewRegistry()

	// Embedded NATS relays events from `maistro run` processes to the
	// WebSocket subscribers of this gateway.
	if cfg.NATS.Enabled {
		bus, err := natsbus.New(cfg.NATS)
		if err != nil {
			return fmt.Errorf("init nats: %w", err)
		}
		defer bus.Close()

		client, err := natsbus.NewClient(bus)
		if err != nil {
			return fmt.Errorf("nats client: %w", err)
		}
		defer client.Close()

		if _, err := client.Relay(channels); err != nil {
			return fmt.Errorf("nats relay: %w", err)
		}
		slog.Info("nats started", "url", bus.ClientURL())
	}

	if cfg.Telegram.Token != "" {
		notifier, err := telegram.NewNotifier(cfg.Telegram)
		if err != nil {
			return fmt.Errorf("init telegram notifier: %w", err)
		}
		a.orch.OnLifecycle(notifier.Notify)
		slog.Info("telegram notifications enabled", "chat", cfg.Telegram.ChatID)
	} else {
		slog.Debug("telegram token not set, notifications disabled")
	}

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(a.configs, a.orch, channels.Sink, cfg.Scheduler.PollInterval)
		go sched.Start(ctx)
		slog.Info("scheduler started", "poll_interval", cfg.Scheduler.PollInterval)
	}

	watcher := docwatch.New(cfg.Data.Dir)
	watcher.On(filepath.Base(cfg.ConfigsPath()), a.configs.Reload)
	if sched != nil {
		watcher.On(filepath.Base(cfg.ConfigsPath()), func() error {
			sched.Reload()
			return nil
		})
	}
	watcher.On(filepath.Base(cfg.MCPServersPath()), a.mcp.Reload)
	watcher.On(filepath.Base(cfg.ModelsPath()), a.models.Reload)
	go func() {
		if err := watcher.Run(ctx); err != nil {
			slog.Error("document watcher stopped", "error", err)
		}
	}()

	webDone := make(chan struct{})
	if cfg.Web.Enabled {
		srv := web.NewServer(web.Deps{
			Configs:   a.configs,
			MCP:       a.mcp,
			Models:    a.models,
			Orch:      a.orch,
			Channels:  channels,
			Store:     db,
			Scheduler: sched,
		}, cfg.Web, version)
		go func() {
			defer close(webDone)
			if err := srv.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
	} else {
		close(webDone)
	}

	<-ctx.Done()
	slog.Info("shutting down")

	<-webDone
	if sched != nil {
		sched.Wait()
	}
	return nil
}

func pruneHistory(ctx context.Context, db *store.Store) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		n, err := db.PruneExecutions(time.Now().Add(-historyRetention))
		if err != nil {
			slog.Warn("failed to prune execution history", "error", err)
		} else if n > 0 {
			slog.Info("pruned execution history", "count", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
