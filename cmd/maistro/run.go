package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/mtzanidakis/maistro/internal/channel"
	"github.com/mtzanidakis/maistro/internal/natsbus"
	"github.com/mtzanidakis/maistro/internal/store"
	"github.com/spf13/cobra"
)

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run <config-id>",
		Short: "Execute one configuration and its trigger chain",
		Long: "Execute one configuration in this process, printing its events. When a gateway\n" +
			"is reachable over NATS the events are also relayed to its WebSocket subscribers,\n" +
			"so `maistro run` can be placed in a crontab.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0])
		},
	}
}

func runOnce(stdout, stderr io.Writer, configID string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	if _, ok := a.configs.Get(configID); !ok {
		return fmt.Errorf("configuration %s not found", configID)
	}

	if db, err := store.New(cfg.Store); err != nil {
		slog.Warn("execution history unavailable", "error", err)
	} else {
		defer db.Close()
		a.orch.OnLifecycle(recordTo(db))
	}

	sinks := []channel.Sink{consoleSink(stdout, stderr)}
	if cfg.NATS.Enabled {
		client, err := natsbus.Connect(cfg.NATS.URL, 2*time.Second)
		if err != nil {
			slog.Debug("gateway not reachable, events are not relayed", "url", cfg.NATS.URL, "error", err)
		} else {
			defer client.Close()
			defer client.Flush()
			sinks = append(sinks, client.Sink(configID))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.orch.ExecuteByID(ctx, configID, channel.Tee(sinks...)); err != nil {
		return fmt.Errorf("run %s: %w", configID, err)
	}
	return nil
}

// consoleSink renders channel messages for a terminal.
func consoleSink(stdout, stderr io.Writer) channel.Sink {
	return channel.SinkFunc(func(m channel.Message) {
		switch m.Type {
		case channel.TypeOutput:
			fmt.Fprint(stdout, m.Content)
		case channel.TypeStart:
			fmt.Fprintf(stdout, "\n=== Prompt %d/%d ===\n", m.PromptIndex+1, m.TotalPrompts)
		case channel.TypeComplete:
			fmt.Fprintf(stdout, "\n--- Prompt %d completed ---\n", m.PromptIndex+1)
		case channel.TypeEnd:
			fmt.Fprintln(stdout, m.Message)
		case channel.TypeError:
			fmt.Fprintln(stderr, m.Message)
		}
	})
}
