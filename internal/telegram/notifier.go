// Package telegram reports finished executions to a Telegram chat.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mtzanidakis/maistro/internal/config"
	"github.com/mtzanidakis/maistro/internal/execution"
	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

const maxMessageLen = 4096

type sender interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

type Notifier struct {
	api     sender
	chatID  int64
	timeout time.Duration
}

func NewNotifier(cfg config.TelegramConfig) (*Notifier, error) {
	if cfg.ChatID == 0 {
		return nil, fmt.Errorf("telegram chat id is required")
	}
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Notifier{api: bot, chatID: cfg.ChatID, timeout: 15 * time.Second}, nil
}

// Notify is a lifecycle listener. Only terminal events are delivered, in the
// background so the orchestrator is never held up by the Telegram API.
func (n *Notifier) Notify(ev execution.Event) {
	if ev.Kind != execution.EventCompleted && ev.Kind != execution.EventFailed {
		return
	}
	text := formatEvent(ev)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()
		if err := n.SendMessage(ctx, text); err != nil {
			slog.Error("failed to send telegram notification", "execution", ev.Execution.ID, "error", err)
		}
	}()
}

func (n *Notifier) SendMessage(ctx context.Context, text string) error {
	for _, chunk := range chunkMessage(text, maxMessageLen) {
		if _, err := n.api.SendMessage(ctx, tu.Message(tu.ID(n.chatID), chunk)); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

func formatEvent(ev execution.Event) string {
	e := ev.Execution
	var b strings.Builder

	switch ev.Kind {
	case execution.EventCompleted:
		fmt.Fprintf(&b, "✅ %s completed", e.ConfigName)
	default:
		fmt.Fprintf(&b, "❌ %s failed", e.ConfigName)
	}

	steps := e.Step
	if ev.Kind == execution.EventCompleted {
		steps = e.TotalSteps
	}
	fmt.Fprintf(&b, "\nSteps: %d/%d", steps, e.TotalSteps)
	if !e.StartedAt.IsZero() && !ev.At.IsZero() {
		fmt.Fprintf(&b, "\nDuration: %s", ev.At.Sub(e.StartedAt).Round(time.Second))
	}
	if e.ParentID != "" {
		fmt.Fprintf(&b, "\nTriggered by: %s", e.ParentID)
	}
	if ev.Err != nil {
		fmt.Fprintf(&b, "\n\n%s", ev.Err)
	}
	return b.String()
}

// chunkMessage splits text into pieces of at most maxLen bytes, preferring
// newline boundaries in the second half of a piece and never splitting a rune.
func chunkMessage(text string, maxLen int) []string {
	var chunks []string
	for len(text) > maxLen {
		cut := maxLen
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		if cut == 0 {
			cut = maxLen
		}
		if idx := strings.LastIndex(text[:cut], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	return append(chunks, text)
}
