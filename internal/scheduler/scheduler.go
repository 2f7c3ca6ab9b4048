package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mtzanidakis/maistro/internal/channel"
	"github.com/mtzanidakis/maistro/internal/configs"
)

// Source lists the configurations to schedule.
type Source interface {
	List(folder *string) []configs.Configuration
}

// Executor runs one configuration to completion.
type Executor interface {
	Execute(ctx context.Context, cfg *configs.Configuration, sink channel.Sink) error
}

type entry struct {
	expr string
	next time.Time
}

// Upcoming describes the next scheduled run of a configuration.
type Upcoming struct {
	ConfigID    string    `json:"configId"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	NextRun     time.Time `json:"nextRun"`
}

// Scheduler polls the configurations and runs those whose schedule is due.
type Scheduler struct {
	configs      Source
	exec         Executor
	sinks        func(configID string) channel.Sink
	pollInterval time.Duration
	now          func() time.Time
	entries      map[string]entry
	running      map[string]bool
	mu           sync.Mutex
	wg           sync.WaitGroup
	reloadCh     chan struct{}
}

// New creates a scheduler. sinks returns where a fired run streams its
// events; nil discards them.
func New(src Source, exec Executor, sinks func(string) channel.Sink, pollInterval time.Duration) *Scheduler {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	if sinks == nil {
		sinks = func(string) channel.Sink { return channel.Discard }
	}
	return &Scheduler{
		configs:      src,
		exec:         exec,
		sinks:        sinks,
		pollInterval: pollInterval,
		now:          time.Now,
		entries:      make(map[string]entry),
		running:      make(map[string]bool),
		reloadCh:     make(chan struct{}, 1),
	}
}

// Reload asks the run loop to re-read schedules immediately.
func (s *Scheduler) Reload() {
	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	slog.Info("scheduler started", "poll_interval", s.pollInterval)
	s.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			slog.Info("scheduler stopped")
			return
		case <-s.reloadCh:
			slog.Debug("scheduler reloading schedules")
			s.poll(ctx)
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

// poll refreshes next-run times and fires every due configuration. A
// configuration seen for the first time, or whose schedule changed, is
// scheduled from now and not fired.
func (s *Scheduler) poll(ctx context.Context) {
	now := s.now()
	seen := make(map[string]bool)

	var due []configs.Configuration
	s.mu.Lock()
	for _, cfg := range s.configs.List(nil) {
		if cfg.Schedule == nil || !cfg.Schedule.Enabled {
			continue
		}
		expr, err := cfg.Schedule.CronExpression()
		if err != nil {
			slog.Warn("invalid schedule", "config", cfg.ID, "error", err)
			continue
		}
		next := cfg.Schedule.NextRun(now)
		if next == nil {
			continue
		}
		seen[cfg.ID] = true

		e, ok := s.entries[cfg.ID]
		if !ok || e.expr != expr {
			s.entries[cfg.ID] = entry{expr: expr, next: *next}
			continue
		}
		if now.Before(e.next) {
			continue
		}
		s.entries[cfg.ID] = entry{expr: expr, next: *next}
		if s.running[cfg.ID] {
			slog.Warn("scheduled run skipped, previous run still active", "config", cfg.ID)
			continue
		}
		s.running[cfg.ID] = true
		due = append(due, cfg)
	}
	for id := range s.entries {
		if !seen[id] {
			delete(s.entries, id)
		}
	}
	s.mu.Unlock()

	for _, cfg := range due {
		s.fire(ctx, cfg)
	}
}

func (s *Scheduler) fire(ctx context.Context, cfg configs.Configuration) {
	slog.Info("executing scheduled configuration", "config", cfg.ID, "name", cfg.Name)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.running, cfg.ID)
			s.mu.Unlock()
		}()

		if err := s.exec.Execute(ctx, &cfg, s.sinks(cfg.ID)); err != nil {
			slog.Error("scheduled execution failed", "config", cfg.ID, "error", err)
		}
	}()
}

// Upcoming lists the known next runs, soonest first.
func (s *Scheduler) Upcoming() []Upcoming {
	byID := make(map[string]configs.Configuration)
	for _, cfg := range s.configs.List(nil) {
		byID[cfg.ID] = cfg
	}

	s.mu.Lock()
	out := make([]Upcoming, 0, len(s.entries))
	for id, e := range s.entries {
		cfg, ok := byID[id]
		if !ok || cfg.Schedule == nil {
			continue
		}
		out = append(out, Upcoming{
			ConfigID:    id,
			Name:        cfg.Name,
			Description: cfg.Schedule.Format(),
			NextRun:     e.next,
		})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].NextRun.Before(out[j].NextRun) })
	return out
}

// Wait blocks until fired runs have finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
