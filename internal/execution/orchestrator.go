package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mtzanidakis/maistro/internal/channel"
	"github.com/mtzanidakis/maistro/internal/configs"
	"github.com/mtzanidakis/maistro/internal/session"
)

// Deps are the collaborators an Orchestrator drives.
type Deps struct {
	Configs  ConfigSource
	Prompts  Materializer
	Models   ModelSwitcher
	Tools    ToolResolver
	Sessions SessionStore
	Runner   CommandRunner
}

type Options struct {
	// Command is the agent CLI executable.
	Command string
	// StepDelay is the pause between consecutive steps.
	StepDelay time.Duration
	// StepTimeout kills a step that runs longer. Zero disables it.
	StepTimeout time.Duration
}

type Orchestrator struct {
	deps       Deps
	opts       Options
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
	newID      func(configID string, at time.Time) string
	active     map[string]*Execution
	mu         sync.RWMutex
	listeners  []LifecycleListener
	listenerMu sync.RWMutex
}

func NewOrchestrator(deps Deps, opts Options) *Orchestrator {
	if opts.Command == "" {
		opts.Command = "goose"
	}
	return &Orchestrator{
		deps:   deps,
		opts:   opts,
		sleep:  sleepCtx,
		now:    time.Now,
		newID:  executionID,
		active: make(map[string]*Execution),
	}
}

func (o *Orchestrator) OnLifecycle(listener LifecycleListener) {
	o.listenerMu.Lock()
	defer o.listenerMu.Unlock()
	o.listeners = append(o.listeners, listener)
}

// Active returns a snapshot of the executions currently in flight, oldest
// first.
func (o *Orchestrator) Active() []Execution {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]Execution, 0, len(o.active))
	for _, e := range o.active {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// ExecuteByID looks the configuration up and executes it.
func (o *Orchestrator) ExecuteByID(ctx context.Context, configID string, sink channel.Sink) error {
	cfg, _ := o.deps.Configs.Get(configID)
	return o.Execute(ctx, cfg, sink)
}

// Execute runs every prompt of cfg in order, then follows its trigger chain.
// Events are sent to sink; the returned error is the execution's terminal
// failure, if any.
func (o *Orchestrator) Execute(ctx context.Context, cfg *configs.Configuration, sink channel.Sink) error {
	if sink == nil {
		sink = channel.Discard
	}
	if !cfg.Runnable() {
		sink.Send(channel.Error("Invalid configuration or no prompts to execute"))
		return ErrInvalidConfiguration
	}

	slog.Info("starting execution", "config", cfg.ID, "name", cfg.Name)

	exec, err := o.prepare(cfg, nil, false)
	if err != nil {
		sink.Send(channel.Error(fmt.Sprintf("Failed to prepare prompts: %v", err)))
		return err
	}

	visited := map[string]bool{cfg.ID: true}
	for {
		if err := o.runSteps(ctx, exec, cfg, sink); err != nil {
			o.finish(exec, err)
			return err
		}

		if cfg.Trigger == nil || cfg.Trigger.ConfigID == "" {
			sink.Send(channel.End("All prompts completed"))
			o.finish(exec, nil)
			slog.Info("execution completed", "execution", exec.ID)
			return nil
		}

		if err := o.sleep(ctx, o.opts.StepDelay); err != nil {
			sink.Send(channel.Error("Execution cancelled"))
			o.finish(exec, err)
			return err
		}

		next, child, err := o.trigger(cfg, exec, visited, sink)
		if err != nil {
			o.finish(exec, err)
			return err
		}
		o.finish(exec, nil)
		cfg, exec = next, child
	}
}

// trigger resolves and prepares the configuration cfg hands off to.
func (o *Orchestrator) trigger(cfg *configs.Configuration, parent *Execution, visited map[string]bool, sink channel.Sink) (*configs.Configuration, *Execution, error) {
	targetID := cfg.Trigger.ConfigID
	slog.Info("trigger found", "config", cfg.ID, "target", targetID)
	sink.Send(channel.Output(fmt.Sprintf("\nTriggering execution of: %s\n", targetID)))

	next, ok := o.deps.Configs.Get(targetID)
	if !ok || next == nil {
		sink.Send(channel.Error(fmt.Sprintf("Triggered configuration not found: %s", targetID)))
		return nil, nil, fmt.Errorf("%w: %s", ErrTriggerNotFound, targetID)
	}
	if visited[next.ID] {
		sink.Send(channel.Error(fmt.Sprintf("Trigger cycle detected: %s already ran in this chain", next.ID)))
		return nil, nil, fmt.Errorf("%w: %s", ErrCycleDetected, next.ID)
	}
	visited[next.ID] = true

	if !next.Runnable() {
		sink.Send(channel.Error(fmt.Sprintf("Invalid triggered configuration %s: no prompts to execute", next.ID)))
		return nil, nil, fmt.Errorf("%w: %s", ErrInvalidConfiguration, next.ID)
	}

	sink.Send(channel.Output(fmt.Sprintf("\nStarting execution of triggered configuration: %s\n", next.Name)))

	preserve := cfg.Trigger.PreserveSession
	if preserve {
		sink.Send(channel.Output("Using shared session for triggered configuration\n"))
	}

	child, err := o.prepare(next, parent, preserve)
	if err != nil {
		sink.Send(channel.Error(fmt.Sprintf("Failed to prepare prompts for triggered config: %v", err)))
		return nil, nil, err
	}
	return next, child, nil
}

// prepare materializes prompts and registers a new execution. A child of a
// preserved-session trigger resumes its parent's session.
func (o *Orchestrator) prepare(cfg *configs.Configuration, parent *Execution, preserve bool) (*Execution, error) {
	files, err := o.deps.Prompts.Materialize(cfg)
	if err != nil {
		slog.Error("prompt preparation failed", "config", cfg.ID, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrPreparationFailed, err)
	}

	now := o.now()
	exec := &Execution{
		ID:          o.newID(cfg.ID, now),
		ConfigID:    cfg.ID,
		ConfigName:  cfg.Name,
		SessionName: session.Name(cfg.ID),
		PromptFiles: files,
		TotalSteps:  len(files),
		StartedAt:   now,
	}
	if parent != nil {
		exec.ParentID = parent.ID
		if preserve {
			exec.SessionName = parent.SessionName
			exec.Resumed = true
		}
	}

	o.mu.Lock()
	o.active[exec.ID] = exec
	o.mu.Unlock()

	slog.Debug("execution registered", "execution", exec.ID, "session", exec.SessionName, "resumed", exec.Resumed)
	o.emit(EventStarted, exec, nil)
	return exec, nil
}

func (o *Orchestrator) runSteps(ctx context.Context, exec *Execution, cfg *configs.Configuration, sink channel.Sink) error {
	for i, prompt := range cfg.Prompts {
		if i > 0 {
			if err := o.sleep(ctx, o.opts.StepDelay); err != nil {
				sink.Send(channel.Error("Execution cancelled"))
				return err
			}
		}

		o.mu.Lock()
		exec.Step = i
		o.mu.Unlock()

		sink.Send(channel.Start(i, exec.TotalSteps, prompt.Text))
		slog.Debug("executing prompt", "execution", exec.ID, "step", i+1, "total", exec.TotalSteps)

		if err := o.runStep(ctx, exec, i, prompt, sink); err != nil {
			slog.Error("prompt failed", "execution", exec.ID, "step", i+1, "error", err)
			sink.Send(channel.Error(fmt.Sprintf("Error executing prompt %d: %v", i+1, err)))
			return fmt.Errorf("prompt %d: %w", i+1, err)
		}

		sink.Send(channel.Complete(i))
		o.emit(EventStepCompleted, exec, nil)
	}
	return nil
}

func (o *Orchestrator) runStep(ctx context.Context, exec *Execution, i int, prompt configs.Prompt, sink channel.Sink) error {
	fresh := i == 0 && !exec.Resumed
	if fresh && o.deps.Sessions != nil {
		if err := o.deps.Sessions.Reset(exec.SessionName); err != nil {
			slog.Warn("session cleanup failed", "session", exec.SessionName, "error", err)
		}
	}

	args := []string{"run"}
	if !fresh {
		args = append(args, "--resume")
	}
	args = append(args, "--name", exec.SessionName, "--instructions", exec.PromptFiles[i])

	o.switchModel(ctx, i, prompt, sink)

	if len(prompt.MCPServerIDs) > 0 && o.deps.Tools != nil {
		ext, names := o.deps.Tools.Resolve(prompt.MCPServerIDs)
		args = append(args, ext...)
		for _, name := range names {
			sink.Send(channel.Output(fmt.Sprintf("Using MCP extension: %s\n", name)))
		}
	}

	stepCtx := ctx
	if o.opts.StepTimeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, o.opts.StepTimeout)
		defer cancel()
	}

	sink.Send(channel.Output("Starting execution...\n"))
	err := o.deps.Runner.Run(stepCtx, o.opts.Command, args, func(chunk string) {
		if c := cleanOutput(chunk); c != "" {
			sink.Send(channel.Output(c))
		}
	})
	if err != nil && errors.Is(stepCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("step timed out after %s: %w", o.opts.StepTimeout, err)
	}
	return err
}

// switchModel applies the model rule: an explicit prompt model always
// switches, the first step falls back to the default, later steps keep
// whatever is active. Failures are reported and execution continues.
func (o *Orchestrator) switchModel(ctx context.Context, i int, prompt configs.Prompt, sink channel.Sink) {
	if o.deps.Models == nil {
		return
	}

	model := prompt.Model
	if model == "" {
		if i != 0 {
			return
		}
		model = o.deps.Models.DefaultModel()
		if model == "" {
			return
		}
		sink.Send(channel.Output(fmt.Sprintf("Setting default model: %s...\n", model)))
	}

	sink.Send(channel.Output(fmt.Sprintf("Switching to model: %s...\n", model)))
	if err := o.deps.Models.SwitchModel(ctx, model); err != nil {
		slog.Warn("model switch failed", "model", model, "error", err)
		sink.Send(channel.Output(fmt.Sprintf("Warning: Failed to switch model: %v\n", err)))
		return
	}
	sink.Send(channel.Output(fmt.Sprintf("Model set to: %s\n", model)))
}

func (o *Orchestrator) finish(exec *Execution, err error) {
	o.mu.Lock()
	delete(o.active, exec.ID)
	o.mu.Unlock()

	if err != nil {
		o.emit(EventFailed, exec, err)
		return
	}
	o.emit(EventCompleted, exec, nil)
}

func (o *Orchestrator) emit(kind EventKind, exec *Execution, err error) {
	o.mu.RLock()
	snapshot := *exec
	o.mu.RUnlock()

	ev := Event{Kind: kind, Execution: snapshot, Err: err, At: o.now()}

	o.listenerMu.RLock()
	defer o.listenerMu.RUnlock()
	for _, l := range o.listeners {
		l(ev)
	}
}

func executionID(configID string, at time.Time) string {
	return fmt.Sprintf("%s-%d-%s", configID, at.UnixMilli(), uuid.NewString()[:8])
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
