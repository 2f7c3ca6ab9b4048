// Package execution drives a configuration's prompts through the agent CLI one
// step at a time and chains into triggered configurations.
package execution

import (
	"context"
	"errors"
	"time"

	"github.com/mtzanidakis/maistro/internal/configs"
)

var (
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrPreparationFailed    = errors.New("preparation failed")
	ErrTriggerNotFound      = errors.New("triggered configuration not found")
	ErrCycleDetected        = errors.New("trigger cycle detected")
)

// ConfigSource resolves trigger targets.
type ConfigSource interface {
	Get(id string) (*configs.Configuration, bool)
}

// Materializer writes prompt files and returns their paths in order.
type Materializer interface {
	Materialize(cfg *configs.Configuration) ([]string, error)
}

// ModelSwitcher points the agent CLI at a model before a step.
type ModelSwitcher interface {
	DefaultModel() string
	SwitchModel(ctx context.Context, model string) error
}

// ToolResolver turns tool server ids into CLI arguments and display names.
type ToolResolver interface {
	Resolve(ids []string) (args []string, names []string)
}

// SessionStore clears persisted agent sessions.
type SessionStore interface {
	Reset(name string) error
}

// CommandRunner runs one agent invocation, streaming output chunks to out.
type CommandRunner interface {
	Run(ctx context.Context, command string, args []string, out func(string)) error
}

// Execution is the in-memory record of one run of a configuration.
type Execution struct {
	ID          string    `json:"id"`
	ConfigID    string    `json:"configId"`
	ConfigName  string    `json:"configName"`
	ParentID    string    `json:"parentId,omitempty"`
	SessionName string    `json:"sessionName"`
	Resumed     bool      `json:"resumed"`
	PromptFiles []string  `json:"-"`
	Step        int       `json:"step"`
	TotalSteps  int       `json:"totalSteps"`
	StartedAt   time.Time `json:"startedAt"`
}

type EventKind string

const (
	EventStarted       EventKind = "started"
	EventStepCompleted EventKind = "step_completed"
	EventCompleted     EventKind = "completed"
	EventFailed        EventKind = "failed"
)

// Event reports a lifecycle transition of an execution.
type Event struct {
	Kind      EventKind
	Execution Execution
	Err       error
	At        time.Time
}

// LifecycleListener is called synchronously for every lifecycle event.
type LifecycleListener func(Event)
