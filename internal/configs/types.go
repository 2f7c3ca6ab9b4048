package configs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/mtzanidakis/maistro/internal/schedule"
)

// ErrInvalid wraps every validation failure reported by Save.
var ErrInvalid = errors.New("invalid configuration")

// Ids end up in agent session names and prompt file names.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidID reports whether id is safe to use as a configuration id.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// Configuration is a named, ordered list of prompts run against the agent CLI.
type Configuration struct {
	ID       string             `json:"id"`
	Name     string             `json:"name"`
	Path     string             `json:"path"`
	Prompts  []Prompt           `json:"prompts"`
	Schedule *schedule.Schedule `json:"schedule,omitempty"`
	Trigger  *Trigger           `json:"trigger,omitempty"`
}

// Prompt is one step of a configuration. Documents may store a prompt either
// as a bare string or as an object; both decode into this struct.
type Prompt struct {
	Text         string   `json:"text"`
	MCPServerIDs []string `json:"mcpServerIds,omitempty"`
	Model        string   `json:"model,omitempty"`
}

func (p *Prompt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*p = Prompt{Text: text}
		return nil
	}

	type plain Prompt
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("decode prompt: %w", err)
	}
	*p = Prompt(v)
	return nil
}

// Trigger chains a configuration into another one once all its prompts finish.
type Trigger struct {
	ConfigID        string `json:"configId"`
	PreserveSession bool   `json:"preserveSession,omitempty"`
}

// Folder is a virtual directory derived from configuration paths.
type Folder struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	ParentPath string `json:"parentPath"`
	IsFolder   bool   `json:"isFolder"`
}

// Validate checks the rules a configuration must satisfy to be stored.
func (c *Configuration) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("missing id")
	}
	if !ValidID(c.ID) {
		return fmt.Errorf("id %q may only contain letters, digits, '_' and '-'", c.ID)
	}
	if c.Name == "" {
		return fmt.Errorf("missing name")
	}
	if len(c.Prompts) == 0 {
		return fmt.Errorf("prompts must not be empty")
	}
	if c.Trigger != nil {
		if c.Trigger.ConfigID == "" {
			return fmt.Errorf("trigger is missing configId")
		}
		if c.Trigger.ConfigID == c.ID {
			return fmt.Errorf("configuration cannot trigger itself")
		}
	}
	if c.Schedule != nil {
		if err := c.Schedule.Validate(); err != nil {
			return fmt.Errorf("schedule: %w", err)
		}
	}
	return nil
}

// Runnable reports whether the configuration has anything to execute.
func (c *Configuration) Runnable() bool {
	return c != nil && len(c.Prompts) > 0
}
