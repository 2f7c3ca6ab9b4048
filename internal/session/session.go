// Package session names agent conversation sessions and clears their
// persisted history.
package session

import (
	"fmt"
	"os"
	"path/filepath"
)

const prefix = "maistro-"

// Name returns the session name used for every run of a configuration.
func Name(configID string) string {
	return prefix + configID
}

// Store is the directory the agent CLI writes session histories to.
type Store struct {
	Dir string
}

// Path returns the history file for a session.
func (s Store) Path(name string) string {
	return filepath.Join(s.Dir, name+".jsonl")
}

// Reset deletes a session's history so the next run starts fresh. A session
// that was never written is not an error.
func (s Store) Reset(name string) error {
	if err := os.Remove(s.Path(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session %s: %w", name, err)
	}
	return nil
}
