// Package mcp manages the tool servers (MCP extensions) prompts can attach to
// an agent invocation.
package mcp

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/mtzanidakis/maistro/internal/jsondoc"
)

var ErrInvalidServer = errors.New("mcp server must have a name and command")

// Server is an external tool server the agent CLI starts as an extension.
type Server struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Command string            `json:"command"`
	Args    string            `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// ExtensionString is the value passed to --with-extension: env assignments,
// then command, then args.
func (s Server) ExtensionString() string {
	keys := make([]string, 0, len(s.Env))
	for k := range s.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys)+2)
	for _, k := range keys {
		parts = append(parts, k+"="+s.Env[k])
	}
	parts = append(parts, s.Command)
	if args := strings.TrimSpace(s.Args); args != "" {
		parts = append(parts, args)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// Manager owns the tool server document.
type Manager struct {
	path    string
	servers []Server
	mu      sync.RWMutex
}

func NewManager(path string) (*Manager, error) {
	m := &Manager{path: path, servers: []Server{}}
	if err := m.Reload(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) Reload() error {
	servers := []Server{}
	if err := jsondoc.Load(m.path, &servers); err != nil {
		return fmt.Errorf("load mcp servers: %w", err)
	}

	m.mu.Lock()
	m.servers = servers
	m.mu.Unlock()

	slog.Debug("mcp servers loaded", "count", len(servers))
	return nil
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) List() []Server {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Server, len(m.servers))
	copy(out, m.servers)
	return out
}

func (m *Manager) Get(id string) (*Server, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.servers {
		if m.servers[i].ID == id {
			s := m.servers[i]
			return &s, true
		}
	}
	return nil, false
}

// Save inserts or replaces a server, assigning an id when empty.
func (m *Manager) Save(s *Server) error {
	if s.Name == "" || s.Command == "" {
		return ErrInvalidServer
	}
	if s.ID == "" {
		s.ID = "mcp-server-" + uuid.New().String()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	replaced := false
	for i := range m.servers {
		if m.servers[i].ID == s.ID {
			m.servers[i] = *s
			replaced = true
			break
		}
	}
	if !replaced {
		m.servers = append(m.servers, *s)
	}
	return m.persist()
}

func (m *Manager) Delete(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.servers[:0:0]
	for _, s := range m.servers {
		if s.ID != id {
			kept = append(kept, s)
		}
	}
	if len(kept) == len(m.servers) {
		return false, nil
	}
	m.servers = kept
	return true, m.persist()
}

// Resolve turns server ids into agent CLI arguments. Unknown ids are skipped.
// The returned names are those of the servers that were found, for display.
func (m *Manager) Resolve(ids []string) ([]string, []string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var args, names []string
	for _, id := range ids {
		found := false
		for _, s := range m.servers {
			if s.ID != id {
				continue
			}
			found = true
			if ext := s.ExtensionString(); ext != "" {
				args = append(args, "--with-extension", ext)
				names = append(names, s.Name)
			}
			break
		}
		if !found {
			slog.Warn("unknown mcp server", "id", id)
		}
	}
	return args, names
}

func (m *Manager) persist() error {
	if err := jsondoc.Save(m.path, m.servers); err != nil {
		return fmt.Errorf("save mcp servers: %w", err)
	}
	return nil
}
