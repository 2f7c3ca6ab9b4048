package configs

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/mtzanidakis/maistro/internal/jsondoc"
)

// Manager owns the configurations document.
type Manager struct {
	path    string
	configs []Configuration
	mu      sync.RWMutex
}

func NewManager(path string) (*Manager, error) {
	m := &Manager{path: path, configs: []Configuration{}}
	if err := m.Reload(); err != nil {
		return nil, err
	}
	return m, nil
}

// Reload re-reads the document from disk.
func (m *Manager) Reload() error {
	configs := []Configuration{}
	if err := jsondoc.Load(m.path, &configs); err != nil {
		return fmt.Errorf("load configurations: %w", err)
	}

	kept := configs[:0]
	for _, c := range configs {
		if !ValidID(c.ID) {
			slog.Warn("skipping configuration with invalid id", "id", c.ID, "name", c.Name)
			continue
		}
		kept = append(kept, c)
	}
	configs = kept

	m.mu.Lock()
	m.configs = configs
	m.mu.Unlock()

	slog.Debug("configurations loaded", "count", len(configs), "path", m.path)
	return nil
}

// Path returns the document location.
func (m *Manager) Path() string {
	return m.path
}

// List returns all configurations, or only those directly inside folder when
// folder is non-nil.
func (m *Manager) List(folder *string) []Configuration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Configuration, 0, len(m.configs))
	for _, c := range m.configs {
		if folder != nil && c.Path != *folder {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Get returns a copy of the configuration with the given id.
func (m *Manager) Get(id string) (*Configuration, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := range m.configs {
		if m.configs[i].ID == id {
			c := m.configs[i]
			return &c, true
		}
	}
	return nil, false
}

// Save inserts or replaces a configuration. An empty id is assigned.
func (m *Manager) Save(c *Configuration) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.Path = normalizePath(c.Path)
	if err := c.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	replaced := false
	for i := range m.configs {
		if m.configs[i].ID == c.ID {
			m.configs[i] = *c
			replaced = true
			break
		}
	}
	if !replaced {
		m.configs = append(m.configs, *c)
	}
	return m.persist()
}

// Delete removes a configuration. It reports whether one was removed.
func (m *Manager) Delete(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.configs[:0:0]
	for _, c := range m.configs {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	if len(kept) == len(m.configs) {
		return false, nil
	}
	m.configs = kept
	return true, m.persist()
}

// Move places a configuration in another folder.
func (m *Manager) Move(id, folder string) (*Configuration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.configs {
		if m.configs[i].ID == id {
			m.configs[i].Path = normalizePath(folder)
			if err := m.persist(); err != nil {
				return nil, err
			}
			c := m.configs[i]
			return &c, nil
		}
	}
	return nil, nil
}

// Folders derives the virtual folder tree from configuration paths.
func (m *Manager) Folders() []Folder {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]Folder)
	for _, c := range m.configs {
		current := ""
		for _, part := range strings.Split(c.Path, "/") {
			if part == "" {
				continue
			}
			if current == "" {
				current = part
			} else {
				current = current + "/" + part
			}
			seen[current] = newFolder(current)
		}
	}

	out := make([]Folder, 0, len(seen))
	for _, f := range seen {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// CreateFolder returns the folder descriptor. Folders are virtual and only
// persist once a configuration lives in them.
func (m *Manager) CreateFolder(path string) Folder {
	return newFolder(normalizePath(path))
}

// DeleteFolder moves every configuration in the folder or below it to the
// folder's parent.
func (m *Manager) DeleteFolder(path string) error {
	path = normalizePath(path)
	parent := parentPath(path)

	m.mu.Lock()
	defer m.mu.Unlock()

	modified := false
	for i := range m.configs {
		if inFolder(m.configs[i].Path, path) {
			m.configs[i].Path = parent
			modified = true
		}
	}
	if !modified {
		return nil
	}
	return m.persist()
}

// RenameFolder rewrites the prefix of every configuration path under oldPath.
func (m *Manager) RenameFolder(oldPath, newPath string) error {
	oldPath = normalizePath(oldPath)
	newPath = normalizePath(newPath)
	if oldPath == "" {
		return fmt.Errorf("cannot rename the root folder")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	modified := false
	for i := range m.configs {
		if inFolder(m.configs[i].Path, oldPath) {
			m.configs[i].Path = normalizePath(newPath + strings.TrimPrefix(m.configs[i].Path, oldPath))
			modified = true
		}
	}
	if !modified {
		return nil
	}
	return m.persist()
}

// persist must be called with mu held.
func (m *Manager) persist() error {
	if err := jsondoc.Save(m.path, m.configs); err != nil {
		return fmt.Errorf("save configurations: %w", err)
	}
	return nil
}

func newFolder(path string) Folder {
	name := path
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		name = path[idx+1:]
	}
	return Folder{
		Name:       name,
		Path:       path,
		ParentPath: parentPath(path),
		IsFolder:   true,
	}
}

func parentPath(path string) string {
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		return path[:idx]
	}
	return ""
}

func inFolder(configPath, folder string) bool {
	return configPath == folder || strings.HasPrefix(configPath, folder+"/")
}

func normalizePath(p string) string {
	return strings.Trim(strings.TrimSpace(p), "/")
}
