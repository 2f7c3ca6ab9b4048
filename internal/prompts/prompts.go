package prompts

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mtzanidakis/maistro/internal/configs"
)

// Materializer writes prompt texts to files the agent CLI reads as
// instructions.
type Materializer struct {
	Dir string
}

// Materialize writes one file per prompt and returns their absolute paths in
// prompt order.
func (m Materializer) Materialize(cfg *configs.Configuration) ([]string, error) {
	dir, err := filepath.Abs(m.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve prompts dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create prompts dir: %w", err)
	}

	paths := make([]string, 0, len(cfg.Prompts))
	for i, p := range cfg.Prompts {
		path := filepath.Join(dir, FileName(cfg.ID, i))
		if err := os.WriteFile(path, []byte(p.Text), 0o644); err != nil {
			return nil, fmt.Errorf("write prompt %d: %w", i, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// FileName is the file a configuration's prompt at index i is written to.
func FileName(configID string, i int) string {
	return fmt.Sprintf("%s_prompt_%d.md", configID, i)
}
