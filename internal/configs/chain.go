package configs

import (
	"errors"
	"fmt"
)

var (
	ErrChainTargetMissing = errors.New("trigger target not found")
	ErrChainCycle         = errors.New("trigger chain contains a cycle")
)

// Chain is the trigger chain starting at one configuration.
type Chain struct {
	// IDs lists the configurations in run order, starting with the root.
	IDs []string `json:"ids"`
	// TriggeredBy lists configurations whose trigger points at the root.
	TriggeredBy []string `json:"triggeredBy"`
	// Broken explains why the chain cannot run to the end, if it cannot.
	Broken string `json:"broken,omitempty"`
}

// Chain walks the trigger links from id. It returns (nil, nil) when id is
// unknown. A chain that reaches a missing target or revisits a configuration
// is returned with Broken set and the matching error.
func (m *Manager) Chain(id string) (*Chain, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byID := make(map[string]*Configuration, len(m.configs))
	for i := range m.configs {
		byID[m.configs[i].ID] = &m.configs[i]
	}
	if byID[id] == nil {
		return nil, nil
	}

	chain := &Chain{IDs: []string{}, TriggeredBy: []string{}}
	for _, c := range m.configs {
		if c.Trigger != nil && c.Trigger.ConfigID == id {
			chain.TriggeredBy = append(chain.TriggeredBy, c.ID)
		}
	}

	seen := make(map[string]bool)
	for cur := byID[id]; ; {
		chain.IDs = append(chain.IDs, cur.ID)
		seen[cur.ID] = true

		if cur.Trigger == nil || cur.Trigger.ConfigID == "" {
			return chain, nil
		}
		next := cur.Trigger.ConfigID
		if seen[next] {
			err := fmt.Errorf("%w: %s -> %s", ErrChainCycle, cur.ID, next)
			chain.Broken = err.Error()
			return chain, err
		}
		if byID[next] == nil {
			err := fmt.Errorf("%w: %s", ErrChainTargetMissing, next)
			chain.Broken = err.Error()
			return chain, err
		}
		cur = byID[next]
	}
}
