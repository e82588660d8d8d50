// Package identity is the authoritative record of governance principals. The gateway
// uses it to confirm a second approver's role server-side instead of trusting the
// role a client claims.
package identity

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"trustnet/internal/collusion"
	"trustnet/pkg/platform/sentinel"
)

// Principal is a person or service account that can approve governed actions.
type Principal struct {
	ID        string `yaml:"id" json:"id"`
	Role      string `yaml:"role" json:"role"`
	EntityID  string `yaml:"entity_id,omitempty" json:"entity_id,omitempty"`
	ReportsTo string `yaml:"reports_to,omitempty" json:"reports_to,omitempty"`
}

// Approver converts the principal into the shape the collusion validator checks.
func (p Principal) Approver() collusion.Approver {
	return collusion.Approver{ID: p.ID, Role: p.Role, EntityID: p.EntityID, ReportsTo: p.ReportsTo}
}

type directoryFile struct {
	Principals []Principal `yaml:"principals"`
}

// Directory is an in-memory principal index.
type Directory struct {
	mu         sync.RWMutex
	principals map[string]Principal
}

// NewDirectory builds a directory from principals. Later duplicates replace earlier ones.
func NewDirectory(principals ...Principal) *Directory {
	d := &Directory{principals: make(map[string]Principal, len(principals))}
	for _, p := range principals {
		d.principals[p.ID] = p
	}
	return d
}

// LoadFile reads a YAML directory of the form {principals: [{id, role, entity_id, reports_to}]}.
func LoadFile(path string) (*Directory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read identity directory: %w", err)
	}
	var f directoryFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode identity directory: %w", err)
	}
	for i, p := range f.Principals {
		if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.Role) == "" {
			return nil, fmt.Errorf("principals[%d]: id and role are required", i)
		}
	}
	return NewDirectory(f.Principals...), nil
}

// Lookup returns the principal with id, or sentinel.ErrNotFound.
func (d *Directory) Lookup(_ context.Context, id string) (Principal, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.principals[id]
	if !ok {
		return Principal{}, sentinel.ErrNotFound
	}
	return p, nil
}

// Put adds or replaces a principal.
func (d *Directory) Put(p Principal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.principals[p.ID] = p
}

// Len returns the number of principals.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.principals)
}
