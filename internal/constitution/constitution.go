// Package constitution interprets the role/action power table.
//
// The table itself is versioned YAML data (powers.yaml, embedded at build time and
// replaceable at startup); this package validates it once at load and then answers
// Enforce queries without side effects. The separation rules in separations.go are
// compiled in and apply on top of whatever table is loaded.
package constitution

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed powers.yaml
var defaultTable []byte

// Constitution is a validated, read-only power table.
type Constitution struct {
	version string
	order   []string
	powers  map[string]Power
}

// Default returns the embedded power table.
func Default() (*Constitution, error) {
	return Parse(defaultTable)
}

// MustDefault is Default for package initialisation and tests.
func MustDefault() *Constitution {
	c, err := Default()
	if err != nil {
		panic(fmt.Sprintf("embedded power table is invalid: %v", err))
	}
	return c
}

// LoadFile reads and validates a power table from path.
func LoadFile(path string) (*Constitution, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read power table: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates a power table document.
func Parse(raw []byte) (*Constitution, error) {
	var table Table
	if err := yaml.Unmarshal(raw, &table); err != nil {
		return nil, fmt.Errorf("decode power table: %w", err)
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}

	c := &Constitution{
		version: table.Version,
		order:   make([]string, 0, len(table.Powers)),
		powers:  make(map[string]Power, len(table.Powers)),
	}
	for _, p := range table.Powers {
		if p.Requirement.IsNone() {
			p.Requirement = nil
		}
		c.order = append(c.order, p.Action)
		c.powers[p.Action] = p
	}
	return c, nil
}

// Validate checks the structural rules every table must satisfy. All problems are
// reported together.
func (t *Table) Validate() error {
	var errs []error
	if strings.TrimSpace(t.Version) == "" {
		errs = append(errs, errors.New("version is required"))
	}
	if len(t.Powers) == 0 {
		errs = append(errs, errors.New("at least one power is required"))
	}

	seen := make(map[string]bool, len(t.Powers))
	for i, p := range t.Powers {
		name := strings.TrimSpace(p.Action)
		if name == "" {
			errs = append(errs, fmt.Errorf("powers[%d]: action name is required", i))
			continue
		}
		if seen[name] {
			errs = append(errs, fmt.Errorf("%s: duplicate action", name))
		}
		seen[name] = true

		for _, r := range slices.Concat(p.Allowed, p.Denied) {
			if !IsKnownRole(r) {
				errs = append(errs, fmt.Errorf("%s: unknown role %q", name, r))
			}
		}
		for _, r := range p.Allowed {
			if p.denies(r) {
				errs = append(errs, fmt.Errorf("%s: role %q is both allowed and denied", name, r))
			}
		}
		if p.Immutable && (len(p.Allowed) > 0 || !p.Requirement.IsNone()) {
			errs = append(errs, fmt.Errorf("%s: immutable actions cannot carry allowed roles or a requirement", name))
		}
		if err := validateRequirement(p.Requirement); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func validateRequirement(r *Requirement) error {
	if r.IsNone() {
		return nil
	}
	switch r.Type {
	case RequireDualKey, RequireMultiParty:
		if len(r.Roles) == 0 {
			return fmt.Errorf("%s requirement needs at least one role", r.Type)
		}
		for _, role := range r.Roles {
			if !IsKnownRole(role) {
				return fmt.Errorf("requirement names unknown role %q", role)
			}
		}
	case RequireSuperMajority:
		if r.Threshold <= 50 || r.Threshold > 100 {
			return fmt.Errorf("super_majority threshold %.0f must be in (50,100]", r.Threshold)
		}
	case RequireConstitutionalAmendment:
	default:
		return fmt.Errorf("unknown requirement type %q", r.Type)
	}
	return nil
}

// Version returns the table version.
func (c *Constitution) Version() string {
	return c.version
}

// Actions returns every governed action in table order.
func (c *Constitution) Actions() []Power {
	out := make([]Power, 0, len(c.order))
	for _, a := range c.order {
		out = append(out, c.powers[a])
	}
	return out
}

// Lookup returns the power entry for action.
func (c *Constitution) Lookup(action string) (Power, bool) {
	p, ok := c.powers[action]
	return p, ok
}

// Separations returns the hardcoded separation rules.
func (c *Constitution) Separations() []Separation {
	return Separations()
}
