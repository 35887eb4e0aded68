// Package playbook loads the catalog of named strategy variants that
// decision requests reference. Each playbook carries the risk
// parameters the admission gate needs, most importantly the initial
// stop distance used to size open risk.
package playbook

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Definition is one playbook entry in YAML.
type Definition struct {
	ID              string  `yaml:"id"`
	Name            string  `yaml:"name"`
	Type            string  `yaml:"type"`
	StopDistancePct float64 `yaml:"stop_distance_pct"`
	TargetRMultiple float64 `yaml:"target_r_multiple"`
	MaxHoldHours    int     `yaml:"max_hold_hours"`
	IsActive        bool    `yaml:"is_active"`
}

// File is the top-level YAML structure.
type File struct {
	Playbooks []Definition `yaml:"playbooks"`
}

// Catalog holds loaded playbooks keyed by id.
type Catalog struct {
	defs map[string]Definition
}

// Load reads playbooks from a YAML file. A missing file is not an
// error: the built-in defaults are returned so the engine can run
// without any local configuration.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return defaultCatalog(), nil
	}
	if err != nil {
		return nil, err
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse playbooks %s: %w", path, err)
	}
	if len(file.Playbooks) == 0 {
		return defaultCatalog(), nil
	}

	defs := make(map[string]Definition, len(file.Playbooks))
	for _, d := range file.Playbooks {
		if err := validate(d); err != nil {
			return nil, fmt.Errorf("playbook %q: %w", d.ID, err)
		}
		if _, dup := defs[d.ID]; dup {
			return nil, fmt.Errorf("playbook %q: duplicate id", d.ID)
		}
		defs[d.ID] = d
	}
	return &Catalog{defs: defs}, nil
}

func validate(d Definition) error {
	if d.ID == "" {
		return fmt.Errorf("missing id")
	}
	if d.StopDistancePct <= 0 || d.StopDistancePct > 0.5 {
		return fmt.Errorf("stop_distance_pct %.4f out of range (0, 0.5]", d.StopDistancePct)
	}
	return nil
}

// Get returns the playbook for an id.
func (c *Catalog) Get(id string) (Definition, bool) {
	d, ok := c.defs[id]
	return d, ok
}

// Active returns the enabled playbooks sorted by id.
func (c *Catalog) Active() []Definition {
	out := make([]Definition, 0, len(c.defs))
	for _, d := range c.defs {
		if d.IsActive {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// defaultCatalog covers the standard variants so a bare checkout
// still validates decision requests.
func defaultCatalog() *Catalog {
	defs := []Definition{
		{ID: "breakout", Name: "Breakout", Type: "momentum", StopDistancePct: 0.02, TargetRMultiple: 2.0, MaxHoldHours: 48, IsActive: true},
		{ID: "mean_reversion", Name: "Mean Reversion", Type: "reversion", StopDistancePct: 0.015, TargetRMultiple: 1.5, MaxHoldHours: 24, IsActive: true},
		{ID: "event_driven", Name: "Event Driven", Type: "event", StopDistancePct: 0.03, TargetRMultiple: 2.5, MaxHoldHours: 12, IsActive: true},
		{ID: "dip_buy", Name: "Dip Buy", Type: "reversion", StopDistancePct: 0.025, TargetRMultiple: 2.0, MaxHoldHours: 72, IsActive: true},
	}
	m := make(map[string]Definition, len(defs))
	for _, d := range defs {
		m[d.ID] = d
	}
	return &Catalog{defs: m}
}
