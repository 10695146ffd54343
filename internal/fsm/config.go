package fsm

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// MachineConfig is the YAML form of a Machine.
type MachineConfig struct {
	Name        string             `yaml:"name" validate:"required"`
	Description string             `yaml:"description,omitempty"`
	States      []string           `yaml:"states" validate:"required,min=1,dive,required"`
	Initial     string             `yaml:"initial" validate:"required"`
	Terminal    []string           `yaml:"terminal" validate:"dive,required"`
	Transitions []TransitionConfig `yaml:"transitions" validate:"dive"`
}

// TransitionConfig is the YAML form of a Transition.
type TransitionConfig struct {
	From             string       `yaml:"from" validate:"required"`
	To               string       `yaml:"to" validate:"required"`
	Label            string       `yaml:"label" validate:"required"`
	Roles            []string     `yaml:"roles" validate:"required,min=1,dive,required"`
	Guards           []GuardSpec  `yaml:"guards" validate:"dive"`
	Events           []EventSpec  `yaml:"events" validate:"dive"`
	Actions          []ActionSpec `yaml:"actions" validate:"dive"`
	EvidenceRequired bool         `yaml:"evidenceRequired"`
	Timeout          string       `yaml:"timeout,omitempty"`
}

// Build converts the configuration into a validated Machine, resolving guard
// specs through reg.
func (c *MachineConfig) Build(reg *GuardRegistry) (*Machine, error) {
	if err := validate.Struct(c); err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidMachine, c.Name, err)
	}
	if reg == nil {
		reg = NewGuardRegistry()
	}

	m := &Machine{
		Name:        c.Name,
		Description: c.Description,
		Initial:     State(c.Initial),
	}
	for _, s := range c.States {
		m.States = append(m.States, State(s))
	}
	for _, s := range c.Terminal {
		m.Terminal = append(m.Terminal, State(s))
	}
	for i, tc := range c.Transitions {
		t := Transition{
			From:             State(tc.From),
			To:               State(tc.To),
			Label:            tc.Label,
			Events:           tc.Events,
			Actions:          tc.Actions,
			EvidenceRequired: tc.EvidenceRequired,
		}
		for _, r := range tc.Roles {
			t.AllowedRoles = append(t.AllowedRoles, Role(r))
		}
		for _, gs := range tc.Guards {
			g, err := reg.Build(gs)
			if err != nil {
				return nil, fmt.Errorf("%w: %q transition %d (%s): %w", ErrInvalidMachine, c.Name, i, tc.Label, err)
			}
			t.Guards = append(t.Guards, g)
		}
		if tc.Timeout != "" {
			d, err := time.ParseDuration(tc.Timeout)
			if err != nil {
				return nil, fmt.Errorf("%w: %q transition %d (%s): timeout: %w", ErrInvalidMachine, c.Name, i, tc.Label, err)
			}
			t.Timeout = d
		}
		m.Transitions = append(m.Transitions, t)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Load decodes a YAML machine definition. Unknown keys are rejected.
func Load(r io.Reader, reg *GuardRegistry) (*Machine, error) {
	var cfg MachineConfig
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode machine: %w", err)
	}
	return cfg.Build(reg)
}

// LoadFile loads the machine definition at path.
func LoadFile(path string, reg *GuardRegistry) (*Machine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open machine file: %w", err)
	}
	defer f.Close()
	m, err := Load(f, reg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// LoadDir loads every *.yaml and *.yml file in dir into a catalog.
func LoadDir(dir string, reg *GuardRegistry) (*Catalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read machines dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	cat := NewCatalog()
	for _, name := range files {
		m, err := LoadFile(filepath.Join(dir, name), reg)
		if err != nil {
			return nil, err
		}
		if err := cat.Register(m); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	return cat, nil
}

// ErrUnknownMachine is returned when no machine governs an entity type.
var ErrUnknownMachine = errors.New("unknown entity type")

// Catalog maps entity types to machines.
type Catalog struct {
	mu       sync.RWMutex
	machines map[string]*Machine
}

// NewCatalog creates a catalog holding ms. It panics if any machine is
// invalid or registered twice; use Register to handle errors.
func NewCatalog(ms ...*Machine) *Catalog {
	c := &Catalog{machines: make(map[string]*Machine)}
	for _, m := range ms {
		if err := c.Register(m); err != nil {
			panic(err)
		}
	}
	return c
}

// Register validates m and adds it under its name.
func (c *Catalog) Register(m *Machine) error {
	if err := m.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.machines[m.Name]; dup {
		return fmt.Errorf("machine %q registered twice", m.Name)
	}
	c.machines[m.Name] = m
	return nil
}

// Get returns the machine governing entityType.
func (c *Catalog) Get(entityType string) (*Machine, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.machines[entityType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMachine, entityType)
	}
	return m, nil
}

// Names returns the registered entity types, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.machines))
	for n := range c.machines {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of machines.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.machines)
}
