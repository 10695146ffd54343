// Package fsm is the generic role-gated transition engine shared by every
// lifecycle. Machines are data: a set of states, the terminal subset, and
// labelled edges each carrying the roles allowed to take them, guards over the
// request payload, and the events and actions a successful transition emits.
//
// Attempt and Available are pure: they never mutate a machine or retain state
// between calls, so they may be called concurrently. Persisting the resulting
// state is the caller's job (see package lifecycle).
package fsm

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// State is a lifecycle state name.
type State string

// Role is an actor role name.
type Role string

// Payload is the request data guards and templates read from.
type Payload map[string]any

// Context identifies who is attempting a transition.
type Context struct {
	ActorID          string         `json:"actorId"`
	Role             Role           `json:"role"`
	ResourceEntityID string         `json:"resourceEntityId"`
	Meta             map[string]any `json:"meta,omitempty"`
}

// Guard is a named predicate evaluated before a transition is allowed.
type Guard struct {
	Name    string                       `json:"name"`
	Message string                       `json:"message"`
	Check   func(Payload, Context) bool `json:"-"`
}

// EventSpec is an event template. Data values may contain {{placeholders}}.
type EventSpec struct {
	Type string            `json:"type" yaml:"type" validate:"required"`
	Data map[string]string `json:"data,omitempty" yaml:"data"`
}

// ActionSpec is a scheduled action template. Param values may contain
// {{placeholders}}.
type ActionSpec struct {
	Type   string            `json:"type" yaml:"type" validate:"required"`
	Params map[string]string `json:"params,omitempty" yaml:"params"`
}

// Transition is a directed edge between two states.
type Transition struct {
	From             State
	To               State
	Label            string
	AllowedRoles     []Role
	Guards           []Guard
	Events           []EventSpec
	Actions          []ActionSpec
	EvidenceRequired bool
	// Timeout is metadata for an external scheduler; the engine never enforces it.
	Timeout time.Duration
}

// Allows reports whether role may take the edge.
func (t *Transition) Allows(role Role) bool {
	return slices.Contains(t.AllowedRoles, role)
}

// Machine is a state machine definition. Name doubles as the entity type the
// machine governs.
type Machine struct {
	Name        string
	Description string
	States      []State
	Initial     State
	Terminal    []State
	Transitions []Transition
}

// ErrInvalidMachine is wrapped by every Validate failure.
var ErrInvalidMachine = errors.New("invalid state machine")

// ValidationError lists every problem found in a machine definition.
type ValidationError struct {
	Machine  string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("state machine %q: %s", e.Machine, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidMachine }

// HasState reports whether s is declared.
func (m *Machine) HasState(s State) bool {
	return slices.Contains(m.States, s)
}

// IsTerminal reports whether s is a terminal state.
func (m *Machine) IsTerminal(s State) bool {
	return slices.Contains(m.Terminal, s)
}

// Outgoing returns the edges leaving s in declaration order.
func (m *Machine) Outgoing(s State) []*Transition {
	var out []*Transition
	for i := range m.Transitions {
		if m.Transitions[i].From == s {
			out = append(out, &m.Transitions[i])
		}
	}
	return out
}

// Edge returns the edge from -> to.
func (m *Machine) Edge(from, to State) (*Transition, bool) {
	for i := range m.Transitions {
		t := &m.Transitions[i]
		if t.From == from && t.To == to {
			return t, true
		}
	}
	return nil, false
}

// EdgeByLabel returns the edge leaving from with the given label.
func (m *Machine) EdgeByLabel(from State, label string) (*Transition, bool) {
	for i := range m.Transitions {
		t := &m.Transitions[i]
		if t.From == from && t.Label == label {
			return t, true
		}
	}
	return nil, false
}

// Validate checks the structural invariants of the definition. All problems
// are reported at once.
func (m *Machine) Validate() error {
	var problems []string
	addf := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if m.Name == "" {
		addf("name is required")
	}
	if len(m.States) == 0 {
		addf("at least one state is required")
	}
	seen := make(map[State]bool, len(m.States))
	for _, s := range m.States {
		if s == "" {
			addf("state names must not be empty")
		}
		if seen[s] {
			addf("state %q declared twice", s)
		}
		seen[s] = true
	}
	if !seen[m.Initial] {
		addf("initial state %q is not declared", m.Initial)
	}
	for _, s := range m.Terminal {
		if !seen[s] {
			addf("terminal state %q is not declared", s)
		}
	}

	type pair struct {
		from State
		key  string
	}
	byTarget := make(map[pair]bool)
	byLabel := make(map[pair]bool)
	for i := range m.Transitions {
		t := &m.Transitions[i]
		edge := fmt.Sprintf("edge %d (%s -> %s)", i, t.From, t.To)
		if !seen[t.From] {
			addf("%s: from state %q is not declared", edge, t.From)
		}
		if !seen[t.To] {
			addf("%s: to state %q is not declared", edge, t.To)
		}
		if m.IsTerminal(t.From) {
			addf("%s: terminal state %q must have no outgoing edges", edge, t.From)
		}
		if t.Label == "" {
			addf("%s: label is required", edge)
		}
		if len(t.AllowedRoles) == 0 {
			addf("%s: at least one role is required", edge)
		}
		if t.Timeout < 0 {
			addf("%s: timeout must not be negative", edge)
		}
		for _, g := range t.Guards {
			if g.Name == "" {
				addf("%s: guard name is required", edge)
			}
			if g.Check == nil {
				addf("%s: guard %q has no check", edge, g.Name)
			}
		}

		k := pair{t.From, string(t.To)}
		if byTarget[k] {
			addf("%s: duplicate edge between the same states", edge)
		}
		byTarget[k] = true

		if t.Label != "" {
			k = pair{t.From, t.Label}
			if byLabel[k] {
				addf("%s: label %q already used from state %q", edge, t.Label, t.From)
			}
			byLabel[k] = true
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Machine: m.Name, Problems: problems}
	}
	return nil
}
