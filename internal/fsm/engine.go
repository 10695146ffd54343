package fsm

import (
	"fmt"
	"time"
)

// Code is a machine-readable rejection reason.
type Code string

const (
	CodeGuardFailure    Code = "GUARD_FAILURE"
	CodeRoleDenied      Code = "ROLE_DENIED"
	CodeNoSuchEdge      Code = "NO_SUCH_EDGE"
	CodeAlreadyTerminal Code = "ALREADY_TERMINAL"
)

// Rejection explains why a transition attempt failed. It implements error.
type Rejection struct {
	Code    Code   `json:"code"`
	Guard   string `json:"guard,omitempty"`
	Message string `json:"message"`
	From    State  `json:"from"`
	To      State  `json:"to"`
}

func (r *Rejection) Error() string {
	if r.Guard != "" {
		return fmt.Sprintf("%s (%s): %s", r.Code, r.Guard, r.Message)
	}
	return fmt.Sprintf("%s: %s", r.Code, r.Message)
}

// Is matches rejections by code, so errors.Is(err, fsm.ErrRoleDenied) works.
func (r *Rejection) Is(target error) bool {
	t, ok := target.(*Rejection)
	return ok && t.Code == r.Code
}

// Sentinels for errors.Is.
var (
	ErrGuardFailure    = &Rejection{Code: CodeGuardFailure}
	ErrRoleDenied      = &Rejection{Code: CodeRoleDenied}
	ErrNoSuchEdge      = &Rejection{Code: CodeNoSuchEdge}
	ErrAlreadyTerminal = &Rejection{Code: CodeAlreadyTerminal}
)

// Event is a rendered event.
type Event struct {
	Type string            `json:"type"`
	Data map[string]string `json:"data,omitempty"`
}

// Action is a rendered action for an external scheduler.
type Action struct {
	Type    string            `json:"type"`
	Params  map[string]string `json:"params,omitempty"`
	Timeout time.Duration     `json:"timeout,omitempty"`
}

// Result is the outcome of a transition attempt. Rejection is nil on success.
type Result struct {
	From             State         `json:"from"`
	To               State         `json:"to"`
	Label            string        `json:"label,omitempty"`
	Events           []Event       `json:"events,omitempty"`
	Actions          []Action      `json:"actions,omitempty"`
	Timeout          time.Duration `json:"timeout,omitempty"`
	EvidenceRequired bool          `json:"evidenceRequired"`
	Rejection        *Rejection    `json:"rejection,omitempty"`
}

// OK reports whether the transition was allowed.
func (r Result) OK() bool { return r.Rejection == nil }

// Err returns the rejection as an error, or nil on success.
func (r Result) Err() error {
	if r.Rejection == nil {
		return nil
	}
	return r.Rejection
}

func reject(from, to State, code Code, guard, msg string) Result {
	return Result{
		From: from,
		To:   to,
		Rejection: &Rejection{
			Code:    code,
			Guard:   guard,
			Message: msg,
			From:    from,
			To:      to,
		},
	}
}

// Attempt evaluates moving a resource from current to target.
//
// Checks run in a fixed order: a terminal current state is rejected before
// any edge lookup, and the role check always precedes guards, so a caller
// without the role learns nothing about the guard outcome.
func Attempt(m *Machine, current, target State, tc Context, resourceID string, payload Payload) Result {
	if m.IsTerminal(current) {
		return reject(current, target, CodeAlreadyTerminal, "",
			fmt.Sprintf("%s is a terminal state of %s", current, m.Name))
	}
	edge, ok := m.Edge(current, target)
	if !ok {
		return reject(current, target, CodeNoSuchEdge, "",
			fmt.Sprintf("%s has no transition from %s to %s", m.Name, current, target))
	}
	return evaluate(edge, tc, resourceID, payload)
}

// Available returns the transitions out of current that tc could take right
// now, in declaration order. Only successful results are included.
func Available(m *Machine, current State, tc Context, resourceID string, payload Payload) []Result {
	if m.IsTerminal(current) {
		return nil
	}
	var out []Result
	for _, edge := range m.Outgoing(current) {
		if res := evaluate(edge, tc, resourceID, payload); res.OK() {
			out = append(out, res)
		}
	}
	return out
}

func evaluate(edge *Transition, tc Context, resourceID string, payload Payload) Result {
	if !edge.Allows(tc.Role) {
		return reject(edge.From, edge.To, CodeRoleDenied, "",
			fmt.Sprintf("role %q may not %s", tc.Role, describe(edge)))
	}
	for _, g := range edge.Guards {
		if !runGuard(g, payload, tc) {
			msg := g.Message
			if msg == "" {
				msg = fmt.Sprintf("guard %s rejected the transition", g.Name)
			}
			return reject(edge.From, edge.To, CodeGuardFailure, g.Name, msg)
		}
	}

	scope := renderScope{
		payload:    payload,
		tc:         tc,
		resourceID: resourceID,
		from:       edge.From,
		to:         edge.To,
		label:      edge.Label,
	}
	res := Result{
		From:             edge.From,
		To:               edge.To,
		Label:            edge.Label,
		Timeout:          edge.Timeout,
		EvidenceRequired: edge.EvidenceRequired,
	}
	for _, e := range edge.Events {
		res.Events = append(res.Events, Event{Type: e.Type, Data: scope.renderMap(e.Data)})
	}
	for _, a := range edge.Actions {
		res.Actions = append(res.Actions, Action{Type: a.Type, Params: scope.renderMap(a.Params), Timeout: edge.Timeout})
	}
	return res
}

// runGuard fails closed: a missing or panicking check rejects.
func runGuard(g Guard, payload Payload, tc Context) (ok bool) {
	if g.Check == nil {
		return false
	}
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return g.Check(payload, tc)
}

func describe(t *Transition) string {
	if t.Label != "" {
		return fmt.Sprintf("%s (%s -> %s)", t.Label, t.From, t.To)
	}
	return fmt.Sprintf("move %s -> %s", t.From, t.To)
}
