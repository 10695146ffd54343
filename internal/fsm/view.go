package fsm

// MachineView is the JSON description of a machine served to clients.
type MachineView struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	States      []State          `json:"states"`
	Initial     State            `json:"initial"`
	Terminal    []State          `json:"terminal"`
	Transitions []TransitionView `json:"transitions"`
}

// TransitionView describes an edge without its guard implementations.
type TransitionView struct {
	From             State        `json:"from"`
	To               State        `json:"to"`
	Label            string       `json:"label"`
	AllowedRoles     []Role       `json:"allowedRoles"`
	Guards           []string     `json:"guards,omitempty"`
	Events           []EventSpec  `json:"events,omitempty"`
	Actions          []ActionSpec `json:"actions,omitempty"`
	EvidenceRequired bool         `json:"evidenceRequired"`
	Timeout          string       `json:"timeout,omitempty"`
}

// Describe returns the client-facing view of m.
func Describe(m *Machine) MachineView {
	v := MachineView{
		Name:        m.Name,
		Description: m.Description,
		States:      m.States,
		Initial:     m.Initial,
		Terminal:    m.Terminal,
		Transitions: make([]TransitionView, 0, len(m.Transitions)),
	}
	for _, t := range m.Transitions {
		tv := TransitionView{
			From:             t.From,
			To:               t.To,
			Label:            t.Label,
			AllowedRoles:     t.AllowedRoles,
			Events:           t.Events,
			Actions:          t.Actions,
			EvidenceRequired: t.EvidenceRequired,
		}
		for _, g := range t.Guards {
			tv.Guards = append(tv.Guards, g.Name)
		}
		if t.Timeout > 0 {
			tv.Timeout = t.Timeout.String()
		}
		v.Transitions = append(v.Transitions, tv)
	}
	return v
}
