package fsm

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
)

// Built-in guard kinds.
const (
	GuardPayloadPresent  = "payload_present"
	GuardPayloadEquals   = "payload_equals"
	GuardPayloadIn       = "payload_in"
	GuardPayloadNumberGT = "payload_number_gt"
	GuardPayloadNumberGE = "payload_number_gte"
	GuardPayloadNumberLT = "payload_number_lt"
	GuardPayloadNumberLE = "payload_number_lte"
	GuardMetaPresent     = "meta_present"
	GuardActorDiffers    = "actor_differs"
)

// GuardSpec is the declarative form of a guard, as written in machine
// configuration files.
type GuardSpec struct {
	Kind    string `yaml:"kind" json:"kind" validate:"required"`
	Name    string `yaml:"name,omitempty" json:"name,omitempty"`
	Message string `yaml:"message,omitempty" json:"message,omitempty"`
	Field   string `yaml:"field,omitempty" json:"field,omitempty"`
	Value   any    `yaml:"value,omitempty" json:"value,omitempty"`
	Values  []any  `yaml:"values,omitempty" json:"values,omitempty"`
}

// GuardFactory builds a guard from its spec.
type GuardFactory func(spec GuardSpec) (Guard, error)

// GuardRegistry resolves guard specs into guards. Besides the built-in kinds
// it holds factories and ready-made guards registered by the application.
type GuardRegistry struct {
	mu        sync.RWMutex
	factories map[string]GuardFactory
	named     map[string]Guard
}

// NewGuardRegistry returns a registry preloaded with the built-in kinds.
func NewGuardRegistry() *GuardRegistry {
	r := &GuardRegistry{
		factories: make(map[string]GuardFactory),
		named:     make(map[string]Guard),
	}
	r.factories[GuardPayloadPresent] = payloadPresent
	r.factories[GuardPayloadEquals] = payloadEquals
	r.factories[GuardPayloadIn] = payloadIn
	r.factories[GuardPayloadNumberGT] = numberCompare(">", func(a, b float64) bool { return a > b })
	r.factories[GuardPayloadNumberGE] = numberCompare(">=", func(a, b float64) bool { return a >= b })
	r.factories[GuardPayloadNumberLT] = numberCompare("<", func(a, b float64) bool { return a < b })
	r.factories[GuardPayloadNumberLE] = numberCompare("<=", func(a, b float64) bool { return a <= b })
	r.factories[GuardMetaPresent] = metaPresent
	r.factories[GuardActorDiffers] = actorDiffers
	return r
}

// RegisterFactory adds a guard kind.
func (r *GuardRegistry) RegisterFactory(kind string, f GuardFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// Register adds a ready-made guard referenced from configuration by its name
// used as the kind.
func (r *GuardRegistry) Register(g Guard) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.named[g.Name] = g
}

// Kinds lists every kind the registry can build.
func (r *GuardRegistry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories)+len(r.named))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	for k := range r.named {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Build resolves spec into a guard. Name and Message in the spec override the
// defaults of the kind.
func (r *GuardRegistry) Build(spec GuardSpec) (Guard, error) {
	r.mu.RLock()
	f, isFactory := r.factories[spec.Kind]
	named, isNamed := r.named[spec.Kind]
	r.mu.RUnlock()

	var g Guard
	switch {
	case isFactory:
		built, err := f(spec)
		if err != nil {
			return Guard{}, fmt.Errorf("guard %s: %w", spec.Kind, err)
		}
		g = built
	case isNamed:
		g = named
	default:
		return Guard{}, fmt.Errorf("unknown guard kind %q", spec.Kind)
	}

	if spec.Name != "" {
		g.Name = spec.Name
	}
	if spec.Message != "" {
		g.Message = spec.Message
	}
	return g, nil
}

func requireField(spec GuardSpec) error {
	if spec.Field == "" {
		return fmt.Errorf("field is required")
	}
	return nil
}

func payloadPresent(spec GuardSpec) (Guard, error) {
	if err := requireField(spec); err != nil {
		return Guard{}, err
	}
	return Guard{
		Name:    "payload_present:" + spec.Field,
		Message: fmt.Sprintf("payload.%s is required", spec.Field),
		Check: func(p Payload, _ Context) bool {
			v, ok := Lookup(p, spec.Field)
			return ok && present(v)
		},
	}, nil
}

func payloadEquals(spec GuardSpec) (Guard, error) {
	if err := requireField(spec); err != nil {
		return Guard{}, err
	}
	want := spec.Value
	return Guard{
		Name:    "payload_equals:" + spec.Field,
		Message: fmt.Sprintf("payload.%s must equal %s", spec.Field, Stringify(want)),
		Check: func(p Payload, _ Context) bool {
			v, ok := Lookup(p, spec.Field)
			return ok && valuesEqual(v, want)
		},
	}, nil
}

func payloadIn(spec GuardSpec) (Guard, error) {
	if err := requireField(spec); err != nil {
		return Guard{}, err
	}
	if len(spec.Values) == 0 {
		return Guard{}, fmt.Errorf("values are required")
	}
	allowed := spec.Values
	return Guard{
		Name:    "payload_in:" + spec.Field,
		Message: fmt.Sprintf("payload.%s must be one of %s", spec.Field, Stringify(allowed)),
		Check: func(p Payload, _ Context) bool {
			v, ok := Lookup(p, spec.Field)
			if !ok {
				return false
			}
			for _, a := range allowed {
				if valuesEqual(v, a) {
					return true
				}
			}
			return false
		},
	}, nil
}

func numberCompare(op string, cmp func(a, b float64) bool) GuardFactory {
	return func(spec GuardSpec) (Guard, error) {
		if err := requireField(spec); err != nil {
			return Guard{}, err
		}
		bound, ok := toFloat(spec.Value)
		if !ok {
			return Guard{}, fmt.Errorf("value %v is not a number", spec.Value)
		}
		return Guard{
			Name:    fmt.Sprintf("payload_number:%s%s%s", spec.Field, op, Stringify(spec.Value)),
			Message: fmt.Sprintf("payload.%s must be %s %s", spec.Field, op, Stringify(spec.Value)),
			Check: func(p Payload, _ Context) bool {
				v, ok := Lookup(p, spec.Field)
				if !ok {
					return false
				}
				n, ok := toFloat(v)
				return ok && cmp(n, bound)
			},
		}, nil
	}
}

func metaPresent(spec GuardSpec) (Guard, error) {
	if err := requireField(spec); err != nil {
		return Guard{}, err
	}
	return Guard{
		Name:    "meta_present:" + spec.Field,
		Message: fmt.Sprintf("context meta %s is required", spec.Field),
		Check: func(_ Payload, tc Context) bool {
			v, ok := Lookup(tc.Meta, spec.Field)
			return ok && present(v)
		},
	}, nil
}

// actorDiffers enforces four-eyes approval: the payload field names the actor
// who initiated the resource and the current actor must be someone else.
func actorDiffers(spec GuardSpec) (Guard, error) {
	if err := requireField(spec); err != nil {
		return Guard{}, err
	}
	return Guard{
		Name:    "actor_differs:" + spec.Field,
		Message: fmt.Sprintf("actor must differ from payload.%s", spec.Field),
		Check: func(p Payload, tc Context) bool {
			v, ok := Lookup(p, spec.Field)
			if !ok || tc.ActorID == "" {
				return false
			}
			other := Stringify(v)
			return other != "" && other != tc.ActorID
		},
	}, nil
}

func present(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	default:
		return true
	}
}

func valuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return Stringify(a) == Stringify(b)
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
