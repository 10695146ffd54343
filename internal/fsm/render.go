package fsm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

type renderScope struct {
	payload    Payload
	tc         Context
	resourceID string
	from, to   State
	label      string
}

func (s renderScope) renderMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = s.render(v)
	}
	return out
}

// render substitutes {{...}} placeholders. Unknown names render empty.
func (s renderScope) render(tmpl string) string {
	return placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		return s.lookup(name)
	})
}

func (s renderScope) lookup(name string) string {
	switch name {
	case "resourceId":
		return s.resourceID
	case "from":
		return string(s.from)
	case "to":
		return string(s.to)
	case "label":
		return s.label
	case "ctx.actorId":
		return s.tc.ActorID
	case "ctx.role":
		return string(s.tc.Role)
	case "ctx.resourceEntityId":
		return s.tc.ResourceEntityID
	}
	if path, ok := strings.CutPrefix(name, "payload."); ok {
		v, _ := Lookup(s.payload, path)
		return Stringify(v)
	}
	if path, ok := strings.CutPrefix(name, "ctx.meta."); ok {
		v, _ := Lookup(s.tc.Meta, path)
		return Stringify(v)
	}
	return ""
}

// Lookup resolves a dotted path through nested maps.
func Lookup(root map[string]any, path string) (any, bool) {
	if root == nil || path == "" {
		return nil, false
	}
	var cur any = map[string]any(root)
	for _, part := range strings.Split(path, ".") {
		switch m := cur.(type) {
		case map[string]any:
			v, ok := m[part]
			if !ok {
				return nil, false
			}
			cur = v
		case Payload:
			v, ok := m[part]
			if !ok {
				return nil, false
			}
			cur = v
		case map[string]string:
			v, ok := m[part]
			if !ok {
				return nil, false
			}
			cur = v
		default:
			return nil, false
		}
	}
	return cur, true
}

// Stringify renders a payload value for a template.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}
