package evidence

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/invopop/jsonschema"
)

var schemaTypes = map[string]any{
	"pack":     &Pack{},
	"seal":     &Seal{},
	"manifest": &Manifest{},
}

// SchemaKinds lists the documents Schema can describe.
func SchemaKinds() []string {
	kinds := make([]string, 0, len(schemaTypes))
	for k := range schemaTypes {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Schema returns the JSON Schema of a wire document: "pack", "seal" or "manifest".
func Schema(kind string) ([]byte, error) {
	v, ok := schemaTypes[kind]
	if !ok {
		return nil, fmt.Errorf("unknown schema kind %q", kind)
	}
	reflector := jsonschema.Reflector{
		ExpandedStruct: true,
	}
	s := reflector.Reflect(v)
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return b, nil
}
