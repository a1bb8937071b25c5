// Package schema resolves the engine's built-in structured-output schema
// references ("schemas/<file>#<name>") against Go types reflected into
// JSON Schema via invopop/jsonschema.
package schema

import (
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/kestrelflow/workflow-engine/pkg/registry"
)

// Registry maps a "file#name" key to a reflected JSON schema document.
type Registry struct {
	base *registry.BaseRegistry[*jsonschema.Schema]
}

// NewRegistry creates an empty schema registry.
func NewRegistry() *Registry {
	return &Registry{base: registry.NewBaseRegistry[*jsonschema.Schema]()}
}

// RegisterType reflects v into a JSON schema and registers it under
// "file#name".
func (r *Registry) RegisterType(file, name string, v any) {
	reflector := &jsonschema.Reflector{ExpandedStruct: true, DoNotReference: true}
	s := reflector.Reflect(v)
	r.base.Register(key(file, name), s)
}

func key(file, name string) string { return file + "#" + name }

// Resolve parses a "schemas/<file>#<name>" reference. An unknown name, a
// missing "#" segment, or an empty reference all yield (nil, false)
// rather than an error — per §4.6.2, an unresolved schema simply means no
// schema constraint is applied.
func (r *Registry) Resolve(ref string) (*jsonschema.Schema, bool) {
	if ref == "" {
		return nil, false
	}
	ref = strings.TrimPrefix(ref, "schemas/")
	idx := strings.Index(ref, "#")
	if idx < 0 {
		return nil, false
	}
	file, name := ref[:idx], ref[idx+1:]
	if file == "" || name == "" {
		return nil, false
	}
	return r.base.Get(key(file, name))
}
