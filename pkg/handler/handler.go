// Package handler implements the code step's pluggable handler registry:
// named in-process asynchronous functions that may mutate the workflow
// Context.
package handler

import (
	"context"
	"fmt"

	"github.com/kestrelflow/workflow-engine/pkg/agentquery"
	"github.com/kestrelflow/workflow-engine/pkg/registry"
	"github.com/kestrelflow/workflow-engine/pkg/wfcontext"
)

// Deps exposes the capabilities a handler may need beyond the Context:
// the injected transport for external calls, and read-only engine
// config values handlers commonly key off of.
type Deps struct {
	QueryFn    agentquery.QueryFunction
	WorkingDir string
	MCPServers map[string]any
}

// Func is the shape of a registered handler. It may mutate ctx; input is
// the dot-resolved value named by the step's "input" field, nil if
// unset or unresolved.
type Func func(ctx context.Context, wfCtx *wfcontext.Context, input any, deps Deps) error

// Registry maps handler names to Funcs. Register is last-write-wins.
type Registry struct {
	base *registry.BaseRegistry[Func]
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{base: registry.NewBaseRegistry[Func]()}
}

// NewDefaultRegistry creates a registry pre-populated with the engine's
// shipped handlers: create-issues and save-checkpoint.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("create-issues", CreateIssues)
	r.Register("save-checkpoint", SaveCheckpoint)
	return r
}

// Register adds or replaces the handler registered under name.
func (r *Registry) Register(name string, fn Func) error {
	return r.base.Register(name, fn)
}

// Get looks up a handler, failing with a message naming it when absent.
func (r *Registry) Get(name string) (Func, error) {
	fn, ok := r.base.Get(name)
	if !ok {
		return nil, fmt.Errorf("handler: no handler registered named %q", name)
	}
	return fn, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool { return r.base.Has(name) }

// List returns the registered handler names, with no duplicates.
func (r *Registry) List() []string {
	return r.base.Keys()
}
