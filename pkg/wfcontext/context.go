// Package wfcontext implements the engine's per-run variable store: the
// Context type, its dot-path resolver, its boolean condition evaluator,
// per-task child isolation with selective merge, and checkpoint
// serialization.
package wfcontext

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/kestrelflow/workflow-engine/pkg/expr"
)

// reservedSegments are path segments that must never be traversed, to
// avoid prototype-pollution-equivalent clobbering of Go map internals via
// attacker-controlled paths.
var reservedSegments = map[string]bool{
	"__proto__":   true,
	"prototype":   true,
	"constructor": true,
}

// Context is the mutable variable store and run metadata for a single
// workflow execution (or a per-task child of one).
type Context struct {
	mu              sync.RWMutex
	variables       map[string]any
	completedPhases []string
	currentTaskID   string
	changedFiles    []string
	currentPhase    string
}

// New creates an empty root Context.
func New() *Context {
	return &Context{variables: make(map[string]any)}
}

// Set inserts or replaces a top-level variable.
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variables[key] = value
}

// Get performs a single-segment lookup.
func (c *Context) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.variables[key]
	return v, ok
}

// Resolve performs a dot-notated lookup across objects and array-like
// indices. Traversal returns (nil, false) as soon as an intermediate value
// is nil, missing, or a primitive, and refuses reserved segments.
func (c *Context) Resolve(path string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return resolvePath(c.variables, path)
}

func resolvePath(vars map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	segments := strings.Split(path, ".")
	var cur any = vars
	for _, seg := range segments {
		if reservedSegments[seg] {
			return nil, false
		}
		if cur == nil {
			return nil, false
		}
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, false
			}
			cur = v[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

type ctxResolver struct{ c *Context }

func (r ctxResolver) Resolve(path string) (any, bool) { return r.c.Resolve(path) }

// Evaluate parses and evaluates a boolean condition expression against
// the current variables.
func (c *Context) Evaluate(expression string) (bool, error) {
	return expr.Evaluate(expression, ctxResolver{c})
}

// ValidateCondition checks expression's syntax without needing a Context.
func ValidateCondition(expression string) []string {
	return expr.ValidateCondition(expression)
}

// WithTask creates a per-task child context: a deep clone of the parent's
// variables, completed phases, and changed files, plus task/taskIndex/
// taskCount bindings and currentTaskId.
func (c *Context) WithTask(task any, index, count int) *Context {
	c.mu.RLock()
	clonedVars := deepClone(c.variables).(map[string]any)
	clonedPhases := append([]string(nil), c.completedPhases...)
	clonedFiles := append([]string(nil), c.changedFiles...)
	phase := c.currentPhase
	c.mu.RUnlock()

	clonedVars["task"] = deepClone(task)
	clonedVars["taskIndex"] = float64(index)
	clonedVars["taskCount"] = float64(count)

	taskID := ""
	if m, ok := task.(map[string]any); ok {
		if id, ok := m["id"].(string); ok {
			taskID = id
		}
	}

	return &Context{
		variables:       clonedVars,
		completedPhases: clonedPhases,
		changedFiles:    clonedFiles,
		currentTaskID:   taskID,
		currentPhase:    phase,
	}
}

// Clone creates an independent deep copy of c with no task binding —
// used by the parallel step, where each child needs its own mutable view
// before a selective merge, but none of per-task's task/taskIndex/
// taskCount bindings apply.
func (c *Context) Clone() *Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &Context{
		variables:       deepClone(c.variables).(map[string]any),
		completedPhases: append([]string(nil), c.completedPhases...),
		changedFiles:    append([]string(nil), c.changedFiles...),
		currentTaskID:   c.currentTaskID,
		currentPhase:    c.currentPhase,
	}
}

// overwriteMergeKeys names variables that track monotonic per-task
// bookkeeping state (which task has moved from pending to completed)
// rather than a step's new output. A per-task handler updates these in
// place on its child context, so the child's value must always replace
// the parent's on merge — the default "new keys only" rule would discard
// the update, since the parent already seeded these keys before the
// per-task step ever ran.
var overwriteMergeKeys = map[string]bool{
	"tasksCompleted": true,
	"tasksPending":   true,
}

// MergeTaskResults selectively merges a finished child context back into
// c: new child keys are added (existing parent keys are never
// overwritten, except overwriteMergeKeys), "task" is excluded, and
// changedFiles/completedPhases union-merge preserving order.
func (c *Context) MergeTaskResults(child *Context) {
	child.mu.RLock()
	childVars := child.variables
	childPhases := child.completedPhases
	childFiles := child.changedFiles
	child.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range childVars {
		if k == "task" {
			continue
		}
		if overwriteMergeKeys[k] {
			c.variables[k] = v
			continue
		}
		if _, exists := c.variables[k]; !exists {
			c.variables[k] = v
		}
	}
	c.completedPhases = unionPreserveOrder(c.completedPhases, childPhases)
	c.changedFiles = unionPreserveOrder(c.changedFiles, childFiles)
}

func unionPreserveOrder(base, extra []string) []string {
	seen := make(map[string]bool, len(base))
	out := append([]string(nil), base...)
	for _, v := range base {
		seen[v] = true
	}
	for _, v := range extra {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// AddChangedFile records a relative path, de-duplicated, preserving
// insertion order.
func (c *Context) AddChangedFile(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.changedFiles {
		if p == path {
			return
		}
	}
	c.changedFiles = append(c.changedFiles, path)
}

// SetChangedFiles replaces the changed-files set, de-duplicating while
// preserving the first occurrence's position.
func (c *Context) SetChangedFiles(paths []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changedFiles = dedupeStrings(paths)
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// AddChangedFilesFromResult extracts result.filesChanged[*].path strings
// and records each, ignoring non-string path values.
func (c *Context) AddChangedFilesFromResult(result any) {
	m, ok := result.(map[string]any)
	if !ok {
		return
	}
	list, ok := m["filesChanged"].([]any)
	if !ok {
		return
	}
	for _, entry := range list {
		em, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if p, ok := em["path"].(string); ok {
			c.AddChangedFile(p)
		}
	}
}

// GetChangedFiles returns a copy of the de-duplicated changed-files set.
func (c *Context) GetChangedFiles() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.changedFiles...)
}

// CompletedPhases returns a copy of the completed-phases sequence.
func (c *Context) CompletedPhases() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.completedPhases...)
}

// MarkPhaseCompleted appends phase to completedPhases, de-duplicated on
// insert.
func (c *Context) MarkPhaseCompleted(phase string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.completedPhases {
		if p == phase {
			return
		}
	}
	c.completedPhases = append(c.completedPhases, phase)
}

// SetCurrentPhase records the phase currently executing, for checkpoints.
func (c *Context) SetCurrentPhase(phase string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentPhase = phase
}

// CurrentPhase returns the phase currently executing, if any.
func (c *Context) CurrentPhase() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentPhase
}

// CurrentTaskID returns the task identity bound in this context, if this
// is a per-task child.
func (c *Context) CurrentTaskID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentTaskID
}

// GetTemplateVars returns a copy of the variables plus a synthesized
// changedFiles sequence, suitable for template rendering. The internal
// store is never leaked to callers.
func (c *Context) GetTemplateVars() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := deepClone(c.variables).(map[string]any)
	files := make([]any, len(c.changedFiles))
	for i, f := range c.changedFiles {
		files[i] = f
	}
	out["changedFiles"] = files
	return out
}

// GetResult returns a copy of the value stored under key, or nil if
// absent.
func (c *Context) GetResult(key string) any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.variables[key]
	if !ok {
		return nil
	}
	return deepClone(v)
}

// SessionContext carries the standard session-scoped variables seeded
// into every root Context.
type SessionContext struct {
	Spec          string
	WorktreePath  string
	SessionID     string
	BranchName    string
}

// SetSessionContext seeds the standard session variables used by prompt
// templates. Empty fields are omitted.
func (c *Context) SetSessionContext(s SessionContext) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.Spec != "" {
		c.variables["spec"] = s.Spec
	}
	if s.WorktreePath != "" {
		c.variables["worktreePath"] = s.WorktreePath
	}
	if s.SessionID != "" {
		c.variables["sessionId"] = s.SessionID
	}
	if s.BranchName != "" {
		c.variables["branchName"] = s.BranchName
	}
}

// Checkpoint is the JSON-serializable snapshot of a Context.
type Checkpoint struct {
	Variables       map[string]any `json:"variables"`
	CompletedPhases []string       `json:"completedPhases"`
	CurrentTaskID   string         `json:"currentTaskId,omitempty"`
	ChangedFiles    []string       `json:"changedFiles"`
	CurrentPhase    string         `json:"currentPhase,omitempty"`
}

// ToCheckpoint produces a JSON-value snapshot of the context's state.
func (c *Context) ToCheckpoint() Checkpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Checkpoint{
		Variables:       deepClone(c.variables).(map[string]any),
		CompletedPhases: append([]string(nil), c.completedPhases...),
		CurrentTaskID:   c.currentTaskID,
		ChangedFiles:    append([]string(nil), c.changedFiles...),
		CurrentPhase:    c.currentPhase,
	}
}

// FromCheckpoint restores a Context from a previously captured snapshot.
// Round-trip through ToCheckpoint/FromCheckpoint preserves deeply nested
// structures.
func FromCheckpoint(cp Checkpoint) *Context {
	vars := cp.Variables
	if vars == nil {
		vars = make(map[string]any)
	}
	return &Context{
		variables:       deepClone(vars).(map[string]any),
		completedPhases: append([]string(nil), cp.CompletedPhases...),
		currentTaskID:   cp.CurrentTaskID,
		changedFiles:    append([]string(nil), cp.ChangedFiles...),
		currentPhase:    cp.CurrentPhase,
	}
}

// FromCheckpointJSON decodes a raw JSON checkpoint payload (as read from
// checkpoint.json) into a Context.
func FromCheckpointJSON(data []byte) (*Context, error) {
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("wfcontext: decode checkpoint: %w", err)
	}
	return FromCheckpoint(cp), nil
}

// deepClone performs a structural copy of JSON-like values (maps, slices,
// and scalars) so that callers can never mutate context-owned state
// through a returned value.
func deepClone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepClone(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepClone(val)
		}
		return out
	default:
		return v
	}
}
