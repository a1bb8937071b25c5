// Package resolver maps a symbolic workflow/agent/prompt name to a file
// path, probing a project overlay before the builtin plugin root.
package resolver

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Kind identifies which resource directory/extension pair to probe.
type Kind string

const (
	KindWorkflow Kind = "workflow"
	KindAgent    Kind = "agent"
	KindPrompt   Kind = "prompt"
)

var (
	kindDir = map[Kind]string{
		KindWorkflow: "workflows",
		KindAgent:    "agents",
		KindPrompt:   "prompts",
	}
	kindExt = map[Kind]string{
		KindWorkflow: ".yaml",
		KindAgent:    ".md",
		KindPrompt:   ".md",
	}
)

// Source records which resolution tier produced a path.
type Source string

const (
	SourceProject Source = "project"
	SourceBuiltin Source = "builtin"
)

// Result is the outcome of a successful resolution.
type Result struct {
	Path   string
	Source Source
}

// NotFoundError is raised when neither tier contains the requested name;
// its message lists both searched paths verbatim.
type NotFoundError struct {
	Kind         Kind
	Name         string
	ProjectPath  string
	BuiltinPath  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found: searched %q and %q", e.Kind, e.Name, e.ProjectPath, e.BuiltinPath)
}

// Resolver probes a project overlay root and a builtin plugin root, in
// that order, for a named resource.
type Resolver struct {
	ProjectRoot string
	BuiltinRoot string
	Scope       string // overlay directory name under ProjectRoot, e.g. "workflow"
}

// New creates a Resolver. scope names the project-overlay directory
// without its leading dot (e.g. "workflow", probed as ".workflow"),
// consistent with the session directory's
// "<basePath>/.<scope>/..." layout.
func New(projectRoot, builtinRoot, scope string) *Resolver {
	return &Resolver{ProjectRoot: projectRoot, BuiltinRoot: builtinRoot, Scope: scope}
}

func withExt(name string, kind Kind) string {
	ext := kindExt[kind]
	if strings.HasSuffix(name, ext) {
		return name
	}
	return name + ext
}

// Resolve looks up name of the given kind, returning the winning path and
// which tier produced it.
func (r *Resolver) Resolve(kind Kind, name string) (Result, error) {
	fileName := withExt(name, kind)
	dir := kindDir[kind]

	projectPath := filepath.Join(r.ProjectRoot, "."+r.Scope, dir, fileName)
	if fileExists(projectPath) {
		return Result{Path: projectPath, Source: SourceProject}, nil
	}

	builtinPath := filepath.Join(r.BuiltinRoot, dir, fileName)
	if fileExists(builtinPath) {
		return Result{Path: builtinPath, Source: SourceBuiltin}, nil
	}

	return Result{}, &NotFoundError{Kind: kind, Name: name, ProjectPath: projectPath, BuiltinPath: builtinPath}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
