package engine

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscapesDir(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"analyzer", false},
		{"sub/analyzer", false},
		{"../secrets", true},
		{"a/../../b", true},
		{"..", true},
		{"", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, escapesDir(tc.name), tc.name)
	}
}

const traversalWorkflow = `
name: traversal
version: 1
phases:
  - name: analyze
    agent: "../../etc/passwd"
`

func TestDispatchAgentRejectsPathTraversalBeforeFilesystemLookup(t *testing.T) {
	e := newTestEngine(t, testFiles{
		"workflows/traversal.yaml": traversalWorkflow,
	}, nil)

	result, err := e.Run(t.Context(), "traversal")
	if err != nil {
		t.Fatalf("Run returned an unexpected infrastructure error: %v", err)
	}
	if result.Status != StatusFailed {
		t.Fatalf("want failed status, got %v", result.Status)
	}
	assert.Contains(t, result.Error, "escapes workflow directory")
}

const missingPromptWorkflow = `
name: missing-prompt
version: 1
phases:
  - name: analyze
    agent: analyzer
`

func TestDispatchAgentReportsBothSearchedPromptPaths(t *testing.T) {
	e := newTestEngine(t, testFiles{
		"workflows/missing-prompt.yaml": missingPromptWorkflow,
		"agents/analyzer.md":            analyzerAgent,
	}, nil)

	result, err := e.Run(t.Context(), "missing-prompt")
	if err != nil {
		t.Fatalf("Run returned an unexpected infrastructure error: %v", err)
	}
	if result.Status != StatusFailed {
		t.Fatalf("want failed status, got %v", result.Status)
	}
	assert.Contains(t, result.Error, "prompt not found")
	assert.Contains(t, result.Error, filepath.Join(e.Resolver.ProjectRoot, "."+e.Resolver.Scope, "prompts", "analyzer.md"))
	assert.Contains(t, result.Error, filepath.Join(e.Resolver.BuiltinRoot, "prompts", "analyzer.md"))
}
