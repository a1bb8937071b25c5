package engine

import (
	"context"
	"errors"
	"iter"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrelflow/workflow-engine/pkg/agentquery"
	"github.com/kestrelflow/workflow-engine/pkg/config"
	"github.com/kestrelflow/workflow-engine/pkg/handler"
	"github.com/kestrelflow/workflow-engine/pkg/metrics"
	"github.com/kestrelflow/workflow-engine/pkg/resolver"
	"github.com/kestrelflow/workflow-engine/pkg/schema"
	"github.com/kestrelflow/workflow-engine/pkg/session"
)

// testFiles is keyed by path relative to the builtin root, e.g.
// "workflows/review.yaml".
type testFiles map[string]string

// newTestEngine materializes files under a fresh builtin root and returns
// an Engine wired against it, ready for Run/Resume.
func newTestEngine(t *testing.T, files testFiles, queryFn agentquery.QueryFunction) *Engine {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		full := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}

	workDir := t.TempDir()
	cfg := &config.EngineConfig{}
	cfg.SetDefaults()
	cfg.WorkingDirectory = workDir

	if queryFn == nil {
		queryFn = noAgentSteps
	}

	return &Engine{
		Config:   cfg,
		Resolver: resolver.New(workDir, root, cfg.Scope),
		Handlers: handler.NewRegistry(),
		Schemas:  schema.NewRegistry(),
		Sessions: session.NewManager(workDir, cfg.Scope),
		Metrics:  metrics.New(),
		QueryFn:  queryFn,
	}
}

// noAgentSteps fails any agent dispatch outright; use it for tests whose
// workflow has no agent steps at all.
func noAgentSteps(ctx context.Context, opts agentquery.Options) iter.Seq2[agentquery.Message, error] {
	return func(yield func(agentquery.Message, error) bool) {
		yield(agentquery.Message{}, errors.New("no agent transport configured for this test"))
	}
}

// fixedResultQuery returns a QueryFunction that yields one successful result
// message carrying structuredOutput, ignoring opts entirely.
func fixedResultQuery(structuredOutput any) agentquery.QueryFunction {
	return func(ctx context.Context, opts agentquery.Options) iter.Seq2[agentquery.Message, error] {
		return func(yield func(agentquery.Message, error) bool) {
			yield(agentquery.Message{
				Kind: agentquery.MessageResult,
				Result: &agentquery.ResultPayload{
					Success:          true,
					StructuredOutput: structuredOutput,
				},
			}, nil)
		}
	}
}
