package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelflow/workflow-engine/pkg/handler"
	"github.com/kestrelflow/workflow-engine/pkg/wfcontext"
)

const parallelWorkflow = `
name: parallel-fanout
version: 1
phases:
  - name: fanout
    type: parallel
    steps:
      - name: branch-a
        type: code
        handler: write-a
      - name: branch-b
        type: code
        handler: write-b
      - name: branch-c
        type: code
        handler: fail-c
`

// writeHandler returns a handler that sets key=val on its own Context and
// blocks on start until every other branch has also started, so the test
// proves all children begin before any one of them returns.
func writeHandler(key, val string, start *sync.WaitGroup) handler.Func {
	return func(ctx context.Context, wfCtx *wfcontext.Context, input any, deps handler.Deps) error {
		start.Done()
		start.Wait()
		wfCtx.Set(key, val)
		return nil
	}
}

func TestDispatchParallelStartsAllChildrenBeforeAnyFinishes(t *testing.T) {
	var start sync.WaitGroup
	start.Add(2)

	e := newTestEngine(t, testFiles{
		"workflows/parallel-ok.yaml": `
name: parallel-ok
version: 1
phases:
  - name: fanout
    type: parallel
    steps:
      - name: branch-a
        type: code
        handler: write-a
      - name: branch-b
        type: code
        handler: write-b
`,
	}, nil)
	require.NoError(t, e.Handlers.Register("write-a", writeHandler("a", "done", &start)))
	require.NoError(t, e.Handlers.Register("write-b", writeHandler("b", "done", &start)))

	result, err := e.Run(context.Background(), "parallel-ok")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, "done", result.Outputs["a"])
	assert.Equal(t, "done", result.Outputs["b"])
}

func TestDispatchParallelMergesAllChildrenEvenWhenOneFails(t *testing.T) {
	e := newTestEngine(t, testFiles{
		"workflows/parallel-fanout.yaml": parallelWorkflow,
	}, nil)
	require.NoError(t, e.Handlers.Register("write-a", func(ctx context.Context, wfCtx *wfcontext.Context, input any, deps handler.Deps) error {
		wfCtx.Set("a", "done")
		return nil
	}))
	require.NoError(t, e.Handlers.Register("write-b", func(ctx context.Context, wfCtx *wfcontext.Context, input any, deps handler.Deps) error {
		wfCtx.Set("b", "done")
		return nil
	}))
	require.NoError(t, e.Handlers.Register("fail-c", func(ctx context.Context, wfCtx *wfcontext.Context, input any, deps handler.Deps) error {
		return &WorkflowFailure{Phase: "fanout", Reason: "branch-c blew up"}
	}))

	result, err := e.Run(context.Background(), "parallel-fanout")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Status)
	assert.Contains(t, result.Error, "branch-c blew up")
	// a and b's writes survive even though c's failure won the race.
	assert.Equal(t, "done", result.Outputs["a"])
	assert.Equal(t, "done", result.Outputs["b"])
}
