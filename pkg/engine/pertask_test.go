package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelflow/workflow-engine/pkg/handler"
	"github.com/kestrelflow/workflow-engine/pkg/wfcontext"
)

func TestDispatchPerTaskRespectsTopologicalOrder(t *testing.T) {
	var order []string

	// task-c depends on task-b depends on task-a; declared out of order.
	tasks := []any{
		map[string]any{"id": "task-c", "dependencies": []any{"task-b"}},
		map[string]any{"id": "task-a"},
		map[string]any{"id": "task-b", "dependencies": []any{"task-a"}},
	}

	// Seed the "tasks" variable ahead of the run via a synthetic first
	// phase, since Run always starts from a fresh Context.
	const seeded = `
name: per-task-seeded
version: 1
phases:
  - name: seed
    type: code
    handler: seed-tasks
  - name: implement
    type: per-task
    source: tasks
    steps:
      - name: run-task
        type: code
        handler: record-task-order
`
	e2 := newTestEngine(t, testFiles{
		"workflows/per-task-seeded.yaml": seeded,
	}, nil)
	require.NoError(t, e2.Handlers.Register("seed-tasks", func(ctx context.Context, wfCtx *wfcontext.Context, input any, deps handler.Deps) error {
		wfCtx.Set("tasks", tasks)
		return nil
	}))
	require.NoError(t, e2.Handlers.Register("record-task-order", func(ctx context.Context, wfCtx *wfcontext.Context, input any, deps handler.Deps) error {
		task, _ := wfCtx.Resolve("task.id")
		order = append(order, task.(string))
		return nil
	}))

	result, err := e2.Run(context.Background(), "per-task-seeded")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, []string{"task-a", "task-b", "task-c"}, order)
}

const perTaskCycleWorkflow = `
name: per-task-cycle
version: 1
phases:
  - name: seed
    type: code
    handler: seed-cyclic-tasks
  - name: implement
    type: per-task
    source: tasks
    steps:
      - name: run-task
        type: code
        handler: noop-task
`

func TestDispatchPerTaskFailsOnDependencyCycle(t *testing.T) {
	e := newTestEngine(t, testFiles{
		"workflows/per-task-cycle.yaml": perTaskCycleWorkflow,
	}, nil)
	require.NoError(t, e.Handlers.Register("seed-cyclic-tasks", func(ctx context.Context, wfCtx *wfcontext.Context, input any, deps handler.Deps) error {
		wfCtx.Set("tasks", []any{
			map[string]any{"id": "a", "dependencies": []any{"b"}},
			map[string]any{"id": "b", "dependencies": []any{"a"}},
		})
		return nil
	}))
	require.NoError(t, e.Handlers.Register("noop-task", func(ctx context.Context, wfCtx *wfcontext.Context, input any, deps handler.Deps) error {
		t.Fatal("no task should dispatch when the dependency graph has a cycle")
		return nil
	}))

	result, err := e.Run(context.Background(), "per-task-cycle")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Status)
	assert.Contains(t, result.Error, "Circular dependency")
}

const perTaskCheckpointWorkflow = `
name: per-task-checkpoint
version: 1
phases:
  - name: analyze
    type: code
    handler: seed-analysis
  - name: create-issues
    type: code
    handler: create-issues
  - name: implement
    type: per-task
    source: analysis.tasks
    steps:
      - name: save-checkpoint
        type: code
        handler: save-checkpoint
`

// TestDispatchPerTaskAdvancesTaskBookkeepingAcrossMerges exercises the
// builtin create-issues/save-checkpoint pair through a real per-task
// dispatch: each task's child context moves its own ID from
// tasksPending to tasksCompleted, and that bookkeeping must be visible
// to every later task's child, not just survive in its own merge.
func TestDispatchPerTaskAdvancesTaskBookkeepingAcrossMerges(t *testing.T) {
	e := newTestEngine(t, testFiles{
		"workflows/per-task-checkpoint.yaml": perTaskCheckpointWorkflow,
	}, nil)
	require.NoError(t, e.Handlers.Register("seed-analysis", func(ctx context.Context, wfCtx *wfcontext.Context, input any, deps handler.Deps) error {
		wfCtx.Set("analysis", map[string]any{
			"tasks": []any{
				map[string]any{"id": "a"},
				map[string]any{"id": "b"},
				map[string]any{"id": "c"},
			},
		})
		return nil
	}))
	require.NoError(t, e.Handlers.Register("create-issues", handler.CreateIssues))
	require.NoError(t, e.Handlers.Register("save-checkpoint", handler.SaveCheckpoint))

	result, err := e.Run(context.Background(), "per-task-checkpoint")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, []any{"a", "b", "c"}, result.Outputs["tasksCompleted"])
	assert.Equal(t, []any{}, result.Outputs["tasksPending"])
}
