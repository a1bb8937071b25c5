package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelflow/workflow-engine/pkg/handler"
	"github.com/kestrelflow/workflow-engine/pkg/wfcontext"
	"github.com/kestrelflow/workflow-engine/pkg/workflow"
)

const skipPriorityWorkflow = `
name: skip-priority
version: 1
phases:
  - name: disabled-step
    type: code
    handler: boom
    enabled: false
  - name: reviewer
    agent: reviewer
  - name: run-it
    type: code
    handler: mark-ran
`

func TestDispatchStepSkipPriorityDisabledBeatsSkipStepNames(t *testing.T) {
	e := newTestEngine(t, testFiles{
		"workflows/skip-priority.yaml": skipPriorityWorkflow,
	}, nil)
	require.NoError(t, e.Handlers.Register("boom", func(ctx context.Context, wfCtx *wfcontext.Context, input any, deps handler.Deps) error {
		t.Fatal("disabled step must never dispatch, even if also named in --skip-step")
		return nil
	}))
	require.NoError(t, e.Handlers.Register("mark-ran", func(ctx context.Context, wfCtx *wfcontext.Context, input any, deps handler.Deps) error {
		wfCtx.Set("ran", true)
		return nil
	}))
	e.Config.SkipStepNames = []string{"disabled-step", "reviewer"}
	e.Config.SkipChecks = true

	result, err := e.Run(context.Background(), "skip-priority")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, true, result.Outputs["ran"])
	// reviewer is an agent step never dispatched: QueryFn would fail loudly
	// if called, and Run still succeeded, so it must have been skipped.
}

func TestIsCheckStepHeuristic(t *testing.T) {
	cases := []struct {
		name, agent string
		isAgent     bool
		want        bool
	}{
		{name: "code-review", agent: "implementer", isAgent: true, want: true},
		{name: "implement", agent: "reviewer-bot", isAgent: true, want: true},
		{name: "sanity-check", agent: "implementer", isAgent: true, want: true},
		{name: "implement", agent: "implementer", isAgent: true, want: false},
	}
	for _, tc := range cases {
		step := &workflow.Step{Name: tc.name, Agent: tc.agent, Kind: workflow.StepAgent}
		assert.Equal(t, tc.want, isCheckStep(step), tc.name)
	}
}
