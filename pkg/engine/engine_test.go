package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelflow/workflow-engine/pkg/checkpoint"
	"github.com/kestrelflow/workflow-engine/pkg/handler"
	"github.com/kestrelflow/workflow-engine/pkg/session"
	"github.com/kestrelflow/workflow-engine/pkg/wfcontext"
)

const singleAgentWorkflow = `
name: single-agent
version: 1
phases:
  - name: analyze
    agent: analyzer
    output: analysis
`

const analyzerAgent = `---
name: analyzer
description: analyzes things
---
You are an analyzer.
`

const analyzerPrompt = `---
name: analyzer
---
Analyze: {{input}}
`

func TestRunSingleAgentHappyPath(t *testing.T) {
	e := newTestEngine(t, testFiles{
		"workflows/single-agent.yaml": singleAgentWorkflow,
		"agents/analyzer.md":          analyzerAgent,
		"prompts/analyzer.md":         analyzerPrompt,
	}, fixedResultQuery(map[string]any{"verdict": "ok"}))

	result, err := e.Run(context.Background(), "single-agent")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, []string{"analyze"}, result.CompletedPhases)
	assert.Equal(t, map[string]any{"verdict": "ok"}, result.Outputs["analysis"])
}

const escalatingLoopWorkflow = `
name: escalating-loop
version: 1
phases:
  - name: review-loop
    type: loop
    condition: "review.hasActionableIssues"
    maxRetries: 2
    onExhausted: escalate
    steps:
      - name: review
        type: code
        handler: mark-actionable
`

// alwaysActionable always leaves review.hasActionableIssues true, so the
// loop never converges and must exhaust its retries.
func alwaysActionable(ctx context.Context, wfCtx *wfcontext.Context, input any, deps handler.Deps) error {
	wfCtx.Set("review", map[string]any{"hasActionableIssues": true})
	return nil
}

func TestRunEscalatingLoopPausesWhenExhausted(t *testing.T) {
	e := newTestEngine(t, testFiles{
		"workflows/escalating-loop.yaml": escalatingLoopWorkflow,
	}, nil)
	require.NoError(t, e.Handlers.Register("mark-actionable", alwaysActionable))

	result, err := e.Run(context.Background(), "escalating-loop")
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, result.Status)
	assert.Equal(t, "review-loop", result.PausedAtPhase)
	assert.Contains(t, result.BlockerDetails, "exhausted")
}

const warnLoopWorkflow = `
name: warn-loop
version: 1
phases:
  - name: review-loop
    type: loop
    condition: "review.hasActionableIssues"
    maxRetries: 1
    onExhausted: warn
    steps:
      - name: review
        type: code
        handler: mark-actionable
`

func TestRunLoopWarnsAndCompletesWhenExhausted(t *testing.T) {
	e := newTestEngine(t, testFiles{
		"workflows/warn-loop.yaml": warnLoopWorkflow,
	}, nil)
	require.NoError(t, e.Handlers.Register("mark-actionable", alwaysActionable))

	// The loop step must produce exactly one terminal audit entry: a
	// "warn" exhaustion rides as metadata on dispatchStep's single
	// "completed" entry rather than adding an entry of its own.
	var terminal []session.AuditEntry
	e.OnAuditEntry = func(entry session.AuditEntry) {
		if entry.Step == "review-loop" && entry.Status != session.AuditStarted {
			terminal = append(terminal, entry)
		}
	}

	result, err := e.Run(context.Background(), "warn-loop")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, []string{"review-loop"}, result.CompletedPhases)

	require.Len(t, terminal, 1)
	assert.Equal(t, session.AuditCompleted, terminal[0].Status)
	assert.Contains(t, terminal[0].Metadata["warning"], "exhausted")
}

const twoPhaseWorkflow = `
name: two-phase
version: 1
phases:
  - name: first
    type: code
    handler: note-first
  - name: second
    type: code
    handler: note-second
`

func TestResumeFromCheckpointSkipsCompletedPhases(t *testing.T) {
	var ranSecond bool
	e := newTestEngine(t, testFiles{
		"workflows/two-phase.yaml": twoPhaseWorkflow,
	}, nil)
	require.NoError(t, e.Handlers.Register("note-first", func(ctx context.Context, wfCtx *wfcontext.Context, input any, deps handler.Deps) error {
		t.Fatal("phase \"first\" must not re-run on resume")
		return nil
	}))
	require.NoError(t, e.Handlers.Register("note-second", func(ctx context.Context, wfCtx *wfcontext.Context, input any, deps handler.Deps) error {
		ranSecond = true
		return nil
	}))

	cp := checkpoint.Data{
		SessionID:       "wf-test-resume",
		CurrentPhase:    "second",
		Variables:       map[string]any{"carried": "over"},
		CompletedPhases: []string{"first"},
	}

	result, err := e.Resume(context.Background(), "two-phase", cp, "second")
	require.NoError(t, err)
	assert.True(t, ranSecond)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, []string{"first", "second"}, result.CompletedPhases)
	assert.Equal(t, "over", result.Outputs["carried"])
}

func TestResumeUnknownPhaseFails(t *testing.T) {
	e := newTestEngine(t, testFiles{
		"workflows/two-phase.yaml": twoPhaseWorkflow,
	}, nil)

	_, err := e.Resume(context.Background(), "two-phase", checkpoint.Data{}, "nonexistent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonexistent")
}
