package engine

import (
	"context"
	"fmt"

	"github.com/kestrelflow/workflow-engine/pkg/wfcontext"
	"github.com/kestrelflow/workflow-engine/pkg/workflow"
)

// dispatchLoop runs step.Steps at least once, then re-evaluates
// step.Condition before each further iteration, up to step.MaxRetries
// iterations total. The returned metadata, if any, is attached to the
// loop step's own "completed" audit entry by dispatchStep.
func (e *Engine) dispatchLoop(ctx context.Context, wfCtx *wfcontext.Context, step *workflow.Step, rs *runState) (map[string]any, error) {
	for i := uint(0); i < step.MaxRetries; i++ {
		if i > 0 {
			shouldContinue, err := wfCtx.Evaluate(step.Condition)
			if err != nil {
				return nil, &WorkflowFailure{Phase: rs.phase, Reason: err.Error()}
			}
			if !shouldContinue {
				e.Metrics.RecordLoopIteration(step.Name, "satisfied")
				return nil, nil
			}
		}

		if err := e.dispatchSteps(ctx, wfCtx, step.Steps, rs); err != nil {
			return nil, err
		}
		e.Metrics.RecordLoopIteration(step.Name, "retry")
	}

	stillTrue, err := wfCtx.Evaluate(step.Condition)
	if err != nil {
		return nil, &WorkflowFailure{Phase: rs.phase, Reason: err.Error()}
	}
	if !stillTrue {
		e.Metrics.RecordLoopIteration(step.Name, "satisfied")
		return nil, nil
	}

	e.Metrics.RecordLoopIteration(step.Name, "exhausted")
	reason := fmt.Sprintf("Loop exhausted %d retries. Condition %q still true.", step.MaxRetries, step.Condition)

	switch step.OnExhausted {
	case workflow.OnExhaustedEscalate:
		return nil, &WorkflowPaused{PausedAtPhase: rs.phase, BlockerDetails: reason}
	case workflow.OnExhaustedFail:
		return nil, &WorkflowFailure{Phase: rs.phase, Reason: reason}
	case workflow.OnExhaustedWarn:
		return map[string]any{"warning": reason}, nil
	default:
		return nil, &WorkflowFailure{Phase: rs.phase, Reason: fmt.Sprintf("step %q: invalid onExhausted %q", step.Name, step.OnExhausted)}
	}
}
