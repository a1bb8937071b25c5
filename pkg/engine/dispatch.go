package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kestrelflow/workflow-engine/pkg/session"
	"github.com/kestrelflow/workflow-engine/pkg/wfcontext"
	"github.com/kestrelflow/workflow-engine/pkg/workflow"
)

// dispatchStep runs the skip-check, audit-start, variant dispatch,
// audit-end sequence for one step, per §4.6.1.
func (e *Engine) dispatchStep(ctx context.Context, wfCtx *wfcontext.Context, step *workflow.Step, rs *runState) error {
	if !step.IsEnabled() {
		e.audit(rs.sessionID, step.Name, session.AuditSkipped, map[string]any{"reason": "disabled in workflow definition"})
		return nil
	}
	if e.Config.ShouldSkipStep(step.Name) {
		e.audit(rs.sessionID, step.Name, session.AuditSkipped, map[string]any{"reason": "--skip-step=" + step.Name})
		return nil
	}
	if e.Config.SkipChecks && step.Kind == workflow.StepAgent &&
		(isCheckStep(step) || (step.Agent == "" && strings.Contains(strings.ToLower(rs.effective.Agent), "reviewer"))) {
		e.audit(rs.sessionID, step.Name, session.AuditSkipped, map[string]any{"reason": "--skip-checks"})
		return nil
	}

	e.audit(rs.sessionID, step.Name, session.AuditStarted, nil)
	ctx, span := e.startStepSpan(ctx, step)
	defer span.End()

	start := time.Now()
	metadata, err := e.dispatchByKind(ctx, wfCtx, step, rs)
	e.Metrics.RecordStep(string(step.Kind), outcomeOf(err), time.Since(start))

	if err == nil {
		e.audit(rs.sessionID, step.Name, session.AuditCompleted, metadata)
		return nil
	}

	if isControlFlow(err) {
		return err
	}

	e.audit(rs.sessionID, step.Name, session.AuditFailed, map[string]any{"error": err.Error()})
	return err
}

func outcomeOf(err error) string {
	if err == nil {
		return "success"
	}
	if isControlFlow(err) {
		return "control-flow"
	}
	return "failed"
}

func isControlFlow(err error) bool {
	var paused *WorkflowPaused
	var failure *WorkflowFailure
	return errors.As(err, &paused) || errors.As(err, &failure)
}

// dispatchByKind returns the metadata a step wants attached to its own
// "completed" audit entry (agent steps report their agent/prompt source
// files plus the reported cost or a prompt token estimate, loop steps
// report a warn-exhaustion reason); other kinds return nil.
// Returning this instead of stashing it on shared runState keeps
// parallel children (which share one runState across goroutines)
// race-free.
func (e *Engine) dispatchByKind(ctx context.Context, wfCtx *wfcontext.Context, step *workflow.Step, rs *runState) (map[string]any, error) {
	switch step.Kind {
	case workflow.StepAgent:
		return e.dispatchAgent(ctx, wfCtx, step, rs)
	case workflow.StepCode:
		return nil, e.dispatchCode(ctx, wfCtx, step)
	case workflow.StepPerTask:
		return nil, e.dispatchPerTask(ctx, wfCtx, step, rs)
	case workflow.StepParallel:
		return nil, e.dispatchParallel(ctx, wfCtx, step, rs)
	case workflow.StepLoop:
		return e.dispatchLoop(ctx, wfCtx, step, rs)
	default:
		return nil, fmt.Errorf("engine: step %q: unknown kind %q", step.Name, step.Kind)
	}
}

// dispatchSteps runs a list of sub-steps sequentially against wfCtx,
// stopping at the first error.
func (e *Engine) dispatchSteps(ctx context.Context, wfCtx *wfcontext.Context, steps []*workflow.Step, rs *runState) error {
	for _, s := range steps {
		if err := e.dispatchStep(ctx, wfCtx, s, rs); err != nil {
			return err
		}
	}
	return nil
}

// isCheckStep is the --skip-checks heuristic of §4.6.1: the step name
// contains "review" or "check", or the step's agent name contains
// "reviewer". For a step that names no agent, dispatchStep applies the
// "reviewer" test to the workflow-default agent instead.
func isCheckStep(step *workflow.Step) bool {
	name := strings.ToLower(step.Name)
	if strings.Contains(name, "review") || strings.Contains(name, "check") {
		return true
	}
	return strings.Contains(strings.ToLower(step.Agent), "reviewer")
}

func (e *Engine) audit(sessionID, step string, status session.AuditStatus, metadata map[string]any) {
	entry := session.AuditEntry{Step: step, Status: status, Timestamp: time.Now(), Metadata: metadata}
	_ = e.Sessions.AppendAuditEntry(sessionID, entry)
	if e.OnAuditEntry != nil {
		e.OnAuditEntry(entry)
	}
}
