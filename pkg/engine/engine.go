// Package engine is the workflow interpreter: it loads a workflow
// definition, walks its phase tree, and dispatches each step by kind
// (agent, code, per-task, parallel, loop), threading a single Context
// through the run and recording every step to the session's audit trail.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/kestrelflow/workflow-engine/pkg/agentquery"
	"github.com/kestrelflow/workflow-engine/pkg/checkpoint"
	"github.com/kestrelflow/workflow-engine/pkg/config"
	"github.com/kestrelflow/workflow-engine/pkg/handler"
	"github.com/kestrelflow/workflow-engine/pkg/loader"
	"github.com/kestrelflow/workflow-engine/pkg/metrics"
	"github.com/kestrelflow/workflow-engine/pkg/resolver"
	"github.com/kestrelflow/workflow-engine/pkg/schema"
	"github.com/kestrelflow/workflow-engine/pkg/session"
	"github.com/kestrelflow/workflow-engine/pkg/wfcontext"
	"github.com/kestrelflow/workflow-engine/pkg/workflow"
)

// Engine is the interpreter. A single Engine is reusable across many
// Run/Resume calls; per-run state lives in runState, never on Engine
// itself, so concurrent runs never mutate engine-owned defaults.
type Engine struct {
	Config    *config.EngineConfig
	Resolver  *resolver.Resolver
	Handlers  *handler.Registry
	Schemas   *schema.Registry
	Sessions  *session.Manager
	QueryFn   agentquery.QueryFunction
	Metrics   *metrics.Metrics
	Tracer    trace.Tracer

	// OnPhaseComplete is invoked after each top-level phase completes
	// successfully, with (phaseName, context). An error propagates as a
	// run-level failure, unwrapped.
	OnPhaseComplete func(phase string, ctx *wfcontext.Context) error

	// OnAuditEntry mirrors every audit entry the engine writes, for
	// callers that want a live feed without polling audit.jsonl.
	OnAuditEntry func(session.AuditEntry)
}

// runState carries per-run values that must never leak back onto Engine:
// the resolved defaults chain and which top-level phase is executing
// (for pause/failure attribution and checkpoint metadata).
type runState struct {
	sessionID string
	phase     string
	effective *workflow.Defaults
}

type loadedWorkflow struct {
	def  *workflow.Definition
	path string
}

func (e *Engine) resolveAndLoad(workflowRef string) (*loadedWorkflow, error) {
	res, err := e.Resolver.Resolve(resolver.KindWorkflow, workflowRef)
	if err != nil {
		return nil, err
	}
	def, err := loader.LoadWorkflow(res.Path)
	if err != nil {
		return nil, err
	}
	return &loadedWorkflow{def: def, path: res.Path}, nil
}

// mergeDefaults produces workflow defaults layered over engine defaults,
// without mutating either input — the engine must remain reusable across
// runs with different workflow-level overrides.
func mergeDefaults(workflowDefaults, engineDefaults *workflow.Defaults) *workflow.Defaults {
	out := &workflow.Defaults{}
	if engineDefaults != nil {
		*out = *engineDefaults
	}
	if workflowDefaults != nil {
		if workflowDefaults.Model != "" {
			out.Model = workflowDefaults.Model
		}
		if workflowDefaults.Agent != "" {
			out.Agent = workflowDefaults.Agent
		}
		if workflowDefaults.PermissionMode != "" {
			out.PermissionMode = workflowDefaults.PermissionMode
		}
		if len(workflowDefaults.SettingSources) > 0 {
			out.SettingSources = workflowDefaults.SettingSources
		}
	}
	return out
}

func findPhaseIndex(phases []*workflow.Step, name string) (int, bool) {
	for i, p := range phases {
		if p.Name == name {
			return i, true
		}
	}
	return 0, false
}

// Run loads workflowRef, seeds a fresh root Context, and executes every
// top-level phase in order.
func (e *Engine) Run(ctx context.Context, workflowRef string) (*Result, error) {
	lw, err := e.resolveAndLoad(workflowRef)
	if err != nil {
		return nil, err
	}

	sessionID, err := e.Sessions.CreateSession(lw.path)
	if err != nil {
		return nil, err
	}

	wfCtx := wfcontext.New()
	wfCtx.SetSessionContext(wfcontext.SessionContext{Spec: workflowRef, SessionID: sessionID})

	rs := &runState{sessionID: sessionID, effective: mergeDefaults(lw.def.Defaults, e.Config.Defaults)}
	return e.runPhases(ctx, wfCtx, lw.def, rs, 0)
}

// Resume reconstructs a Context from a checkpoint and resumes execution
// at fromPhaseName.
func (e *Engine) Resume(ctx context.Context, workflowRef string, cp checkpoint.Data, fromPhaseName string) (*Result, error) {
	lw, err := e.resolveAndLoad(workflowRef)
	if err != nil {
		return nil, err
	}

	idx, ok := findPhaseIndex(lw.def.Phases, fromPhaseName)
	if !ok {
		return nil, fmt.Errorf("Phase %q not found", fromPhaseName)
	}

	wfCtx := wfcontext.FromCheckpoint(wfcontext.Checkpoint{
		Variables:       cp.Variables,
		CompletedPhases: cp.CompletedPhases,
		ChangedFiles:    cp.ChangedFiles,
		CurrentPhase:    cp.CurrentPhase,
	})

	rs := &runState{sessionID: cp.SessionID, effective: mergeDefaults(lw.def.Defaults, e.Config.Defaults)}
	return e.runPhases(ctx, wfCtx, lw.def, rs, idx)
}

func (e *Engine) runPhases(ctx context.Context, wfCtx *wfcontext.Context, def *workflow.Definition, rs *runState, startIdx int) (*Result, error) {
	for i := startIdx; i < len(def.Phases); i++ {
		phase := def.Phases[i]
		rs.phase = phase.Name
		wfCtx.SetCurrentPhase(phase.Name)

		if e.Config.DryRun && phase.Name == "execute" {
			continue
		}

		phaseStart := time.Now()
		err := e.dispatchStep(ctx, wfCtx, phase, rs)
		e.Metrics.RecordPhase(phase.Name, time.Since(phaseStart))

		if err != nil {
			return e.finishOnError(wfCtx, rs, err)
		}

		wfCtx.MarkPhaseCompleted(phase.Name)

		if e.OnPhaseComplete != nil {
			if cbErr := e.OnPhaseComplete(phase.Name, wfCtx); cbErr != nil {
				return nil, cbErr
			}
		}
	}

	result := &Result{
		Status:          StatusCompleted,
		Outputs:         wfCtx.GetTemplateVars(),
		CompletedPhases: wfCtx.CompletedPhases(),
		ChangedFiles:    wfCtx.GetChangedFiles(),
	}
	_ = e.Sessions.CompleteSession(rs.sessionID, session.CompletionResult{
		Status:          "completed",
		CompletedPhases: result.CompletedPhases,
	})
	return result, nil
}

func (e *Engine) finishOnError(wfCtx *wfcontext.Context, rs *runState, err error) (*Result, error) {
	var paused *WorkflowPaused
	if errors.As(err, &paused) {
		_ = e.Sessions.WriteBlocker(rs.sessionID, paused.BlockerDetails)
		return &Result{
			Status:          StatusPaused,
			PausedAtPhase:   rs.phase,
			BlockerDetails:  paused.BlockerDetails,
			CompletedPhases: wfCtx.CompletedPhases(),
			Outputs:         wfCtx.GetTemplateVars(),
			ChangedFiles:    wfCtx.GetChangedFiles(),
		}, nil
	}

	var failure *WorkflowFailure
	if errors.As(err, &failure) {
		result := &Result{
			Status:          StatusFailed,
			Error:           failure.Reason,
			CompletedPhases: wfCtx.CompletedPhases(),
			Outputs:         wfCtx.GetTemplateVars(),
			ChangedFiles:    wfCtx.GetChangedFiles(),
		}
		_ = e.Sessions.CompleteSession(rs.sessionID, session.CompletionResult{
			Status:          "failed",
			CompletedPhases: result.CompletedPhases,
		})
		return result, nil
	}

	// Unexpected infrastructure fault: already recorded as a failed audit
	// entry by dispatchStep. Re-raise unchanged per §7.
	_ = e.Sessions.CompleteSession(rs.sessionID, session.CompletionResult{
		Status:          "failed",
		CompletedPhases: wfCtx.CompletedPhases(),
	})
	return nil, err
}
