package engine

import (
	"context"
	"fmt"

	"github.com/kestrelflow/workflow-engine/pkg/wfcontext"
	"github.com/kestrelflow/workflow-engine/pkg/wftask"
	"github.com/kestrelflow/workflow-engine/pkg/workflow"
)

func (e *Engine) dispatchPerTask(ctx context.Context, wfCtx *wfcontext.Context, step *workflow.Step, rs *runState) error {
	raw, ok := wfCtx.Resolve(step.Source)
	if !ok {
		return &WorkflowFailure{Phase: rs.phase, Reason: fmt.Sprintf("per-task source %q did not resolve to an array", step.Source)}
	}
	tasks, err := wftask.DecodeList(raw)
	if err != nil {
		return &WorkflowFailure{Phase: rs.phase, Reason: fmt.Sprintf("per-task source %q did not resolve to an array", step.Source)}
	}

	ordered, err := wftask.TopoSort(tasks)
	if err != nil {
		return &WorkflowFailure{Phase: rs.phase, Reason: err.Error()}
	}

	for i, task := range ordered {
		child := wfCtx.WithTask(taskToMap(task), i, len(ordered))
		dispatchErr := e.dispatchSteps(ctx, child, step.Steps, rs)
		// Merge happens before the error check: a pause/failure raised
		// mid-task still advances that task's state into the parent.
		wfCtx.MergeTaskResults(child)
		if dispatchErr != nil {
			return dispatchErr
		}
	}
	return nil
}

func taskToMap(t wftask.Definition) map[string]any {
	m := map[string]any{
		"id":          t.ID,
		"title":       t.Title,
		"description": t.Description,
	}
	if len(t.Requirements) > 0 {
		m["requirements"] = toAnySlice(t.Requirements)
	}
	if len(t.Dependencies) > 0 {
		m["dependencies"] = toAnySlice(t.Dependencies)
	}
	if t.EstimatedComplexity != "" {
		m["estimatedComplexity"] = t.EstimatedComplexity
	}
	if len(t.FilePaths) > 0 {
		m["filePaths"] = toAnySlice(t.FilePaths)
	}
	return m
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
