package handler

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/kestrelflow/workflow-engine/pkg/agentquery"
	"github.com/kestrelflow/workflow-engine/pkg/wfcontext"
)

// CreateIssues reads ctx.analysis, ensures every task has an ID
// (generating "task-NNN" for empty ones while preserving existing IDs),
// writes analysis.tasks back, and seeds taskIds/tasksCompleted (empty)/
// tasksPending (all IDs). When deps.QueryFn is set it additionally tries
// to create external issues and records a taskId->issueId mapping under
// mcpIssueIds; any error from that call is swallowed — the core
// bookkeeping above is preserved either way.
func CreateIssues(ctx context.Context, wfCtx *wfcontext.Context, _ any, deps Deps) error {
	analysisVal, ok := wfCtx.Get("analysis")
	if !ok {
		return fmt.Errorf("create-issues: ctx.analysis is not set")
	}
	analysis, ok := analysisVal.(map[string]any)
	if !ok {
		return fmt.Errorf("create-issues: ctx.analysis is not an object")
	}
	tasksVal, _ := analysis["tasks"].([]any)

	ids := make([]string, 0, len(tasksVal))
	for i, raw := range tasksVal {
		task, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		id, _ := task["id"].(string)
		if id == "" {
			id = fmt.Sprintf("task-%03d", i+1)
			task["id"] = id
		}
		ids = append(ids, id)
	}

	analysis["tasks"] = tasksVal
	wfCtx.Set("analysis", analysis)
	wfCtx.Set("taskIds", toAnySlice(ids))
	wfCtx.Set("tasksCompleted", []any{})
	wfCtx.Set("tasksPending", toAnySlice(ids))

	if deps.QueryFn == nil {
		return nil
	}

	mapping := make(map[string]any, len(ids))
	for _, id := range ids {
		issueID, err := createExternalIssue(ctx, deps.QueryFn, id)
		if err != nil {
			slog.Warn("create-issues: external issue creation failed, continuing without mapping", "task_id", id, "error", err)
			return nil
		}
		mapping[id] = issueID
	}
	wfCtx.Set("mcpIssueIds", mapping)
	return nil
}

func createExternalIssue(ctx context.Context, queryFn agentquery.QueryFunction, taskID string) (string, error) {
	seq := queryFn(ctx, agentquery.Options{Prompt: fmt.Sprintf("create issue for %s", taskID)})
	var issueID string
	var callErr error
	seqErr := collectResults(seq, func(msg agentquery.Message) {
		if msg.Result == nil {
			return
		}
		if msg.Result.IsError {
			callErr = fmt.Errorf("%s: %v", msg.Result.Subtype, msg.Result.Errors)
			return
		}
		if so, ok := msg.Result.StructuredOutput.(map[string]any); ok {
			if id, ok := so["issueId"].(string); ok {
				issueID = id
			}
		}
	})
	if seqErr != nil {
		return "", seqErr
	}
	if callErr != nil {
		return "", callErr
	}
	return issueID, nil
}

func collectResults(seq iter.Seq2[agentquery.Message, error], visit func(agentquery.Message)) error {
	for msg, err := range seq {
		if err != nil {
			return err
		}
		if msg.Kind == agentquery.MessageResult {
			visit(msg)
		}
	}
	return nil
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}

// SaveCheckpoint moves the context's currentTaskId from tasksPending to
// tasksCompleted, de-duplicated. Outside a per-task child context (no
// currentTaskId bound) it is a no-op.
func SaveCheckpoint(_ context.Context, wfCtx *wfcontext.Context, _ any, _ Deps) error {
	taskID := wfCtx.CurrentTaskID()
	if taskID == "" {
		return nil
	}

	completed := asStringSlice(wfCtx.GetResult("tasksCompleted"))
	pending := asStringSlice(wfCtx.GetResult("tasksPending"))

	found := false
	newPending := make([]string, 0, len(pending))
	for _, id := range pending {
		if id == taskID {
			found = true
			continue
		}
		newPending = append(newPending, id)
	}
	if found {
		already := false
		for _, id := range completed {
			if id == taskID {
				already = true
				break
			}
		}
		if !already {
			completed = append(completed, taskID)
		}
	}

	wfCtx.Set("tasksCompleted", toAnySlice(completed))
	wfCtx.Set("tasksPending", toAnySlice(newPending))
	return nil
}

func asStringSlice(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
