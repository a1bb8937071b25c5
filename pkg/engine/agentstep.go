package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kestrelflow/workflow-engine/pkg/agentquery"
	"github.com/kestrelflow/workflow-engine/pkg/loader"
	"github.com/kestrelflow/workflow-engine/pkg/resolver"
	"github.com/kestrelflow/workflow-engine/pkg/template"
	"github.com/kestrelflow/workflow-engine/pkg/wfcontext"
	"github.com/kestrelflow/workflow-engine/pkg/workflow"
)

// escapesDir reports whether name contains a literal parent-path segment,
// the cheap syntactic check §4.6.2 requires before any filesystem lookup
// is attempted.
func escapesDir(name string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(name), "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

func (e *Engine) dispatchAgent(ctx context.Context, wfCtx *wfcontext.Context, step *workflow.Step, rs *runState) (map[string]any, error) {
	agentName := step.Agent
	if agentName == "" {
		agentName = rs.effective.Agent
	}
	if agentName == "" {
		return nil, &WorkflowFailure{Phase: rs.phase, Reason: fmt.Sprintf("step %q: no agent specified", step.Name)}
	}
	if escapesDir(agentName) {
		return nil, &WorkflowFailure{Phase: rs.phase, Reason: fmt.Sprintf("step %q: agent %q escapes workflow directory", step.Name, agentName)}
	}

	agentRes, err := e.Resolver.Resolve(resolver.KindAgent, agentName)
	if err != nil {
		return nil, &WorkflowFailure{Phase: rs.phase, Reason: err.Error()}
	}
	agentDef, err := loader.LoadAgent(agentRes.Path)
	if err != nil {
		return nil, &WorkflowFailure{Phase: rs.phase, Reason: err.Error()}
	}

	promptName := step.Prompt
	if promptName == "" {
		promptName = agentName
	}
	promptRes, err := e.Resolver.Resolve(resolver.KindPrompt, promptName)
	if err != nil {
		var nf *resolver.NotFoundError
		if errors.As(err, &nf) {
			return nil, &WorkflowFailure{Phase: rs.phase, Reason: fmt.Sprintf("prompt not found: searched %q and %q", nf.ProjectPath, nf.BuiltinPath)}
		}
		return nil, &WorkflowFailure{Phase: rs.phase, Reason: err.Error()}
	}
	promptDef, err := loader.LoadPrompt(promptRes.Path)
	if err != nil {
		return nil, &WorkflowFailure{Phase: rs.phase, Reason: err.Error()}
	}

	model := step.Model
	if model == "" {
		model = agentDef.Model
	}
	if model == "" {
		model = rs.effective.Model
	}

	schema, _ := e.Schemas.Resolve(agentDef.OutputSchema)

	vars := wfCtx.GetTemplateVars()
	if step.Input != "" {
		if v, ok := wfCtx.Resolve(step.Input); ok {
			vars["input"] = v
		}
	}
	rendered, err := template.Render(promptDef.Body, vars)
	if err != nil {
		return nil, &WorkflowFailure{Phase: rs.phase, Reason: err.Error()}
	}

	opts := agentquery.Options{
		Prompt:                          rendered,
		SystemPrompt:                    agentDef.SystemPrompt,
		AllowedTools:                    agentDef.Tools,
		Model:                           model,
		Cwd:                             e.Config.WorkingDirectory,
		PermissionMode:                  rs.effective.PermissionMode,
		SettingSources:                  rs.effective.SettingSources,
		AllowDangerouslySkipPermissions: rs.effective.PermissionMode == "bypassPermissions",
		MCPServers:                      e.Config.MCPServers,
	}
	if schema != nil {
		opts.OutputFormat = &agentquery.OutputFormat{Type: "json_schema", Schema: schema}
	}

	var lastStructured any
	var cost *float64
	for msg, err := range e.QueryFn(ctx, opts) {
		if err != nil {
			return nil, err
		}
		if msg.Kind != agentquery.MessageResult || msg.Result == nil {
			continue
		}
		if msg.Result.IsError {
			return nil, &WorkflowFailure{
				Phase:  rs.phase,
				Reason: fmt.Sprintf("Agent %q failed: %s - %s", step.Name, msg.Result.Subtype, strings.Join(msg.Result.Errors, ", ")),
			}
		}
		if msg.Result.StructuredOutput != nil {
			lastStructured = msg.Result.StructuredOutput
		}
		if msg.Result.Cost != nil {
			cost = msg.Result.Cost
		}
	}

	if step.Output != "" && lastStructured != nil {
		wfCtx.Set(step.Output, lastStructured)
	}
	wfCtx.AddChangedFilesFromResult(lastStructured)

	metadata := map[string]any{"agentSource": agentRes.Path, "promptSource": promptRes.Path}
	if cost != nil {
		metadata["cost"] = *cost
	} else {
		metadata["estimatedPromptTokens"] = estimateTokens(rendered + agentDef.SystemPrompt)
	}
	return metadata, nil
}
