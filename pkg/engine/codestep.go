package engine

import (
	"context"

	"github.com/kestrelflow/workflow-engine/pkg/handler"
	"github.com/kestrelflow/workflow-engine/pkg/wfcontext"
	"github.com/kestrelflow/workflow-engine/pkg/workflow"
)

func (e *Engine) dispatchCode(ctx context.Context, wfCtx *wfcontext.Context, step *workflow.Step) error {
	fn, err := e.Handlers.Get(step.Handler)
	if err != nil {
		return err
	}

	var input any
	if step.Input != "" {
		input, _ = wfCtx.Resolve(step.Input)
	}

	deps := handler.Deps{
		QueryFn:    e.QueryFn,
		WorkingDir: e.Config.WorkingDirectory,
		MCPServers: e.Config.MCPServers,
	}
	return fn(ctx, wfCtx, input, deps)
}
