package engine

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/kestrelflow/workflow-engine/pkg/wfcontext"
	"github.com/kestrelflow/workflow-engine/pkg/workflow"
)

// dispatchParallel runs every child step concurrently against its own
// cloned context, then merges each clone back into the parent once all
// children have finished. All children are launched before any merge
// happens, satisfying the "no serialized dispatch" requirement.
func (e *Engine) dispatchParallel(ctx context.Context, wfCtx *wfcontext.Context, step *workflow.Step, rs *runState) error {
	children := make([]*wfcontext.Context, len(step.Steps))
	for i := range step.Steps {
		children[i] = wfCtx.Clone()
	}

	e.Metrics.IncParallelInFlight(step.Name)
	defer e.Metrics.DecParallelInFlight(step.Name)

	g, gctx := errgroup.WithContext(ctx)
	for i, child := range step.Steps {
		i, child := i, child
		childCtx := children[i]
		g.Go(func() error {
			return e.dispatchStep(gctx, childCtx, child, rs)
		})
	}
	groupErr := g.Wait()

	// Every child's writes rejoin the parent regardless of outcome, so a
	// failed sibling never discards a successful one's output.
	for _, child := range children {
		wfCtx.MergeTaskResults(child)
	}

	return groupErr
}
