package engine

// WorkflowPaused is raised by escalating loop exhaustion or a handler
// that requires human intervention. It is caught at the top of Run/Resume
// and turned into a paused WorkflowResult; the session records a
// blocker.
type WorkflowPaused struct {
	PausedAtPhase  string
	BlockerDetails string
}

func (e *WorkflowPaused) Error() string { return e.BlockerDetails }

// WorkflowFailure is raised by fail-mode loop exhaustion or an explicit
// handler failure. It is caught at the top of Run/Resume and turned into
// a failed WorkflowResult.
type WorkflowFailure struct {
	Phase  string
	Reason string
}

func (e *WorkflowFailure) Error() string { return e.Reason }
