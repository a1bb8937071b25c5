package engine

// Status is the terminal outcome of a Run or Resume call.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusPaused    Status = "paused"
	StatusFailed    Status = "failed"
)

// Result is the outer outcome of a workflow run, mirroring §4.6's
// WorkflowResult shape.
type Result struct {
	Status          Status          `json:"status"`
	Outputs         map[string]any  `json:"outputs"`
	CompletedPhases []string        `json:"completedPhases"`
	ChangedFiles    []string        `json:"changedFiles,omitempty"`
	Error           string          `json:"error,omitempty"`
	PausedAtPhase   string          `json:"pausedAtPhase,omitempty"`
	BlockerDetails  string          `json:"blockerDetails,omitempty"`
}
