package schema

// TaskList is the structured-output shape for a planning agent that
// proposes a per-task source array.
type TaskList struct {
	Tasks []TaskListEntry `json:"tasks" jsonschema:"required"`
}

type TaskListEntry struct {
	ID                  string   `json:"id,omitempty"`
	Title               string   `json:"title" jsonschema:"required"`
	Description         string   `json:"description,omitempty"`
	Requirements        []string `json:"requirements,omitempty"`
	Dependencies        []string `json:"dependencies,omitempty"`
	EstimatedComplexity string   `json:"estimatedComplexity,omitempty"`
	FilePaths           []string `json:"filePaths,omitempty"`
}

// ReviewFinding is the structured-output shape for a review/check agent.
type ReviewFinding struct {
	HasActionableIssues bool             `json:"hasActionableIssues"`
	Findings            []ReviewFindingItem `json:"findings,omitempty"`
}

type ReviewFindingItem struct {
	Severity    string `json:"severity,omitempty"`
	File        string `json:"file,omitempty"`
	Description string `json:"description" jsonschema:"required"`
}

// NewBuiltinRegistry returns a Registry pre-populated with the engine's
// shipped schemas.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()
	r.RegisterType("tasks.json", "TaskList", TaskList{})
	r.RegisterType("review.json", "ReviewFinding", ReviewFinding{})
	return r
}
