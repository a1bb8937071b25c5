// Package checkpoint defines the on-disk shape of checkpoint.json and
// mints checkpoint identities. The Session Manager (pkg/session) owns
// reading and writing the file; this package is the data type both sides
// agree on, grounded on the teacher's checkpoint state/builder idiom.
package checkpoint

import (
	"time"

	"github.com/google/uuid"
)

// Data is the full contents of a session's checkpoint.json.
type Data struct {
	CheckpointID        string         `json:"checkpointId"`
	Sequence            int            `json:"sequence"`
	SessionID           string         `json:"sessionId"`
	CurrentPhase        string         `json:"currentPhase"`
	Variables           map[string]any `json:"variables"`
	TasksCompleted      []string       `json:"tasksCompleted"`
	TasksPending        []string       `json:"tasksPending"`
	CompletedPhases     []string       `json:"completedPhases,omitempty"`
	ChangedFiles        []string       `json:"changedFiles,omitempty"`
	LastAction          string         `json:"lastAction"`
	ResumeInstructions  string         `json:"resumeInstructions"`
	SavedAt             time.Time      `json:"savedAt"`
}

// NewID mints a checkpoint identity, the way the teacher's checkpoint
// package mints a fresh ID per save.
func NewID() string {
	return "ck-" + uuid.NewString()
}

// ResumeInstructions builds the fixed-format resume message naming the
// phase at which the checkpoint was taken.
func ResumeInstructions(phase string) string {
	return "Resume this workflow from phase \"" + phase + "\" using the saved checkpoint."
}

// With applies builder-style overrides, returning d for chaining — the
// teacher's checkpoint state package favors this shape over a long
// constructor argument list.
func (d *Data) WithTasks(completed, pending []string) *Data {
	d.TasksCompleted = completed
	d.TasksPending = pending
	return d
}

func (d *Data) WithCompletedPhases(phases []string) *Data {
	d.CompletedPhases = phases
	return d
}

func (d *Data) WithChangedFiles(files []string) *Data {
	d.ChangedFiles = files
	return d
}
