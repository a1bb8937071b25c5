package session

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelflow/workflow-engine/pkg/checkpoint"
)

func TestCreateSessionWritesContextAndAudit(t *testing.T) {
	m := NewManager(t.TempDir(), "workflow")
	id, err := m.CreateSession("workflows/main.yaml")
	require.NoError(t, err)
	assert.Regexp(t, `^wf-\d{4}-\d{2}-\d{2}-[0-9a-f]{8}$`, id)

	entries, err := m.GetAuditEntries(id)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "init", entries[0].Step)
	assert.Equal(t, AuditCompleted, entries[0].Status)
}

func TestAppendAuditEntryRecreatesMissingFile(t *testing.T) {
	m := NewManager(t.TempDir(), "workflow")
	id, err := m.CreateSession("wf.yaml")
	require.NoError(t, err)

	require.NoError(t, m.AppendAuditEntry(id, AuditEntry{Step: "analyze", Status: AuditStarted}))
	entries, err := m.GetAuditEntries(id)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	require.NoError(t, os.Remove(m.auditPath(id)))
	require.NoError(t, m.AppendAuditEntry(id, AuditEntry{Step: "analyze", Status: AuditCompleted}))
	entries, err = m.GetAuditEntries(id)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, AuditCompleted, entries[0].Status)
}

func TestSaveAndLoadCheckpoint(t *testing.T) {
	m := NewManager(t.TempDir(), "workflow")
	id, err := m.CreateSession("wf.yaml")
	require.NoError(t, err)

	err = m.SaveCheckpoint(id, checkpoint.Data{
		CurrentPhase:   "fix-loop",
		Variables:      map[string]any{"x": float64(1)},
		TasksCompleted: []string{"a"},
		TasksPending:   []string{"b"},
	})
	require.NoError(t, err)

	data, err := m.LoadCheckpoint(id)
	require.NoError(t, err)
	require.NotNil(t, data)
	assert.Equal(t, "fix-loop", data.CurrentPhase)
	assert.Contains(t, data.ResumeInstructions, "fix-loop")
	assert.Equal(t, 1, data.Sequence)
}

func TestLoadCheckpointReturnsNilWhenAbsent(t *testing.T) {
	m := NewManager(t.TempDir(), "workflow")
	id, err := m.CreateSession("wf.yaml")
	require.NoError(t, err)

	data, err := m.LoadCheckpoint(id)
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestWriteBlockerSetsPausedStatus(t *testing.T) {
	m := NewManager(t.TempDir(), "workflow")
	id, err := m.CreateSession("wf.yaml")
	require.NoError(t, err)

	require.NoError(t, m.WriteBlocker(id, "Loop exhausted 3 retries."))

	cf, err := m.readContext(id)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, cf.Status)
}

func TestCompleteSessionIsIdempotent(t *testing.T) {
	m := NewManager(t.TempDir(), "workflow")
	id, err := m.CreateSession("wf.yaml")
	require.NoError(t, err)

	res := CompletionResult{Status: "completed", CompletedPhases: []string{"analyze"}}
	require.NoError(t, m.CompleteSession(id, res))
	require.NoError(t, m.CompleteSession(id, res))

	cf, err := m.readContext(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, cf.Status)

	entries, err := m.GetAuditEntries(id)
	require.NoError(t, err)
	completions := 0
	for _, e := range entries {
		if e.Step == "complete" {
			completions++
		}
	}
	assert.Equal(t, 2, completions)
}

func TestGetAuditEntriesEmptyForUnknownSession(t *testing.T) {
	m := NewManager(t.TempDir(), "workflow")
	entries, err := m.GetAuditEntries("does-not-exist")
	require.NoError(t, err)
	assert.Empty(t, entries)
}
