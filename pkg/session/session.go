// Package session manages the filesystem-backed lifecycle of a single
// workflow run: session directory creation, the append-only audit log,
// checkpoint and blocker markers, and completion bookkeeping.
package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelflow/workflow-engine/pkg/checkpoint"
)

// Status mirrors context.json's status field.
type Status string

const (
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ContextFile is the shape of context.json.
type ContextFile struct {
	ID              string     `json:"id"`
	Status          Status     `json:"status"`
	CurrentPhase    string     `json:"currentPhase"`
	SpecFile        string     `json:"specFile,omitempty"`
	WorktreePath    string     `json:"worktreePath,omitempty"`
	BranchName      string     `json:"branchName,omitempty"`
	PhasesCompleted []string   `json:"phasesCompleted"`
	TasksCompleted  []string   `json:"tasksCompleted,omitempty"`
	TasksPending    []string   `json:"tasksPending,omitempty"`
	StartedAt       time.Time  `json:"startedAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
}

// AuditStatus is one of the audit.jsonl entry statuses.
type AuditStatus string

const (
	AuditStarted   AuditStatus = "started"
	AuditCompleted AuditStatus = "completed"
	AuditFailed    AuditStatus = "failed"
	AuditSkipped   AuditStatus = "skipped"
	AuditPaused    AuditStatus = "paused"
)

// AuditEntry is one line of audit.jsonl.
type AuditEntry struct {
	Step      string         `json:"step"`
	Status    AuditStatus    `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Blocker is the shape of blocker.json.
type Blocker struct {
	SessionID string    `json:"sessionId"`
	Details   string    `json:"details"`
	Timestamp time.Time `json:"timestamp"`
}

// CompletionResult is the minimal view of a run outcome the Manager
// needs to finish a session; the engine's richer result type satisfies
// this implicitly.
type CompletionResult struct {
	Status          string
	CompletedPhases []string
}

// Manager owns one session directory at a time. It is not safe to share
// a Manager across concurrent runs of different sessions; create one per
// run.
type Manager struct {
	basePath string
	scope    string

	mu          sync.Mutex
	sessionID   string
	checkpointN int
}

// NewManager creates a Manager rooted at basePath, using scope as the
// directory-name component ("<basePath>/.<scope>/sessions/<id>/").
func NewManager(basePath, scope string) *Manager {
	return &Manager{basePath: basePath, scope: scope}
}

// NewSessionID mints a session identifier in the "wf-YYYY-MM-DD-<hex>"
// format.
func NewSessionID(now time.Time) string {
	return fmt.Sprintf("wf-%s-%s", now.Format("2006-01-02"), uuid.NewString()[:8])
}

func (m *Manager) sessionDir(id string) string {
	return filepath.Join(m.basePath, "."+m.scope, "sessions", id)
}

func (m *Manager) contextPath(id string) string    { return filepath.Join(m.sessionDir(id), "context.json") }
func (m *Manager) auditPath(id string) string       { return filepath.Join(m.sessionDir(id), "audit.jsonl") }
func (m *Manager) checkpointPath(id string) string  { return filepath.Join(m.sessionDir(id), "checkpoint.json") }
func (m *Manager) blockerPath(id string) string      { return filepath.Join(m.sessionDir(id), "blocker.json") }

// CreateSession mints a new session ID, creates its directory, writes the
// initial context.json, and appends the init audit entry.
func (m *Manager) CreateSession(specFile string) (string, error) {
	m.mu.Lock()
	id := NewSessionID(time.Now())
	m.sessionID = id
	m.mu.Unlock()

	if err := os.MkdirAll(m.sessionDir(id), 0o755); err != nil {
		return "", fmt.Errorf("session: create directory: %w", err)
	}

	now := time.Now()
	cf := ContextFile{
		ID:              id,
		Status:          StatusRunning,
		CurrentPhase:    "init",
		SpecFile:        specFile,
		PhasesCompleted: []string{},
		StartedAt:       now,
		UpdatedAt:       now,
	}
	if err := writeJSONAtomic(m.contextPath(id), cf); err != nil {
		return "", err
	}

	if err := m.AppendAuditEntry(id, AuditEntry{
		Step:      "init",
		Status:    AuditCompleted,
		Timestamp: now,
		Metadata:  map[string]any{"session_id": id, "spec_file": specFile},
	}); err != nil {
		return "", err
	}

	return id, nil
}

// AppendAuditEntry appends one JSON line to audit.jsonl, recreating the
// file if it is absent. A silent no-op when sessionID is empty (no
// session created yet).
func (m *Manager) AppendAuditEntry(sessionID string, entry AuditEntry) error {
	if sessionID == "" {
		return nil
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	f, err := os.OpenFile(m.auditPath(sessionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("session: append audit entry: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("session: marshal audit entry: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("session: write audit entry: %w", err)
	}
	return nil
}

// SaveCheckpoint writes checkpoint.json with a freshly minted
// checkpointId and fixed resumeInstructions, then updates context.json
// (status preserved, currentPhase/tasksCompleted/tasksPending/
// phasesCompleted populated). Fails loudly if the session directory no
// longer exists.
func (m *Manager) SaveCheckpoint(sessionID string, data checkpoint.Data) error {
	if _, err := os.Stat(m.sessionDir(sessionID)); err != nil {
		return fmt.Errorf("session: save checkpoint: session directory missing: %w", err)
	}

	m.mu.Lock()
	m.checkpointN++
	seq := m.checkpointN
	m.mu.Unlock()

	data.CheckpointID = checkpoint.NewID()
	data.Sequence = seq
	data.SessionID = sessionID
	data.SavedAt = time.Now()
	if data.ResumeInstructions == "" {
		data.ResumeInstructions = checkpoint.ResumeInstructions(data.CurrentPhase)
	}

	if err := writeJSONAtomic(m.checkpointPath(sessionID), data); err != nil {
		return err
	}

	cf, err := m.readContext(sessionID)
	if err != nil {
		return err
	}
	cf.CurrentPhase = data.CurrentPhase
	cf.TasksCompleted = data.TasksCompleted
	cf.TasksPending = data.TasksPending
	cf.PhasesCompleted = data.CompletedPhases
	cf.UpdatedAt = time.Now()
	return writeJSONAtomic(m.contextPath(sessionID), cf)
}

// LoadCheckpoint returns nil when no checkpoint exists; it propagates
// parse errors on a corrupted file rather than masking them.
func (m *Manager) LoadCheckpoint(sessionID string) (*checkpoint.Data, error) {
	raw, err := os.ReadFile(m.checkpointPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: read checkpoint: %w", err)
	}
	var data checkpoint.Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("session: corrupt checkpoint.json: %w", err)
	}
	return &data, nil
}

// WriteBlocker writes blocker.json and sets context.json's status to
// paused.
func (m *Manager) WriteBlocker(sessionID, details string) error {
	b := Blocker{SessionID: sessionID, Details: details, Timestamp: time.Now()}
	if err := writeJSONAtomic(m.blockerPath(sessionID), b); err != nil {
		return err
	}
	cf, err := m.readContext(sessionID)
	if err != nil {
		return err
	}
	cf.Status = StatusPaused
	cf.UpdatedAt = time.Now()
	return writeJSONAtomic(m.contextPath(sessionID), cf)
}

// CompleteSession sets status to completed or failed depending on
// result.Status, writes phasesCompleted, and appends a final completion
// audit entry. Idempotent: repeated calls overwrite context.json
// identically and each appends its own completion audit entry.
func (m *Manager) CompleteSession(sessionID string, result CompletionResult) error {
	cf, err := m.readContext(sessionID)
	if err != nil {
		return err
	}

	status := StatusFailed
	if result.Status == "completed" {
		status = StatusCompleted
	}
	now := time.Now()
	cf.Status = status
	cf.PhasesCompleted = result.CompletedPhases
	cf.UpdatedAt = now
	cf.CompletedAt = &now
	if err := writeJSONAtomic(m.contextPath(sessionID), cf); err != nil {
		return err
	}

	return m.AppendAuditEntry(sessionID, AuditEntry{
		Step:      "complete",
		Status:    AuditStatus(status),
		Timestamp: now,
		Metadata:  map[string]any{"completedPhases": result.CompletedPhases},
	})
}

// GetAuditEntries returns the parsed contents of audit.jsonl; an empty
// slice (never an error) when the session or file doesn't exist.
func (m *Manager) GetAuditEntries(sessionID string) ([]AuditEntry, error) {
	f, err := os.Open(m.auditPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: read audit log: %w", err)
	}
	defer f.Close()

	var entries []AuditEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e AuditEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("session: corrupt audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("session: scan audit log: %w", err)
	}
	return entries, nil
}

func (m *Manager) readContext(sessionID string) (ContextFile, error) {
	raw, err := os.ReadFile(m.contextPath(sessionID))
	if err != nil {
		return ContextFile{}, fmt.Errorf("session: read context.json: %w", err)
	}
	var cf ContextFile
	if err := json.Unmarshal(raw, &cf); err != nil {
		return ContextFile{}, fmt.Errorf("session: corrupt context.json: %w", err)
	}
	return cf, nil
}

// writeJSONAtomic writes v as indented JSON to path via write-then-rename
// so readers never observe a partially written file.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("session: marshal %q: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("session: write %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("session: rename into place %q: %w", path, err)
	}
	return nil
}
