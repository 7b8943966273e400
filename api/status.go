package api

import (
	"fmt"
	"sync"
	"time"

	"clippy/executor"
)

// RunState is the scheduler's coarse activity state
type RunState string

const (
	StateIdle       RunState = "idle"
	StatePlanning   RunState = "planning"
	StatePublishing RunState = "publishing"
	StateError      RunState = "error"
)

// maxLogEntries bounds the in-memory activity log
const maxLogEntries = 50

// LogEntry is one line of the scheduler's activity log
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// StatusTracker aggregates run state for the status endpoint. All methods
// are safe for concurrent use.
type StatusTracker struct {
	mu        sync.RWMutex
	state     RunState
	logs      []LogEntry
	summary   *executor.Summary
	lastRunAt time.Time
	lastErr   error
}

// NewStatusTracker creates an idle tracker
func NewStatusTracker() *StatusTracker {
	return &StatusTracker{state: StateIdle}
}

// AddLog appends a formatted line to the activity log, evicting the oldest
// entry past the cap.
func (t *StatusTracker) AddLog(format string, args ...interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.logs = append(t.logs, LogEntry{
		Timestamp: time.Now().UTC(),
		Message:   fmt.Sprintf(format, args...),
	})
	if len(t.logs) > maxLogEntries {
		t.logs = t.logs[len(t.logs)-maxLogEntries:]
	}
}

// SetState moves the tracker to the given state, clearing any prior error
func (t *StatusTracker) SetState(state RunState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = state
	if state != StateError {
		t.lastErr = nil
	}
}

// SetError records a failed run
func (t *StatusTracker) SetError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = StateError
	t.lastErr = err
	t.lastRunAt = time.Now().UTC()
}

// FinishRun records a completed run's summary and returns to idle
func (t *StatusTracker) FinishRun(summary executor.Summary) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = StateIdle
	t.summary = &summary
	t.lastErr = nil
	t.lastRunAt = time.Now().UTC()
}

// Snapshot returns a consistent view of the tracker for the status endpoint
func (t *StatusTracker) Snapshot() (RunState, []LogEntry, *executor.Summary, time.Time, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	logs := make([]LogEntry, len(t.logs))
	copy(logs, t.logs)

	var summary *executor.Summary
	if t.summary != nil {
		s := *t.summary
		summary = &s
	}
	return t.state, logs, summary, t.lastRunAt, t.lastErr
}
