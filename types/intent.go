package types

import "time"

// IntentStatus is the lifecycle state of a publish intent.
//
// Transitions: queued -> in_flight -> {succeeded | failed_retryable | failed_terminal},
// failed_retryable -> in_flight (retry) or -> queued (re-planned after recovery).
type IntentStatus string

const (
	StatusQueued          IntentStatus = "queued"
	StatusInFlight        IntentStatus = "in_flight"
	StatusSucceeded       IntentStatus = "succeeded"
	StatusFailedRetryable IntentStatus = "failed_retryable"
	StatusFailedTerminal  IntentStatus = "failed_terminal"
)

// Terminal reports whether no further transition is allowed from s
func (s IntentStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailedTerminal
}

// PublishIntent is one planned publication of a clip to a platform.
// Unique per (ClipID, Platform) pair.
type PublishIntent struct {
	ClipID        string       `json:"clip_id"`
	Platform      string       `json:"platform"`
	ScheduledTime time.Time    `json:"scheduled_time"`
	AttemptCount  int          `json:"attempt_count"`
	Status        IntentStatus `json:"status"`
}

// LedgerEntry is the durable record mirroring a PublishIntent. Version is a
// monotonic sequence number bumped on every write; compare-and-set
// transitions use it to detect concurrent writers.
type LedgerEntry struct {
	ClipID        string       `json:"clip_id"`
	Platform      string       `json:"platform"`
	Status        IntentStatus `json:"status"`
	AttemptCount  int          `json:"attempt_count"`
	ScheduledTime time.Time    `json:"scheduled_time"`
	Version       int64        `json:"version"`

	// PostID is set once a platform accepts the upload; recovery uses it to
	// re-verify an interrupted publish
	PostID    string    `json:"post_id,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Intent converts the entry back to its in-memory intent form
func (e LedgerEntry) Intent() PublishIntent {
	return PublishIntent{
		ClipID:        e.ClipID,
		Platform:      e.Platform,
		ScheduledTime: e.ScheduledTime,
		AttemptCount:  e.AttemptCount,
		Status:        e.Status,
	}
}
