package ledger

import (
	"context"
	"sync"
	"time"

	"clippy/types"
)

// Memory is an in-process Ledger for tests and single-node runs without a
// Redis deployment. Entries survive only as long as the process.
type Memory struct {
	mu      sync.Mutex
	entries map[string]types.LedgerEntry
}

// NewMemory creates an empty in-memory ledger
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]types.LedgerEntry)}
}

func pairKey(clipID, platform string) string {
	return clipID + "|" + platform
}

func (m *Memory) Get(_ context.Context, clipID, platform string) (types.LedgerEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[pairKey(clipID, platform)]
	return e, ok, nil
}

func (m *Memory) Create(_ context.Context, intent types.PublishIntent) (types.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := pairKey(intent.ClipID, intent.Platform)
	entry := types.LedgerEntry{
		ClipID:        intent.ClipID,
		Platform:      intent.Platform,
		Status:        types.StatusQueued,
		ScheduledTime: intent.ScheduledTime,
		Version:       1,
		UpdatedAt:     time.Now().UTC(),
	}

	if prev, ok := m.entries[key]; ok {
		if prev.Status != types.StatusFailedRetryable {
			return prev, types.ErrDuplicateIntent
		}
		// Re-planned after a retryable failure: keep the attempt history
		entry.AttemptCount = prev.AttemptCount
		entry.PostID = prev.PostID
		entry.Version = prev.Version + 1
	}

	m.entries[key] = entry
	return entry, nil
}

func (m *Memory) Transition(_ context.Context, clipID, platform string, from, to types.IntentStatus, mutate func(*types.LedgerEntry)) (types.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := pairKey(clipID, platform)
	cur, ok := m.entries[key]
	if !ok || cur.Status != from {
		if ok && (cur.Status == types.StatusInFlight || cur.Status == types.StatusSucceeded) {
			return cur, types.ErrDuplicateIntent
		}
		return cur, types.ErrStaleTransition
	}

	next := cur
	if mutate != nil {
		mutate(&next)
	}
	next.ClipID = clipID
	next.Platform = platform
	next.Status = to
	next.Version = cur.Version + 1
	next.UpdatedAt = time.Now().UTC()

	m.entries[key] = next
	return next, nil
}

func (m *Memory) ByStatus(_ context.Context, status types.IntentStatus) ([]types.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []types.LedgerEntry
	for _, e := range m.entries {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) ByPlatform(_ context.Context, platform string) ([]types.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []types.LedgerEntry
	for _, e := range m.entries {
		if e.Platform == platform {
			out = append(out, e)
		}
	}
	return out, nil
}
