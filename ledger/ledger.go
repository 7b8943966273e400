// Package ledger is the durable record of every publish intent's lifecycle.
// It is the single source of truth consulted before every state transition:
// duplicate suppression, crash recovery, and quota accounting all read from
// it, and every write goes through a compare-and-set transition.
package ledger

import (
	"context"

	"clippy/types"
)

// Ledger persists one entry per (clip, platform) pair with a monotonic
// version. Implementations must make Create and Transition atomic with
// respect to concurrent callers.
type Ledger interface {
	// Get returns the entry for the pair, if any
	Get(ctx context.Context, clipID, platform string) (types.LedgerEntry, bool, error)

	// Create registers a queued intent. It fails with ErrDuplicateIntent
	// when the pair already holds an in_flight, succeeded, or
	// failed_terminal entry. Re-creating a failed_retryable pair is allowed
	// and preserves its attempt count.
	Create(ctx context.Context, intent types.PublishIntent) (types.LedgerEntry, error)

	// Transition is a compare-and-set: it fails with ErrStaleTransition
	// when the persisted status does not match from. mutate, when non-nil,
	// adjusts the entry (attempt count, post ID, last error) before the
	// write; the status and version fields it sets are overwritten.
	Transition(ctx context.Context, clipID, platform string, from, to types.IntentStatus, mutate func(*types.LedgerEntry)) (types.LedgerEntry, error)

	// ByStatus returns all entries currently in the given status
	ByStatus(ctx context.Context, status types.IntentStatus) ([]types.LedgerEntry, error)

	// ByPlatform returns all entries for the given platform
	ByPlatform(ctx context.Context, platform string) ([]types.LedgerEntry, error)
}

// Verifier re-checks the true outcome of an interrupted publish, typically
// backed by the platform's stats endpoint. Best-effort: an error means
// "unknown".
type Verifier interface {
	VerifyPost(ctx context.Context, platform, postID string) (bool, error)
}
