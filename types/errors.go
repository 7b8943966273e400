package types

import (
	"errors"
	"fmt"
)

// ErrDuplicateIntent is returned when a (clip, platform) pair already holds
// an in_flight or succeeded entry in the ledger. It is a concurrency guard,
// not an operator-visible failure.
var ErrDuplicateIntent = errors.New("duplicate publish intent")

// ErrStaleTransition is returned by a compare-and-set ledger transition when
// the persisted status no longer matches the expected one.
var ErrStaleTransition = errors.New("stale ledger transition")

// InvalidCandidateError rejects a malformed candidate at ingestion.
// Never retried.
type InvalidCandidateError struct {
	ClipID string
	Reason string
}

func (e *InvalidCandidateError) Error() string {
	return fmt.Sprintf("invalid candidate %s: %s", e.ClipID, e.Reason)
}

// IsInvalidCandidate reports whether err is an InvalidCandidateError
func IsInvalidCandidate(err error) bool {
	var ie *InvalidCandidateError
	return errors.As(err, &ie)
}
