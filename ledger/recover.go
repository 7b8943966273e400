package ledger

import (
	"context"
	"errors"
	"log"

	"clippy/types"
)

// RecoveryReport summarizes what startup recovery did
type RecoveryReport struct {
	// Requeued entries were reset in_flight -> failed_retryable
	Requeued int
	// Confirmed entries were found live on the platform and promoted to
	// succeeded instead of being retried
	Confirmed int
}

// Recover is called once at startup. An entry left in_flight by a previous
// run has unknown outcome: when it carries a post ID the verifier re-checks
// the platform, and a confirmed post is promoted to succeeded. Otherwise the
// entry is conservatively reset to failed_retryable with its attempt count
// preserved, making it eligible for re-dispatch.
func Recover(ctx context.Context, l Ledger, verifier Verifier) (RecoveryReport, error) {
	var report RecoveryReport

	stuck, err := l.ByStatus(ctx, types.StatusInFlight)
	if err != nil {
		return report, err
	}

	for _, e := range stuck {
		if e.PostID != "" && verifier != nil {
			if live, verr := verifier.VerifyPost(ctx, e.Platform, e.PostID); verr == nil && live {
				if _, terr := l.Transition(ctx, e.ClipID, e.Platform, types.StatusInFlight, types.StatusSucceeded, nil); terr == nil {
					log.Printf("✅ Recovery confirmed %s on %s (post %s)", e.ClipID, e.Platform, e.PostID)
					report.Confirmed++
					continue
				}
			}
		}

		_, terr := l.Transition(ctx, e.ClipID, e.Platform, types.StatusInFlight, types.StatusFailedRetryable, nil)
		if terr != nil {
			// Another recovering actor already moved it; nothing to do
			if errors.Is(terr, types.ErrStaleTransition) || errors.Is(terr, types.ErrDuplicateIntent) {
				continue
			}
			return report, terr
		}
		log.Printf("⚠️ Recovery requeued interrupted publish %s on %s (attempt %d)", e.ClipID, e.Platform, e.AttemptCount)
		report.Requeued++
	}

	return report, nil
}
