package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"clippy/types"
)

func queuedIntent(clipID, platform string) types.PublishIntent {
	return types.PublishIntent{
		ClipID:        clipID,
		Platform:      platform,
		ScheduledTime: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Status:        types.StatusQueued,
	}
}

func TestCreateRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, err := m.Create(ctx, queuedIntent("clip-1", "youtube")); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if _, err := m.Create(ctx, queuedIntent("clip-1", "youtube")); !errors.Is(err, types.ErrDuplicateIntent) {
		t.Fatalf("second Create returned %v; want ErrDuplicateIntent", err)
	}

	// Different platform for the same clip is a distinct pair
	if _, err := m.Create(ctx, queuedIntent("clip-1", "tiktok")); err != nil {
		t.Fatalf("Create for second platform: %v", err)
	}
}

func TestCreateAfterRetryableFailurePreservesAttempts(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, err := m.Create(ctx, queuedIntent("clip-1", "youtube")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.Transition(ctx, "clip-1", "youtube", types.StatusQueued, types.StatusInFlight, nil); err != nil {
		t.Fatalf("to in_flight: %v", err)
	}
	failed, err := m.Transition(ctx, "clip-1", "youtube", types.StatusInFlight, types.StatusFailedRetryable, func(e *types.LedgerEntry) {
		e.AttemptCount = 2
		e.LastError = "rate limited"
	})
	if err != nil {
		t.Fatalf("to failed_retryable: %v", err)
	}

	recreated, err := m.Create(ctx, queuedIntent("clip-1", "youtube"))
	if err != nil {
		t.Fatalf("re-Create after retryable failure: %v", err)
	}
	if recreated.Status != types.StatusQueued {
		t.Fatalf("re-created entry status = %s; want queued", recreated.Status)
	}
	if recreated.AttemptCount != 2 {
		t.Fatalf("re-created entry lost attempt count: %d", recreated.AttemptCount)
	}
	if recreated.Version <= failed.Version {
		t.Fatalf("version did not advance: %d <= %d", recreated.Version, failed.Version)
	}
}

func TestCreateRejectsResolvedPairs(t *testing.T) {
	ctx := context.Background()

	for _, status := range []types.IntentStatus{types.StatusInFlight, types.StatusSucceeded, types.StatusFailedTerminal} {
		t.Run(string(status), func(t *testing.T) {
			m := NewMemory()
			if _, err := m.Create(ctx, queuedIntent("clip-1", "youtube")); err != nil {
				t.Fatalf("Create: %v", err)
			}
			from := types.StatusQueued
			if status != types.StatusInFlight {
				if _, err := m.Transition(ctx, "clip-1", "youtube", from, types.StatusInFlight, nil); err != nil {
					t.Fatalf("to in_flight: %v", err)
				}
				from = types.StatusInFlight
			}
			if _, err := m.Transition(ctx, "clip-1", "youtube", from, status, nil); err != nil {
				t.Fatalf("to %s: %v", status, err)
			}

			if _, err := m.Create(ctx, queuedIntent("clip-1", "youtube")); !errors.Is(err, types.ErrDuplicateIntent) {
				t.Fatalf("Create over %s returned %v; want ErrDuplicateIntent", status, err)
			}
		})
	}
}

func TestTransitionCompareAndSet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if _, err := m.Create(ctx, queuedIntent("clip-1", "youtube")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := m.Transition(ctx, "clip-1", "youtube", types.StatusQueued, types.StatusInFlight, nil)
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if got.Status != types.StatusInFlight || got.Version != 2 {
		t.Fatalf("entry after transition = %s v%d; want in_flight v2", got.Status, got.Version)
	}

	// Same CAS again must fail: the pair is already in flight
	if _, err := m.Transition(ctx, "clip-1", "youtube", types.StatusQueued, types.StatusInFlight, nil); !errors.Is(err, types.ErrDuplicateIntent) {
		t.Fatalf("stale claim returned %v; want ErrDuplicateIntent", err)
	}

	// Unknown pair
	if _, err := m.Transition(ctx, "clip-9", "youtube", types.StatusQueued, types.StatusInFlight, nil); !errors.Is(err, types.ErrStaleTransition) {
		t.Fatalf("unknown pair returned %v; want ErrStaleTransition", err)
	}
}

func TestConcurrentClaimsExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if _, err := m.Create(ctx, queuedIntent("clip-1", "youtube")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	const workers = 32
	var wg sync.WaitGroup
	wins := make(chan struct{}, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Transition(ctx, "clip-1", "youtube", types.StatusQueued, types.StatusInFlight, nil); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for range wins {
		won++
	}
	if won != 1 {
		t.Fatalf("%d workers claimed the same intent; want exactly 1", won)
	}
}

func TestByStatusAndByPlatform(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	for _, pair := range []struct{ clip, platform string }{
		{"clip-1", "youtube"},
		{"clip-1", "tiktok"},
		{"clip-2", "youtube"},
	} {
		if _, err := m.Create(ctx, queuedIntent(pair.clip, pair.platform)); err != nil {
			t.Fatalf("Create %s/%s: %v", pair.clip, pair.platform, err)
		}
	}
	if _, err := m.Transition(ctx, "clip-1", "youtube", types.StatusQueued, types.StatusInFlight, nil); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	queued, err := m.ByStatus(ctx, types.StatusQueued)
	if err != nil {
		t.Fatalf("ByStatus: %v", err)
	}
	if len(queued) != 2 {
		t.Fatalf("ByStatus(queued) = %d entries; want 2", len(queued))
	}

	yt, err := m.ByPlatform(ctx, "youtube")
	if err != nil {
		t.Fatalf("ByPlatform: %v", err)
	}
	if len(yt) != 2 {
		t.Fatalf("ByPlatform(youtube) = %d entries; want 2", len(yt))
	}
}
