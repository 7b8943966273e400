package planner

import (
	"context"
	"testing"
	"time"

	"clippy/ledger"
	"clippy/quota"
	"clippy/types"
)

var planDay = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func fixedNow() time.Time {
	return planDay.Add(9 * time.Hour)
}

func candidate(id string, score float64, platforms ...string) types.ClipCandidate {
	return types.ClipCandidate{
		ID:              id,
		SourceVideoID:   "vid-1",
		Title:           "clip " + id,
		StartOffset:     0,
		EndOffset:       30,
		ViralityScore:   score,
		RenderStatus:    types.RenderDone,
		OutputPath:      "/clips/" + id + ".mp4",
		TargetPlatforms: platforms,
	}
}

func newTestPlanner(l ledger.Ledger, quotas map[string]quota.State) *Planner {
	p := New(l, quotas)
	p.Now = fixedNow
	return p
}

func TestBuildQueueOverflowsToNextWindow(t *testing.T) {
	// Window 09:00-11:00 with one post per day: the higher-scored candidate
	// takes today's slot, the other lands at tomorrow's window start.
	l := ledger.NewMemory()
	quotas := map[string]quota.State{
		"youtube": {
			Platform:     "youtube",
			MaxPerWindow: 1,
			Preferred:    []quota.Window{{Start: 540, End: 660}},
		},
	}
	p := newTestPlanner(l, quotas)

	queue, err := p.BuildQueue(context.Background(), []types.ClipCandidate{
		candidate("clip-a", 0.9, "youtube"),
		candidate("clip-b", 0.5, "youtube"),
	}, 0)
	if err != nil {
		t.Fatalf("BuildQueue: %v", err)
	}

	if len(queue) != 2 {
		t.Fatalf("queue has %d intents; want 2", len(queue))
	}
	if queue[0].ClipID != "clip-a" || !queue[0].ScheduledTime.Equal(fixedNow()) {
		t.Fatalf("first intent = %s @ %v; want clip-a @ %v", queue[0].ClipID, queue[0].ScheduledTime, fixedNow())
	}
	wantSecond := planDay.Add(24*time.Hour + 9*time.Hour)
	if queue[1].ClipID != "clip-b" || !queue[1].ScheduledTime.Equal(wantSecond) {
		t.Fatalf("second intent = %s @ %v; want clip-b @ %v", queue[1].ClipID, queue[1].ScheduledTime, wantSecond)
	}
}

func TestBuildQueueNeverRequeuesSettledPairs(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemory()
	quotas := map[string]quota.State{"youtube": {Platform: "youtube"}}

	// clip-done already succeeded on youtube in an earlier run
	if _, err := l.Create(ctx, types.PublishIntent{ClipID: "clip-done", Platform: "youtube", ScheduledTime: fixedNow()}); err != nil {
		t.Fatalf("seed Create: %v", err)
	}
	if _, err := l.Transition(ctx, "clip-done", "youtube", types.StatusQueued, types.StatusInFlight, nil); err != nil {
		t.Fatalf("seed Transition: %v", err)
	}
	if _, err := l.Transition(ctx, "clip-done", "youtube", types.StatusInFlight, types.StatusSucceeded, nil); err != nil {
		t.Fatalf("seed Transition: %v", err)
	}

	p := newTestPlanner(l, quotas)
	queue, err := p.BuildQueue(ctx, []types.ClipCandidate{
		candidate("clip-done", 0.9, "youtube"),
		candidate("clip-new", 0.8, "youtube"),
	}, 0)
	if err != nil {
		t.Fatalf("BuildQueue: %v", err)
	}

	if len(queue) != 1 || queue[0].ClipID != "clip-new" {
		t.Fatalf("queue = %+v; want only clip-new", queue)
	}
}

func TestBuildQueueRequeuesRetryableFailures(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemory()
	quotas := map[string]quota.State{"youtube": {Platform: "youtube"}}

	if _, err := l.Create(ctx, types.PublishIntent{ClipID: "clip-1", Platform: "youtube", ScheduledTime: fixedNow()}); err != nil {
		t.Fatalf("seed Create: %v", err)
	}
	if _, err := l.Transition(ctx, "clip-1", "youtube", types.StatusQueued, types.StatusInFlight, nil); err != nil {
		t.Fatalf("seed Transition: %v", err)
	}
	if _, err := l.Transition(ctx, "clip-1", "youtube", types.StatusInFlight, types.StatusFailedRetryable, func(e *types.LedgerEntry) {
		e.AttemptCount = 3
	}); err != nil {
		t.Fatalf("seed Transition: %v", err)
	}

	p := newTestPlanner(l, quotas)
	queue, err := p.BuildQueue(ctx, []types.ClipCandidate{candidate("clip-1", 0.9, "youtube")}, 0)
	if err != nil {
		t.Fatalf("BuildQueue: %v", err)
	}

	if len(queue) != 1 {
		t.Fatalf("retryable pair was not re-queued")
	}
	if queue[0].AttemptCount != 3 {
		t.Fatalf("re-queued intent lost attempt count: %d", queue[0].AttemptCount)
	}
}

func TestBuildQueueReemitsUndispatchedQueuedEntries(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemory()
	quotas := map[string]quota.State{"youtube": {Platform: "youtube"}}

	// A previous run planned this pair but went down before dispatching it
	stored := fixedNow().Add(-30 * time.Minute)
	if _, err := l.Create(ctx, types.PublishIntent{ClipID: "clip-1", Platform: "youtube", ScheduledTime: stored}); err != nil {
		t.Fatalf("seed Create: %v", err)
	}

	// Startup recovery only touches in_flight entries; the queued pair must
	// come back through planning
	if _, err := ledger.Recover(ctx, l, nil); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	p := newTestPlanner(l, quotas)
	queue, err := p.BuildQueue(ctx, []types.ClipCandidate{candidate("clip-1", 0.9, "youtube")}, 0)
	if err != nil {
		t.Fatalf("BuildQueue: %v", err)
	}

	if len(queue) != 1 {
		t.Fatalf("queued pair was stranded after restart; queue = %+v", queue)
	}
	if queue[0].ClipID != "clip-1" || queue[0].Platform != "youtube" {
		t.Fatalf("re-emitted intent = %+v", queue[0])
	}
	if !queue[0].ScheduledTime.Equal(stored) {
		t.Fatalf("re-emitted intent rescheduled to %v; want stored %v", queue[0].ScheduledTime, stored)
	}

	entry, _, _ := l.Get(ctx, "clip-1", "youtube")
	if entry.Status != types.StatusQueued || entry.Version != 1 {
		t.Fatalf("re-emit rewrote the ledger entry: %s v%d", entry.Status, entry.Version)
	}
}

func TestBuildQueueHonorsMaxPerDay(t *testing.T) {
	l := ledger.NewMemory()
	quotas := map[string]quota.State{"youtube": {Platform: "youtube"}}
	p := newTestPlanner(l, quotas)

	cands := []types.ClipCandidate{
		candidate("clip-1", 0.9, "youtube"),
		candidate("clip-2", 0.8, "youtube"),
		candidate("clip-3", 0.7, "youtube"),
	}
	queue, err := p.BuildQueue(context.Background(), cands, 2)
	if err != nil {
		t.Fatalf("BuildQueue: %v", err)
	}
	if len(queue) != 2 {
		t.Fatalf("queue has %d intents; want 2 (daily cap)", len(queue))
	}
}

func TestBuildQueueSkipsUnconfiguredPlatforms(t *testing.T) {
	l := ledger.NewMemory()
	quotas := map[string]quota.State{"youtube": {Platform: "youtube"}}
	p := newTestPlanner(l, quotas)

	queue, err := p.BuildQueue(context.Background(), []types.ClipCandidate{
		candidate("clip-1", 0.9, "youtube", "vimeo"),
	}, 0)
	if err != nil {
		t.Fatalf("BuildQueue: %v", err)
	}
	if len(queue) != 1 || queue[0].Platform != "youtube" {
		t.Fatalf("queue = %+v; want only the youtube intent", queue)
	}
}

func TestBuildQueueDeterministicOrder(t *testing.T) {
	quotas := map[string]quota.State{
		"youtube": {Platform: "youtube"},
		"tiktok":  {Platform: "tiktok"},
	}
	cands := []types.ClipCandidate{
		candidate("clip-b", 0.9, "youtube", "tiktok"),
		candidate("clip-a", 0.9, "youtube", "tiktok"),
	}

	var first []types.PublishIntent
	for i := 0; i < 3; i++ {
		p := newTestPlanner(ledger.NewMemory(), quotas)
		queue, err := p.BuildQueue(context.Background(), cands, 0)
		if err != nil {
			t.Fatalf("BuildQueue run %d: %v", i, err)
		}
		if i == 0 {
			first = queue
			continue
		}
		if len(queue) != len(first) {
			t.Fatalf("run %d queue length %d != %d", i, len(queue), len(first))
		}
		for j := range queue {
			if queue[j].ClipID != first[j].ClipID || queue[j].Platform != first[j].Platform ||
				!queue[j].ScheduledTime.Equal(first[j].ScheduledTime) {
				t.Fatalf("run %d diverged at %d: %+v vs %+v", i, j, queue[j], first[j])
			}
		}
	}

	for i := 1; i < len(first); i++ {
		if first[i].ScheduledTime.Before(first[i-1].ScheduledTime) {
			t.Fatalf("queue not ordered by scheduled time at %d", i)
		}
	}
}

func TestHydrateQuotasCountsTodaysPublishes(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemory()

	// Two settled publishes today, one stale queued entry
	for _, clip := range []string{"clip-1", "clip-2", "clip-3"} {
		if _, err := l.Create(ctx, types.PublishIntent{ClipID: clip, Platform: "youtube", ScheduledTime: fixedNow()}); err != nil {
			t.Fatalf("Create %s: %v", clip, err)
		}
	}
	for _, clip := range []string{"clip-1", "clip-2"} {
		if _, err := l.Transition(ctx, clip, "youtube", types.StatusQueued, types.StatusInFlight, nil); err != nil {
			t.Fatalf("Transition %s: %v", clip, err)
		}
	}
	if _, err := l.Transition(ctx, "clip-1", "youtube", types.StatusInFlight, types.StatusSucceeded, nil); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	base := map[string]quota.State{"youtube": {Platform: "youtube", MaxPerWindow: 5}}
	hydrated, err := HydrateQuotas(ctx, l, base, time.Now().UTC())
	if err != nil {
		t.Fatalf("HydrateQuotas: %v", err)
	}

	// clip-1 succeeded and clip-2 is in flight; clip-3 is only queued
	if got := hydrated["youtube"].PostsInWindow; got != 2 {
		t.Fatalf("PostsInWindow = %d; want 2", got)
	}
	if hydrated["youtube"].LastPostAt.IsZero() {
		t.Fatalf("LastPostAt not hydrated")
	}
}
