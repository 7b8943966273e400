package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"clippy/ledger"
	"clippy/platforms"
	"clippy/types"
)

// fakePoster scripts PostVideo outcomes per call and records the calls made
type fakePoster struct {
	mu       sync.Mutex
	name     string
	outcomes []error // nil means success; consumed in order, last repeats
	calls    int
}

func (f *fakePoster) Name() string { return f.name }

func (f *fakePoster) PostVideo(_ context.Context, _ string, _ platforms.Metadata) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var err error
	if len(f.outcomes) > 0 {
		i := f.calls
		if i >= len(f.outcomes) {
			i = len(f.outcomes) - 1
		}
		err = f.outcomes[i]
	}
	f.calls++
	if err != nil {
		return "", err
	}
	return "post-123", nil
}

func (f *fakePoster) GetStats(_ context.Context, _ string) (platforms.Stats, error) {
	return platforms.Stats{}, nil
}

func (f *fakePoster) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeStore is a minimal CandidateStore over a fixed candidate set
type fakeStore struct {
	mu         sync.Mutex
	candidates map[string]types.ClipCandidate
	published  map[string]string // "clip/platform" -> post ID
	failed     map[string]string // "clip/platform" -> reason
}

func newFakeStore(cands ...types.ClipCandidate) *fakeStore {
	s := &fakeStore{
		candidates: make(map[string]types.ClipCandidate),
		published:  make(map[string]string),
		failed:     make(map[string]string),
	}
	for _, c := range cands {
		s.candidates[c.ID] = c
	}
	return s
}

func (s *fakeStore) Get(id string) (types.ClipCandidate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.candidates[id]
	return c, ok
}

func (s *fakeStore) MarkPublished(id, platform, postID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published[id+"/"+platform] = postID
	return nil
}

func (s *fakeStore) MarkFailedTerminal(id, platform, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[id+"/"+platform] = reason
	return nil
}

func renderedCandidate(id string, platforms ...string) types.ClipCandidate {
	return types.ClipCandidate{
		ID:              id,
		SourceVideoID:   "vid-1",
		Title:           "clip " + id,
		StartOffset:     0,
		EndOffset:       30,
		ViralityScore:   0.9,
		RenderStatus:    types.RenderDone,
		OutputPath:      "/clips/" + id + ".mp4",
		TargetPlatforms: platforms,
	}
}

// newTestExecutor wires an executor with instant sleeps, no jitter and a
// frozen clock, recording each backoff delay.
func newTestExecutor(l ledger.Ledger, store CandidateStore, reg *platforms.Registry, cfg Config) (*Executor, *[]time.Duration) {
	e := New(l, store, reg, cfg)
	var mu sync.Mutex
	delays := &[]time.Duration{}
	e.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	e.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		*delays = append(*delays, d)
		mu.Unlock()
		return ctx.Err()
	}
	e.jitter = func(d time.Duration) time.Duration { return d }
	return e, delays
}

func seedQueued(t *testing.T, l ledger.Ledger, clipID, platform string) types.PublishIntent {
	t.Helper()
	intent := types.PublishIntent{
		ClipID:        clipID,
		Platform:      platform,
		ScheduledTime: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Status:        types.StatusQueued,
	}
	if _, err := l.Create(context.Background(), intent); err != nil {
		t.Fatalf("seed %s/%s: %v", clipID, platform, err)
	}
	return intent
}

func TestRunPublishesQueuedIntent(t *testing.T) {
	l := ledger.NewMemory()
	store := newFakeStore(renderedCandidate("clip-1", "youtube"))
	poster := &fakePoster{name: "youtube"}
	reg := platforms.NewRegistry()
	reg.Register(poster)

	exec, _ := newTestExecutor(l, store, reg, Config{})
	intent := seedQueued(t, l, "clip-1", "youtube")

	summary, err := exec.Run(context.Background(), []types.PublishIntent{intent})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Succeeded != 1 || summary.FailedTerminal != 0 {
		t.Fatalf("summary = %+v; want 1 success", summary)
	}

	entry, _, _ := l.Get(context.Background(), "clip-1", "youtube")
	if entry.Status != types.StatusSucceeded || entry.PostID != "post-123" {
		t.Fatalf("ledger entry = %s post %q; want succeeded post-123", entry.Status, entry.PostID)
	}
	if store.published["clip-1/youtube"] != "post-123" {
		t.Fatalf("store was not marked published")
	}
}

func TestRunRetriesThenGivesUp(t *testing.T) {
	l := ledger.NewMemory()
	store := newFakeStore(renderedCandidate("clip-1", "youtube"))
	poster := &fakePoster{
		name:     "youtube",
		outcomes: []error{&platforms.RetryableError{Platform: "youtube", Err: errors.New("rate limited")}},
	}
	reg := platforms.NewRegistry()
	reg.Register(poster)

	cfg := Config{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Minute}
	exec, delays := newTestExecutor(l, store, reg, cfg)
	intent := seedQueued(t, l, "clip-1", "youtube")

	summary, err := exec.Run(context.Background(), []types.PublishIntent{intent})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.FailedTerminal != 1 || summary.Succeeded != 0 {
		t.Fatalf("summary = %+v; want 1 terminal failure", summary)
	}
	if got := poster.callCount(); got != 3 {
		t.Fatalf("PostVideo called %d times; want exactly MaxAttempts (3)", got)
	}
	if summary.Retries != 2 {
		t.Fatalf("summary.Retries = %d; want 2", summary.Retries)
	}

	// Backoff between attempts doubles and never decreases
	if len(*delays) != 2 {
		t.Fatalf("recorded %d backoff delays; want 2", len(*delays))
	}
	for i := 1; i < len(*delays); i++ {
		if (*delays)[i] < (*delays)[i-1] {
			t.Fatalf("backoff decreased: %v then %v", (*delays)[i-1], (*delays)[i])
		}
	}

	entry, _, _ := l.Get(context.Background(), "clip-1", "youtube")
	if entry.Status != types.StatusFailedTerminal {
		t.Fatalf("ledger entry = %s; want failed_terminal", entry.Status)
	}
	if entry.AttemptCount != 3 {
		t.Fatalf("attempt count = %d; want 3", entry.AttemptCount)
	}
	if store.failed["clip-1/youtube"] == "" {
		t.Fatalf("store was not marked failed")
	}
}

func TestRunRecoversAfterTransientFailure(t *testing.T) {
	l := ledger.NewMemory()
	store := newFakeStore(renderedCandidate("clip-1", "youtube"))
	poster := &fakePoster{
		name: "youtube",
		outcomes: []error{
			&platforms.RetryableError{Platform: "youtube", Err: errors.New("timeout")},
			nil,
		},
	}
	reg := platforms.NewRegistry()
	reg.Register(poster)

	exec, _ := newTestExecutor(l, store, reg, Config{MaxAttempts: 5})
	intent := seedQueued(t, l, "clip-1", "youtube")

	summary, err := exec.Run(context.Background(), []types.PublishIntent{intent})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Succeeded != 1 || summary.Retries != 1 {
		t.Fatalf("summary = %+v; want 1 success after 1 retry", summary)
	}

	entry, _, _ := l.Get(context.Background(), "clip-1", "youtube")
	if entry.Status != types.StatusSucceeded || entry.AttemptCount != 1 {
		t.Fatalf("entry = %s attempts %d; want succeeded with 1 recorded failure", entry.Status, entry.AttemptCount)
	}
}

func TestRunStopsImmediatelyOnTerminalError(t *testing.T) {
	l := ledger.NewMemory()
	store := newFakeStore(renderedCandidate("clip-1", "youtube"))
	poster := &fakePoster{
		name:     "youtube",
		outcomes: []error{&platforms.TerminalError{Platform: "youtube", Err: errors.New("content rejected")}},
	}
	reg := platforms.NewRegistry()
	reg.Register(poster)

	exec, delays := newTestExecutor(l, store, reg, Config{MaxAttempts: 5})
	intent := seedQueued(t, l, "clip-1", "youtube")

	summary, err := exec.Run(context.Background(), []types.PublishIntent{intent})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.FailedTerminal != 1 || summary.Retries != 0 {
		t.Fatalf("summary = %+v; want immediate terminal failure", summary)
	}
	if got := poster.callCount(); got != 1 {
		t.Fatalf("PostVideo called %d times; want 1", got)
	}
	if len(*delays) != 0 {
		t.Fatalf("terminal error triggered backoff sleeps: %v", *delays)
	}

	entry, _, _ := l.Get(context.Background(), "clip-1", "youtube")
	if entry.Status != types.StatusFailedTerminal {
		t.Fatalf("entry = %s; want failed_terminal", entry.Status)
	}
}

func TestRunPersistsProvisionalPostID(t *testing.T) {
	l := ledger.NewMemory()
	store := newFakeStore(renderedCandidate("clip-1", "tiktok"))
	// The upload ID is known from the init step but the upload itself keeps
	// failing, so the ID must survive into the ledger for later verification
	poster := &stagedPoster{
		fakePoster: fakePoster{
			name:     "tiktok",
			outcomes: []error{&platforms.RetryableError{Platform: "tiktok", Err: errors.New("upload reset")}},
		},
		id: "tt-prov-1",
	}
	reg := platforms.NewRegistry()
	reg.Register(poster)

	exec, _ := newTestExecutor(l, store, reg, Config{MaxAttempts: 2})
	intent := seedQueued(t, l, "clip-1", "tiktok")

	summary, err := exec.Run(context.Background(), []types.PublishIntent{intent})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.FailedTerminal != 1 {
		t.Fatalf("summary = %+v; want 1 terminal failure", summary)
	}

	// Failure transitions copy the stored entry, so the only way PostID can
	// be set here is the in-flight persist
	entry, _, _ := l.Get(context.Background(), "clip-1", "tiktok")
	if entry.PostID != "tt-prov-1" {
		t.Fatalf("provisional post ID not persisted; entry = %+v", entry)
	}
	if entry.Status != types.StatusFailedTerminal {
		t.Fatalf("entry status = %s; want failed_terminal", entry.Status)
	}
}

// stagedPoster reports its upload ID before the upload outcome resolves
type stagedPoster struct {
	fakePoster
	id string
}

func (s *stagedPoster) PostVideoStaged(ctx context.Context, path string, meta platforms.Metadata, staged func(string)) (string, error) {
	if staged != nil {
		staged(s.id)
	}
	return s.fakePoster.PostVideo(ctx, path, meta)
}

func TestRunDropsIntentClaimedElsewhere(t *testing.T) {
	l := ledger.NewMemory()
	store := newFakeStore(renderedCandidate("clip-1", "youtube"))
	poster := &fakePoster{name: "youtube"}
	reg := platforms.NewRegistry()
	reg.Register(poster)

	exec, _ := newTestExecutor(l, store, reg, Config{})
	intent := seedQueued(t, l, "clip-1", "youtube")

	// Another actor already claimed the pair
	if _, err := l.Transition(context.Background(), "clip-1", "youtube", types.StatusQueued, types.StatusInFlight, nil); err != nil {
		t.Fatalf("claim: %v", err)
	}

	summary, err := exec.Run(context.Background(), []types.PublishIntent{intent})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Dropped != 1 || summary.Succeeded != 0 || summary.FailedTerminal != 0 {
		t.Fatalf("summary = %+v; want 1 dropped", summary)
	}
	if got := poster.callCount(); got != 0 {
		t.Fatalf("PostVideo called %d times for a dropped intent", got)
	}
}

func TestRunFailsTerminalWhenClipNotRendered(t *testing.T) {
	l := ledger.NewMemory()
	unrendered := renderedCandidate("clip-1", "youtube")
	unrendered.RenderStatus = types.RenderPending
	unrendered.OutputPath = ""
	store := newFakeStore(unrendered)
	poster := &fakePoster{name: "youtube"}
	reg := platforms.NewRegistry()
	reg.Register(poster)

	exec, _ := newTestExecutor(l, store, reg, Config{})
	intent := seedQueued(t, l, "clip-1", "youtube")

	summary, err := exec.Run(context.Background(), []types.PublishIntent{intent})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.FailedTerminal != 1 {
		t.Fatalf("summary = %+v; want 1 terminal failure", summary)
	}
	if got := poster.callCount(); got != 0 {
		t.Fatalf("PostVideo called %d times for an unrendered clip", got)
	}
}

func TestRunCancelledContextSkipsDispatch(t *testing.T) {
	l := ledger.NewMemory()
	store := newFakeStore(renderedCandidate("clip-1", "youtube"))
	poster := &fakePoster{name: "youtube"}
	reg := platforms.NewRegistry()
	reg.Register(poster)

	exec, _ := newTestExecutor(l, store, reg, Config{})
	intent := seedQueued(t, l, "clip-1", "youtube")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := exec.Run(ctx, []types.PublishIntent{intent})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v; want context.Canceled", err)
	}
	if summary.Cancelled != 1 {
		t.Fatalf("summary = %+v; want 1 cancelled", summary)
	}
	if got := poster.callCount(); got != 0 {
		t.Fatalf("PostVideo called %d times after cancellation", got)
	}

	// The intent is untouched and eligible for the next run
	entry, _, _ := l.Get(context.Background(), "clip-1", "youtube")
	if entry.Status != types.StatusQueued {
		t.Fatalf("cancelled intent moved to %s", entry.Status)
	}
}

func TestRunBoundsPlatformConcurrency(t *testing.T) {
	l := ledger.NewMemory()

	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0
	gate := &gatedPoster{
		name: "youtube",
		enter: func() {
			mu.Lock()
			inFlight++
			if inFlight > maxInFlight {
				maxInFlight = inFlight
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
		},
		exit: func() {
			mu.Lock()
			inFlight--
			mu.Unlock()
		},
	}
	reg := platforms.NewRegistry()
	reg.Register(gate)

	var cands []types.ClipCandidate
	var queue []types.PublishIntent
	for _, id := range []string{"clip-1", "clip-2", "clip-3", "clip-4"} {
		cands = append(cands, renderedCandidate(id, "youtube"))
	}
	store := newFakeStore(cands...)
	exec, _ := newTestExecutor(l, store, reg, Config{
		Concurrency: map[string]int{"youtube": 2},
	})
	for _, c := range cands {
		queue = append(queue, seedQueued(t, l, c.ID, "youtube"))
	}

	summary, err := exec.Run(context.Background(), queue)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Succeeded != 4 {
		t.Fatalf("summary = %+v; want 4 successes", summary)
	}
	if maxInFlight > 2 {
		t.Fatalf("observed %d concurrent publishes; limit is 2", maxInFlight)
	}
}

// gatedPoster invokes callbacks around each PostVideo call
type gatedPoster struct {
	name  string
	enter func()
	exit  func()
}

func (g *gatedPoster) Name() string { return g.name }

func (g *gatedPoster) PostVideo(_ context.Context, _ string, _ platforms.Metadata) (string, error) {
	g.enter()
	defer g.exit()
	return "post-gated", nil
}

func (g *gatedPoster) GetStats(_ context.Context, _ string) (platforms.Stats, error) {
	return platforms.Stats{}, nil
}
