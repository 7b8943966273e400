// Package executor drains publish queues against platform collaborators
// with bounded per-platform concurrency, retry with exponential backoff,
// and ledger-enforced at-most-once delivery per (clip, platform) pair.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"clippy/ledger"
	"clippy/platforms"
	"clippy/types"
)

// CandidateStore is the narrow view of the candidate store the executor
// needs: clip lookup for the rendered file and metadata, plus completion
// callbacks.
type CandidateStore interface {
	Get(id string) (types.ClipCandidate, bool)
	MarkPublished(id, platform, postID string) error
	MarkFailedTerminal(id, platform, reason string) error
}

// Config holds the executor's retry and concurrency knobs
type Config struct {
	// MaxAttempts is the total number of PostVideo calls allowed per
	// intent before it goes failed_terminal
	MaxAttempts int
	// BaseDelay seeds the exponential backoff between retries
	BaseDelay time.Duration
	// MaxDelay caps the backoff
	MaxDelay time.Duration
	// Concurrency bounds simultaneous in-flight publishes per platform;
	// platforms not listed use DefaultConcurrency
	Concurrency        map[string]int
	DefaultConcurrency int
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 2 * time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 5 * time.Minute
	}
	if c.DefaultConcurrency <= 0 {
		c.DefaultConcurrency = 1
	}
	return c
}

// Failure is an operator-visible terminal outcome
type Failure struct {
	ClipID   string `json:"clip_id"`
	Platform string `json:"platform"`
	Reason   string `json:"reason"`
}

// Summary is the end-of-run report. Dropped counts intents the ledger's
// concurrency guard rejected (already in flight or done elsewhere); those
// are not failures.
type Summary struct {
	Succeeded      int       `json:"succeeded"`
	FailedTerminal int       `json:"failed_terminal"`
	Dropped        int       `json:"dropped"`
	Retries        int       `json:"retries"`
	Cancelled      int       `json:"cancelled"`
	Failures       []Failure `json:"failures,omitempty"`
}

// Executor dispatches publish intents. One worker pool per platform, sized
// independently, since platforms have different concurrency tolerances.
type Executor struct {
	ledger   ledger.Ledger
	store    CandidateStore
	registry *platforms.Registry
	cfg      Config

	// test seams
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(d time.Duration) time.Duration
}

// New creates an executor over the given ledger, store and platform registry
func New(l ledger.Ledger, store CandidateStore, registry *platforms.Registry, cfg Config) *Executor {
	return &Executor{
		ledger:   l,
		store:    store,
		registry: registry,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		sleep:    sleepCtx,
		jitter: func(d time.Duration) time.Duration {
			return d + time.Duration(rand.Int63n(int64(d)/4+1))
		},
	}
}

type outcome int

const (
	outcomeSucceeded outcome = iota
	outcomeTerminal
	outcomeDropped
	outcomeCancelled
)

type result struct {
	intent  types.PublishIntent
	outcome outcome
	retries int
	reason  string
}

// Run drains the queue. Within one platform intents dispatch in
// non-decreasing scheduled-time order and never before their scheduled
// time; across platforms no ordering is guaranteed. Cancellation is
// cooperative: it is honored at the checkpoint before each dispatch and
// between retry attempts, but an attempt already in flight runs to
// completion.
func (e *Executor) Run(ctx context.Context, queue []types.PublishIntent) (Summary, error) {
	byPlatform := make(map[string][]types.PublishIntent)
	for _, intent := range queue {
		byPlatform[intent.Platform] = append(byPlatform[intent.Platform], intent)
	}

	results := make(chan result, len(queue))
	var wg sync.WaitGroup
	for platform, intents := range byPlatform {
		wg.Add(1)
		go func(platform string, intents []types.PublishIntent) {
			defer wg.Done()
			e.runPlatform(ctx, platform, intents, results)
		}(platform, intents)
	}
	wg.Wait()
	close(results)

	var summary Summary
	for r := range results {
		summary.Retries += r.retries
		switch r.outcome {
		case outcomeSucceeded:
			summary.Succeeded++
		case outcomeTerminal:
			summary.FailedTerminal++
			summary.Failures = append(summary.Failures, Failure{
				ClipID:   r.intent.ClipID,
				Platform: r.intent.Platform,
				Reason:   r.reason,
			})
		case outcomeDropped:
			summary.Dropped++
		case outcomeCancelled:
			summary.Cancelled++
		}
	}

	if ctx.Err() != nil {
		return summary, ctx.Err()
	}
	return summary, nil
}

// runPlatform walks one platform's intents in order, holding dispatches
// until their scheduled time and bounding in-flight publishes with a
// semaphore.
func (e *Executor) runPlatform(ctx context.Context, platform string, intents []types.PublishIntent, results chan<- result) {
	limit := e.cfg.DefaultConcurrency
	if n, ok := e.cfg.Concurrency[platform]; ok && n > 0 {
		limit = n
	}
	sem := make(chan struct{}, limit)

	var wg sync.WaitGroup
	for _, intent := range intents {
		// Cooperative cancellation checkpoint before each dispatch
		if ctx.Err() != nil {
			results <- result{intent: intent, outcome: outcomeCancelled}
			continue
		}

		if wait := intent.ScheduledTime.Sub(e.now()); wait > 0 {
			if err := e.sleep(ctx, wait); err != nil {
				results <- result{intent: intent, outcome: outcomeCancelled}
				continue
			}
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			results <- result{intent: intent, outcome: outcomeCancelled}
			continue
		}

		wg.Add(1)
		go func(intent types.PublishIntent) {
			defer wg.Done()
			defer func() { <-sem }()
			results <- e.publish(ctx, intent)
		}(intent)
	}
	wg.Wait()
}

// publish drives one intent through the transition table:
// queued -> in_flight -> {succeeded | failed_retryable -> in_flight ... | failed_terminal}
func (e *Executor) publish(ctx context.Context, intent types.PublishIntent) result {
	res := result{intent: intent}

	// An attempt that has started is never interrupted mid-call; its
	// outcome is recorded even when the run is being cancelled.
	callCtx := context.WithoutCancel(ctx)

	from := types.StatusQueued
	for {
		entry, err := e.ledger.Transition(callCtx, intent.ClipID, intent.Platform, from, types.StatusInFlight, nil)
		if err != nil {
			if errors.Is(err, types.ErrDuplicateIntent) || errors.Is(err, types.ErrStaleTransition) {
				log.Printf("↩️ Dropping %s/%s: %v", intent.ClipID, intent.Platform, err)
				res.outcome = outcomeDropped
				return res
			}
			res.outcome = outcomeTerminal
			res.reason = fmt.Sprintf("ledger transition: %v", err)
			return res
		}

		postID, err := e.attempt(callCtx, intent)
		if err == nil {
			if _, terr := e.ledger.Transition(callCtx, intent.ClipID, intent.Platform, types.StatusInFlight, types.StatusSucceeded, func(le *types.LedgerEntry) {
				le.PostID = postID
				le.LastError = ""
			}); terr != nil {
				log.Printf("↩️ Publish of %s/%s landed but ledger says %v", intent.ClipID, intent.Platform, terr)
				res.outcome = outcomeDropped
				return res
			}
			if serr := e.store.MarkPublished(intent.ClipID, intent.Platform, postID); serr != nil {
				log.Printf("⚠️ MarkPublished %s/%s: %v", intent.ClipID, intent.Platform, serr)
			}
			log.Printf("✅ Published %s to %s (post %s)", intent.ClipID, intent.Platform, postID)
			res.outcome = outcomeSucceeded
			return res
		}

		if !platforms.Retryable(err) {
			// Content rejected, auth revoked, malformed clip: no retry
			e.failTerminal(callCtx, intent, types.StatusInFlight, err.Error())
			res.outcome = outcomeTerminal
			res.reason = err.Error()
			return res
		}

		attempts := entry.AttemptCount + 1
		if _, terr := e.ledger.Transition(callCtx, intent.ClipID, intent.Platform, types.StatusInFlight, types.StatusFailedRetryable, func(le *types.LedgerEntry) {
			le.AttemptCount = attempts
			le.LastError = err.Error()
		}); terr != nil {
			res.outcome = outcomeDropped
			return res
		}

		if attempts >= e.cfg.MaxAttempts {
			e.failTerminal(callCtx, intent, types.StatusFailedRetryable,
				fmt.Sprintf("gave up after %d attempts: %v", attempts, err))
			res.outcome = outcomeTerminal
			res.reason = fmt.Sprintf("gave up after %d attempts: %v", attempts, err)
			return res
		}

		delay := e.backoff(attempts)
		log.Printf("⚠️ Attempt %d for %s/%s failed (%v), retrying in %s", attempts, intent.ClipID, intent.Platform, err, delay)
		res.retries++
		if serr := e.sleep(ctx, delay); serr != nil {
			// Cancelled during backoff: the intent stays failed_retryable
			// and the next run picks it up
			res.outcome = outcomeCancelled
			return res
		}
		from = types.StatusFailedRetryable
	}
}

// attempt performs one PostVideo call for the intent's clip
func (e *Executor) attempt(ctx context.Context, intent types.PublishIntent) (string, error) {
	poster, ok := e.registry.Lookup(intent.Platform)
	if !ok {
		return "", &platforms.TerminalError{Platform: intent.Platform, Err: fmt.Errorf("platform not registered")}
	}

	cand, ok := e.store.Get(intent.ClipID)
	if !ok {
		return "", &platforms.TerminalError{Platform: intent.Platform, Err: fmt.Errorf("unknown candidate %s", intent.ClipID)}
	}
	if cand.RenderStatus != types.RenderDone || cand.OutputPath == "" {
		return "", &platforms.TerminalError{Platform: intent.Platform, Err: fmt.Errorf("candidate %s has no rendered output", intent.ClipID)}
	}

	meta := platforms.ShapeMetadata(intent.Platform, platforms.Metadata{
		Title:       cand.Title,
		Description: cand.Description,
		Hashtags:    cand.Hashtags,
		Duration:    cand.Duration(),
		SourceVideo: cand.SourceVideoID,
	}, nil)

	// Posters that learn their post ID before the upload completes get it
	// persisted on the in-flight entry, so recovery can re-verify an
	// interrupted upload instead of blindly retrying it.
	if pp, ok := poster.(platforms.ProvisionalPoster); ok {
		return pp.PostVideoStaged(ctx, cand.OutputPath, meta, func(postID string) {
			if _, err := e.ledger.Transition(ctx, intent.ClipID, intent.Platform, types.StatusInFlight, types.StatusInFlight, func(le *types.LedgerEntry) {
				le.PostID = postID
			}); err != nil {
				log.Printf("⚠️ Recording provisional post ID for %s/%s: %v", intent.ClipID, intent.Platform, err)
			}
		})
	}

	return poster.PostVideo(ctx, cand.OutputPath, meta)
}

func (e *Executor) failTerminal(ctx context.Context, intent types.PublishIntent, from types.IntentStatus, reason string) {
	if _, err := e.ledger.Transition(ctx, intent.ClipID, intent.Platform, from, types.StatusFailedTerminal, func(le *types.LedgerEntry) {
		le.LastError = reason
	}); err != nil {
		log.Printf("⚠️ Terminal transition %s/%s: %v", intent.ClipID, intent.Platform, err)
		return
	}
	if err := e.store.MarkFailedTerminal(intent.ClipID, intent.Platform, reason); err != nil {
		log.Printf("⚠️ MarkFailedTerminal %s/%s: %v", intent.ClipID, intent.Platform, err)
	}
	log.Printf("❌ Giving up on %s for %s: %s", intent.ClipID, intent.Platform, reason)
}

// backoff returns base·2^attempt capped at MaxDelay, plus jitter
func (e *Executor) backoff(attempt int) time.Duration {
	d := e.cfg.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= e.cfg.MaxDelay {
			d = e.cfg.MaxDelay
			break
		}
	}
	return e.jitter(d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
