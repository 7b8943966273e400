// Package planner turns scored candidates into a time-ordered,
// constraint-respecting queue of publish intents.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"clippy/ledger"
	"clippy/quota"
	"clippy/types"
)

// Planner builds publication queues. It consults the ledger before creating
// any intent so an already-succeeded or in-flight (clip, platform) pair is
// never re-queued, and advances a working copy of each platform's quota
// state as intents are placed.
type Planner struct {
	ledger ledger.Ledger
	quotas map[string]quota.State

	// Now is the planning clock; overridable for deterministic tests
	Now func() time.Time
}

// New creates a planner over the given ledger and per-platform quota states
func New(l ledger.Ledger, quotas map[string]quota.State) *Planner {
	return &Planner{
		ledger: l,
		quotas: quotas,
		Now:    time.Now,
	}
}

// HydrateQuotas folds the ledger's view of completed and in-flight
// publishes back into each platform's quota state, so quota consumption
// survives restarts without separate bookkeeping.
func HydrateQuotas(ctx context.Context, l ledger.Ledger, base map[string]quota.State, now time.Time) (map[string]quota.State, error) {
	out := make(map[string]quota.State, len(base))
	day := now.UTC().Truncate(24 * time.Hour)

	for name, q := range base {
		q = quota.Rollover(q, now)

		entries, err := l.ByPlatform(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("hydrate quota for %s: %w", name, err)
		}
		for _, e := range entries {
			if e.Status != types.StatusSucceeded && e.Status != types.StatusInFlight {
				continue
			}
			if e.UpdatedAt.Before(day) {
				continue
			}
			q.PostsInWindow++
			if e.UpdatedAt.After(q.LastPostAt) {
				q.LastPostAt = e.UpdatedAt
			}
		}
		out[name] = q
	}
	return out, nil
}

// BuildQueue iterates candidates highest-score-first (the store's ListPending
// order) and emits at most maxPerDay intents per platform, each scheduled at
// the platform's next eligible time. The result is sorted by scheduled time,
// then platform, then clip ID, so planning is reproducible.
func (p *Planner) BuildQueue(ctx context.Context, candidates []types.ClipCandidate, maxPerDay int) ([]types.PublishIntent, error) {
	now := p.Now().UTC()

	working := make(map[string]quota.State, len(p.quotas))
	for name, q := range p.quotas {
		working[name] = quota.Rollover(q, now)
	}
	dayCount := make(map[string]int)

	var queue []types.PublishIntent
	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for _, platform := range cand.TargetPlatforms {
			q, known := working[platform]
			if !known {
				log.Printf("⚠️ Skipping %s on unconfigured platform %s", cand.ID, platform)
				continue
			}
			if maxPerDay > 0 && dayCount[platform] >= maxPerDay {
				continue
			}

			entry, found, err := p.ledger.Get(ctx, cand.ID, platform)
			if err != nil {
				return nil, fmt.Errorf("consult ledger for %s/%s: %w", cand.ID, platform, err)
			}
			if found && entry.Status == types.StatusQueued {
				// Planned by an earlier run that never dispatched it (crash
				// or cancelled run): re-emit with its stored schedule so the
				// pair is not stranded.
				queue = append(queue, entry.Intent())
				working[platform] = quota.Consume(q, entry.ScheduledTime)
				dayCount[platform]++
				continue
			}
			if found && entry.Status != types.StatusFailedRetryable {
				// Already being published or resolved: leave it alone
				continue
			}

			at := quota.NextEligibleTime(q, now)
			intent := types.PublishIntent{
				ClipID:        cand.ID,
				Platform:      platform,
				ScheduledTime: at,
				AttemptCount:  entry.AttemptCount,
				Status:        types.StatusQueued,
			}

			created, err := p.ledger.Create(ctx, intent)
			if err != nil {
				if errors.Is(err, types.ErrDuplicateIntent) {
					// Lost a race with another planning actor; drop quietly
					continue
				}
				return nil, fmt.Errorf("record intent %s/%s: %w", cand.ID, platform, err)
			}

			intent.AttemptCount = created.AttemptCount
			queue = append(queue, intent)
			working[platform] = quota.Consume(q, at)
			dayCount[platform]++
		}
	}

	sort.SliceStable(queue, func(i, j int) bool {
		if !queue[i].ScheduledTime.Equal(queue[j].ScheduledTime) {
			return queue[i].ScheduledTime.Before(queue[j].ScheduledTime)
		}
		if queue[i].Platform != queue[j].Platform {
			return queue[i].Platform < queue[j].Platform
		}
		return queue[i].ClipID < queue[j].ClipID
	})
	return queue, nil
}
