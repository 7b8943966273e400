package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"clippy/types"
)

// Store holds scored clip candidates awaiting a publishing decision with
// thread-safe access. Candidates are keyed by ID and are never removed, only
// driven to terminal per-platform outcomes.
type Store struct {
	mu         sync.RWMutex
	candidates map[string]*types.ClipCandidate
}

// New creates an empty candidate store
func New() *Store {
	return &Store{
		candidates: make(map[string]*types.ClipCandidate),
	}
}

// Add validates and registers a candidate. A score outside [0,1], an empty
// ID, or an empty target platform set is rejected with InvalidCandidateError.
// Re-adding an existing ID is also rejected; candidates are superseded by
// status updates, never replaced.
func (s *Store) Add(c types.ClipCandidate) error {
	if c.ID == "" {
		return &types.InvalidCandidateError{ClipID: c.ID, Reason: "empty clip id"}
	}
	if c.ViralityScore < 0 || c.ViralityScore > 1 {
		return &types.InvalidCandidateError{
			ClipID: c.ID,
			Reason: fmt.Sprintf("virality score %.3f outside [0,1]", c.ViralityScore),
		}
	}
	if len(c.TargetPlatforms) == 0 {
		return &types.InvalidCandidateError{ClipID: c.ID, Reason: "no target platforms"}
	}
	if c.EndOffset <= c.StartOffset {
		return &types.InvalidCandidateError{ClipID: c.ID, Reason: "end offset not after start offset"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.candidates[c.ID]; exists {
		return &types.InvalidCandidateError{ClipID: c.ID, Reason: "candidate already registered"}
	}
	if c.RenderStatus == "" {
		c.RenderStatus = types.RenderPending
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.Outcomes == nil {
		c.Outcomes = make(map[string]types.PlatformOutcome)
	}
	s.candidates[c.ID] = &c
	return nil
}

// Get returns a copy of the candidate with the given ID
func (s *Store) Get(id string) (types.ClipCandidate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.candidates[id]
	if !ok {
		return types.ClipCandidate{}, false
	}
	return copyCandidate(c), true
}

// ListPending returns rendered, non-terminal candidates with score >= minScore,
// ordered by descending score, then newest source material, then ID. The
// ordering is fully deterministic so planning is reproducible.
func (s *Store) ListPending(minScore float64) []types.ClipCandidate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.ClipCandidate, 0, len(s.candidates))
	for _, c := range s.candidates {
		if c.RenderStatus != types.RenderDone {
			continue
		}
		if c.ViralityScore < minScore {
			continue
		}
		if c.Terminal() {
			continue
		}
		out = append(out, copyCandidate(c))
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].ViralityScore != out[j].ViralityScore {
			return out[i].ViralityScore > out[j].ViralityScore
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ListUnrendered returns candidates still waiting on the render
// collaborator, oldest first.
func (s *Store) ListUnrendered() []types.ClipCandidate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.ClipCandidate
	for _, c := range s.candidates {
		if c.RenderStatus == types.RenderPending {
			out = append(out, copyCandidate(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// MarkRendered records the render collaborator's output for a candidate
func (s *Store) MarkRendered(id, outputPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.candidates[id]
	if !ok {
		return fmt.Errorf("unknown candidate %s", id)
	}
	c.RenderStatus = types.RenderDone
	c.OutputPath = outputPath
	return nil
}

// MarkRenderFailed marks a candidate's render as failed. A failed render is
// terminal for the candidate: no publish attempt is ever made for it.
func (s *Store) MarkRenderFailed(id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.candidates[id]
	if !ok {
		return fmt.Errorf("unknown candidate %s", id)
	}
	c.RenderStatus = types.RenderFailed
	for _, p := range c.TargetPlatforms {
		c.Outcomes[p] = types.PlatformOutcome{
			Status: types.StatusFailedTerminal,
			Reason: "render failed: " + reason,
		}
	}
	return nil
}

// MarkPublished records a successful publish of the clip on one platform
func (s *Store) MarkPublished(id, platform, postID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.candidates[id]
	if !ok {
		return fmt.Errorf("unknown candidate %s", id)
	}
	c.Outcomes[platform] = types.PlatformOutcome{
		Status:   types.StatusSucceeded,
		PostID:   postID,
		PostedAt: time.Now().UTC(),
	}
	return nil
}

// MarkFailedTerminal records a permanent publish failure on one platform
func (s *Store) MarkFailedTerminal(id, platform, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.candidates[id]
	if !ok {
		return fmt.Errorf("unknown candidate %s", id)
	}
	c.Outcomes[platform] = types.PlatformOutcome{
		Status: types.StatusFailedTerminal,
		Reason: reason,
	}
	return nil
}

// Counts returns aggregate candidate counts for status reporting
func (s *Store) Counts() (total, rendered, terminal int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.candidates {
		total++
		if c.RenderStatus == types.RenderDone {
			rendered++
		}
		if c.Terminal() {
			terminal++
		}
	}
	return
}

func copyCandidate(c *types.ClipCandidate) types.ClipCandidate {
	out := *c
	out.TargetPlatforms = append([]string(nil), c.TargetPlatforms...)
	out.Hashtags = append([]string(nil), c.Hashtags...)
	out.Outcomes = make(map[string]types.PlatformOutcome, len(c.Outcomes))
	for k, v := range c.Outcomes {
		out.Outcomes[k] = v
	}
	return out
}
