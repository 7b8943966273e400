// Package platforms defines the closed capability interface the scheduler
// uses to talk to publishing destinations and the registry that resolves
// platform identifiers to implementations at configuration time.
package platforms

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Metadata carries the per-post fields shaped for a platform
type Metadata struct {
	Title       string
	Description string
	Hashtags    []string
	Duration    float64
	SourceVideo string
}

// Stats holds best-effort engagement metrics for a published post
type Stats struct {
	Views    int64
	Likes    int64
	Comments int64
	Shares   int64
}

// Poster is the uniform per-platform capability surface. PostVideo returns
// the platform's post ID on success, a RetryableError for transient
// conditions (network, timeout, rate limit) and a TerminalError for
// permanent ones (content rejected, auth revoked).
type Poster interface {
	Name() string
	PostVideo(ctx context.Context, path string, meta Metadata) (string, error)
	GetStats(ctx context.Context, postID string) (Stats, error)
}

// ProvisionalPoster is implemented by posters whose upload protocol yields
// the platform's post ID before the upload completes (TikTok returns its
// publish_id from the init step). The staged callback fires as soon as the
// ID is known, so the caller can persist it while the publish is still in
// flight and re-verify an interrupted upload on restart.
type ProvisionalPoster interface {
	Poster
	PostVideoStaged(ctx context.Context, path string, meta Metadata, staged func(postID string)) (string, error)
}

// RetryableError signals a transient platform failure governed by the
// executor's backoff policy.
type RetryableError struct {
	Platform string
	Err      error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("%s: retryable: %v", e.Platform, e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// TerminalError signals a permanent failure that must not be retried
type TerminalError struct {
	Platform string
	Err      error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("%s: terminal: %v", e.Platform, e.Err)
}

func (e *TerminalError) Unwrap() error { return e.Err }

// Retryable reports whether err is a transient platform failure
func Retryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// Terminal reports whether err is a permanent platform failure
func Terminal(err error) bool {
	var te *TerminalError
	return errors.As(err, &te)
}

// Registry maps platform identifiers to Poster implementations. It is
// populated once at configuration time; no runtime plugin loading.
type Registry struct {
	mu      sync.RWMutex
	posters map[string]Poster
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{posters: make(map[string]Poster)}
}

// Register adds a poster under its own name
func (r *Registry) Register(p Poster) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.posters[p.Name()] = p
}

// Lookup resolves a platform identifier
func (r *Registry) Lookup(name string) (Poster, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.posters[name]
	return p, ok
}

// Names returns the registered platform identifiers, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.posters))
	for name := range r.posters {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// VerifyPost implements ledger.Verifier: an interrupted publish that left a
// post ID behind is confirmed by asking the platform for its stats.
func (r *Registry) VerifyPost(ctx context.Context, platform, postID string) (bool, error) {
	p, ok := r.Lookup(platform)
	if !ok {
		return false, fmt.Errorf("unknown platform %s", platform)
	}
	if _, err := p.GetStats(ctx, postID); err != nil {
		return false, err
	}
	return true, nil
}
