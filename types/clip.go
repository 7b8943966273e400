package types

import "time"

// RenderStatus tracks a candidate's progress through the render collaborator
type RenderStatus string

const (
	RenderPending RenderStatus = "pending"
	RenderDone    RenderStatus = "rendered"
	RenderFailed  RenderStatus = "render_failed"
)

// ClipCandidate is a scored segment of a source video awaiting a publishing
// decision. Candidates are created when scoring completes and are never
// deleted, only driven to a terminal per-platform outcome.
type ClipCandidate struct {
	ID            string   `json:"id"`
	SourceVideoID string   `json:"source_video_id"`
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	Hashtags      []string `json:"hashtags,omitempty"`
	// Transcript holds the segment's spoken text, used for scoring when the
	// upstream pipeline did not attach a score
	Transcript string `json:"transcript,omitempty"`

	// Segment boundaries in seconds from the start of the source video
	StartOffset float64 `json:"start_offset"`
	EndOffset   float64 `json:"end_offset"`

	// ViralityScore is produced by the scoring collaborator, in [0, 1]
	ViralityScore float64 `json:"virality_score"`

	RenderStatus RenderStatus `json:"render_status"`
	// OutputPath is set once the render collaborator produces the clip file
	OutputPath string `json:"output_path,omitempty"`

	TargetPlatforms []string  `json:"target_platforms"`
	CreatedAt       time.Time `json:"created_at"`

	// Outcomes holds the terminal per-platform result, keyed by platform name
	Outcomes map[string]PlatformOutcome `json:"outcomes,omitempty"`
}

// PlatformOutcome records how a (clip, platform) pair resolved
type PlatformOutcome struct {
	Status   IntentStatus `json:"status"`
	PostID   string       `json:"post_id,omitempty"`
	Reason   string       `json:"reason,omitempty"`
	PostedAt time.Time    `json:"posted_at,omitempty"`
}

// Duration returns the clip length in seconds
func (c *ClipCandidate) Duration() float64 {
	return c.EndOffset - c.StartOffset
}

// Terminal reports whether every target platform has reached a terminal
// outcome (succeeded or failed_terminal), or the render failed outright
func (c *ClipCandidate) Terminal() bool {
	if c.RenderStatus == RenderFailed {
		return true
	}
	for _, p := range c.TargetPlatforms {
		out, ok := c.Outcomes[p]
		if !ok {
			return false
		}
		if out.Status != StatusSucceeded && out.Status != StatusFailedTerminal {
			return false
		}
	}
	return len(c.TargetPlatforms) > 0
}
