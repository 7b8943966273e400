// Package render cuts a candidate's segment out of its source video and
// reframes it for vertical short-form playback.
package render

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"clippy/types"
)

// SourceResolver maps a source video ID to a local file path
type SourceResolver func(sourceVideoID string) (string, error)

// Renderer produces 9:16 720x1280 clips with ffmpeg
type Renderer struct {
	OutDir  string
	Resolve SourceResolver
}

// New creates a renderer writing clips under outDir
func New(outDir string, resolve SourceResolver) *Renderer {
	return &Renderer{OutDir: outDir, Resolve: resolve}
}

// Render trims the candidate's segment and crops it to vertical. Returns
// the output path. Render is invoked at most once per candidate; a failure
// is terminal for the candidate.
func (r *Renderer) Render(ctx context.Context, cand types.ClipCandidate) (string, error) {
	src, err := r.Resolve(cand.SourceVideoID)
	if err != nil {
		return "", fmt.Errorf("resolve source %s: %w", cand.SourceVideoID, err)
	}

	if err := os.MkdirAll(r.OutDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	outputPath := filepath.Join(r.OutDir, fmt.Sprintf("%s.mp4", cand.ID))

	stream := ffmpeg.Input(src, ffmpeg.KwArgs{
		"ss": fmt.Sprintf("%.2f", cand.StartOffset),
	}).
		Output(outputPath, ffmpeg.KwArgs{
			"t":      fmt.Sprintf("%.2f", cand.Duration()),
			"vf":     "crop=ih*9/16:ih,scale=720:1280",
			"c:v":    "libx264",
			"c:a":    "aac",
			"b:a":    "192k",
			"preset": "fast",
			"r":      "30",
		}).
		OverWriteOutput()

	done := make(chan error, 1)
	go func() { done <- stream.Run() }()

	select {
	case err := <-done:
		if err != nil {
			os.Remove(outputPath)
			return "", fmt.Errorf("ffmpeg failed: %w", err)
		}
		return outputPath, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
