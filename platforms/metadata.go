package platforms

import "strings"

// Per-platform caption limits
const (
	youtubeTitleLimit     = 100
	tiktokCaptionLimit    = 150
	instagramCaptionLimit = 2200

	youtubeHashtagMax   = 15
	tiktokHashtagMax    = 10
	instagramHashtagMax = 20
)

// ShapeMetadata adapts a clip's base metadata to one platform's conventions:
// YouTube keeps hashtags in the description under its 100-char title limit,
// TikTok folds hashtags into the caption, Instagram puts everything into a
// single caption.
func ShapeMetadata(platform string, meta Metadata, extraHashtags []string) Metadata {
	tags := mergeHashtags(meta.Hashtags, extraHashtags)
	out := meta
	out.Hashtags = tags

	switch platform {
	case "youtube":
		out.Title = truncate(meta.Title, youtubeTitleLimit)
		out.Description = meta.Description + "\n\n" + strings.Join(capTags(tags, youtubeHashtagMax), " ")
	case "tiktok":
		out.Title = truncate(meta.Title+" "+strings.Join(capTags(tags, tiktokHashtagMax), " "), tiktokCaptionLimit)
		out.Description = meta.Description
	case "instagram":
		caption := meta.Title + "\n\n" + meta.Description + "\n\n" + strings.Join(capTags(tags, instagramHashtagMax), " ")
		out.Title = truncate(caption, instagramCaptionLimit)
		out.Description = ""
	}
	return out
}

func mergeHashtags(base, extra []string) []string {
	seen := make(map[string]bool, len(base)+len(extra))
	var out []string
	for _, t := range append(append([]string{}, base...), extra...) {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if !strings.HasPrefix(t, "#") {
			t = "#" + t
		}
		key := strings.ToLower(t)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}

func capTags(tags []string, n int) []string {
	if len(tags) > n {
		return tags[:n]
	}
	return tags
}

// truncate caps s at n characters. Platform limits count characters, not
// bytes, so slicing happens on runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
