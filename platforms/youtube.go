package platforms

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	youtube "google.golang.org/api/youtube/v3"
)

// YouTube publishes clips as Shorts through the YouTube Data API using a
// service account.
type YouTube struct {
	service    *youtube.Service
	categoryID string
	privacy    string
}

// YouTubeConfig configures the YouTube poster
type YouTubeConfig struct {
	ServiceAccountFile string
	CategoryID         string // defaults to "24" (Entertainment)
	PrivacyStatus      string // defaults to "public"
}

// NewYouTube creates a YouTube poster from a service account credentials file
func NewYouTube(ctx context.Context, cfg YouTubeConfig) (*YouTube, error) {
	data, err := os.ReadFile(cfg.ServiceAccountFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read service account file: %w", err)
	}

	jwt, err := google.JWTConfigFromJSON(data, youtube.YoutubeUploadScope, youtube.YoutubeReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse service account: %w", err)
	}

	service, err := youtube.NewService(ctx, option.WithHTTPClient(jwt.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create YouTube service: %w", err)
	}

	yt := &YouTube{
		service:    service,
		categoryID: cfg.CategoryID,
		privacy:    cfg.PrivacyStatus,
	}
	if yt.categoryID == "" {
		yt.categoryID = "24"
	}
	if yt.privacy == "" {
		yt.privacy = "public"
	}
	return yt, nil
}

func (y *YouTube) Name() string { return "youtube" }

func (y *YouTube) PostVideo(ctx context.Context, path string, meta Metadata) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", &TerminalError{Platform: y.Name(), Err: fmt.Errorf("open clip: %w", err)}
	}
	defer file.Close()

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       meta.Title,
			Description: meta.Description,
			Tags:        stripHashes(meta.Hashtags),
			CategoryId:  y.categoryID,
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus:           y.privacy,
			SelfDeclaredMadeForKids: false,
		},
	}

	call := y.service.Videos.Insert([]string{"snippet", "status"}, video).
		Context(ctx).
		Media(file)

	resp, err := call.Do()
	if err != nil {
		return "", y.classify(err)
	}
	return resp.Id, nil
}

func (y *YouTube) GetStats(ctx context.Context, postID string) (Stats, error) {
	resp, err := y.service.Videos.List([]string{"statistics"}).
		Id(postID).
		Context(ctx).
		Do()
	if err != nil {
		return Stats{}, y.classify(err)
	}
	if len(resp.Items) == 0 {
		return Stats{}, &TerminalError{Platform: y.Name(), Err: fmt.Errorf("video %s not found", postID)}
	}
	st := resp.Items[0].Statistics
	return Stats{
		Views:    int64(st.ViewCount),
		Likes:    int64(st.LikeCount),
		Comments: int64(st.CommentCount),
	}, nil
}

// classify maps API errors onto the scheduler's retryable/terminal taxonomy.
// 403 uploadLimitExceeded counts as retryable since the daily limit clears.
func (y *YouTube) classify(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500:
			return &RetryableError{Platform: y.Name(), Err: err}
		case apiErr.Code == http.StatusForbidden && strings.Contains(apiErr.Message, "uploadLimitExceeded"):
			return &RetryableError{Platform: y.Name(), Err: err}
		default:
			return &TerminalError{Platform: y.Name(), Err: err}
		}
	}
	// Transport-level failures (connection reset, timeout) are retryable
	return &RetryableError{Platform: y.Name(), Err: err}
}

func stripHashes(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, strings.TrimPrefix(t, "#"))
	}
	return out
}
