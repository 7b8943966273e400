package platforms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const instagramAPIBase = "https://graph.facebook.com/v19.0"

// Instagram publishes clips as Reels through the Instagram Graph API.
// The Graph API ingests media by URL, so clips must already be reachable
// (the S3 artifact store serves that purpose).
type Instagram struct {
	accessToken string
	accountID   string
	baseURL     string
	httpClient  *http.Client

	// ClipURL resolves a local clip path to its public URL
	ClipURL func(path string) string
}

// NewInstagram creates an Instagram Reels poster for the given IG user account
func NewInstagram(accessToken, accountID string, clipURL func(string) string) *Instagram {
	return &Instagram{
		accessToken: accessToken,
		accountID:   accountID,
		baseURL:     instagramAPIBase,
		httpClient:  &http.Client{Timeout: 120 * time.Second},
		ClipURL:     clipURL,
	}
}

func (ig *Instagram) Name() string { return "instagram" }

func (ig *Instagram) PostVideo(ctx context.Context, path string, meta Metadata) (string, error) {
	if ig.ClipURL == nil {
		return "", &TerminalError{Platform: ig.Name(), Err: fmt.Errorf("no clip URL resolver configured")}
	}

	// Step 1: create a media container for the reel
	form := url.Values{}
	form.Set("media_type", "REELS")
	form.Set("video_url", ig.ClipURL(path))
	form.Set("caption", meta.Title)
	form.Set("access_token", ig.accessToken)

	var container struct {
		ID string `json:"id"`
	}
	if err := ig.postForm(ctx, fmt.Sprintf("/%s/media", ig.accountID), form, &container); err != nil {
		return "", err
	}

	// Step 2: publish the container
	publish := url.Values{}
	publish.Set("creation_id", container.ID)
	publish.Set("access_token", ig.accessToken)

	var published struct {
		ID string `json:"id"`
	}
	if err := ig.postForm(ctx, fmt.Sprintf("/%s/media_publish", ig.accountID), publish, &published); err != nil {
		return "", err
	}
	return published.ID, nil
}

func (ig *Instagram) GetStats(ctx context.Context, postID string) (Stats, error) {
	endpoint := fmt.Sprintf("%s/%s/insights?metric=plays,likes,comments,shares&access_token=%s",
		ig.baseURL, postID, url.QueryEscape(ig.accessToken))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Stats{}, &TerminalError{Platform: ig.Name(), Err: err}
	}
	resp, err := ig.httpClient.Do(req)
	if err != nil {
		return Stats{}, &RetryableError{Platform: ig.Name(), Err: err}
	}
	defer resp.Body.Close()
	if err := ig.classifyStatus(resp); err != nil {
		return Stats{}, err
	}

	var parsed struct {
		Data []struct {
			Name   string `json:"name"`
			Values []struct {
				Value int64 `json:"value"`
			} `json:"values"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Stats{}, &RetryableError{Platform: ig.Name(), Err: fmt.Errorf("decode insights: %w", err)}
	}

	var st Stats
	for _, metric := range parsed.Data {
		if len(metric.Values) == 0 {
			continue
		}
		v := metric.Values[0].Value
		switch metric.Name {
		case "plays":
			st.Views = v
		case "likes":
			st.Likes = v
		case "comments":
			st.Comments = v
		case "shares":
			st.Shares = v
		}
	}
	return st, nil
}

func (ig *Instagram) postForm(ctx context.Context, path string, form url.Values, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ig.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return &TerminalError{Platform: ig.Name(), Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ig.httpClient.Do(req)
	if err != nil {
		return &RetryableError{Platform: ig.Name(), Err: err}
	}
	defer resp.Body.Close()

	if err := ig.classifyStatus(resp); err != nil {
		return err
	}
	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return &RetryableError{Platform: ig.Name(), Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}

func (ig *Instagram) classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &RetryableError{Platform: ig.Name(), Err: fmt.Errorf("API returned %d", resp.StatusCode)}
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &TerminalError{Platform: ig.Name(), Err: fmt.Errorf("API returned %d: %s", resp.StatusCode, string(body))}
	}
}
