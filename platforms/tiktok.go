package platforms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const tiktokAPIBase = "https://open.tiktokapis.com/v2"

// TikTok publishes clips through the TikTok Content Posting API
type TikTok struct {
	accessToken string
	baseURL     string
	httpClient  *http.Client
}

// NewTikTok creates a TikTok poster with the given access token
func NewTikTok(accessToken string) *TikTok {
	return &TikTok{
		accessToken: accessToken,
		baseURL:     tiktokAPIBase,
		httpClient:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (t *TikTok) Name() string { return "tiktok" }

func (t *TikTok) PostVideo(ctx context.Context, path string, meta Metadata) (string, error) {
	return t.PostVideoStaged(ctx, path, meta, nil)
}

// PostVideoStaged implements ProvisionalPoster: the publish_id exists once
// the init step succeeds, before any bytes are uploaded.
func (t *TikTok) PostVideoStaged(ctx context.Context, path string, meta Metadata, staged func(postID string)) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", &TerminalError{Platform: t.Name(), Err: fmt.Errorf("open clip: %w", err)}
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", &TerminalError{Platform: t.Name(), Err: err}
	}

	// Step 1: initialize the upload and get the destination URL
	var initResp struct {
		Data struct {
			PublishID string `json:"publish_id"`
			UploadURL string `json:"upload_url"`
		} `json:"data"`
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	initReq := map[string]interface{}{
		"post_info": map[string]interface{}{
			"title":           meta.Title,
			"privacy_level":   "PUBLIC_TO_EVERYONE",
			"disable_duet":    false,
			"disable_comment": false,
		},
		"source_info": map[string]interface{}{
			"source":            "FILE_UPLOAD",
			"video_size":        info.Size(),
			"chunk_size":        info.Size(),
			"total_chunk_count": 1,
		},
	}
	if err := t.doJSON(ctx, http.MethodPost, "/post/publish/video/init/", initReq, &initResp); err != nil {
		return "", err
	}
	if initResp.Error.Code != "" && initResp.Error.Code != "ok" {
		return "", &TerminalError{Platform: t.Name(), Err: fmt.Errorf("init rejected: %s: %s", initResp.Error.Code, initResp.Error.Message)}
	}
	if staged != nil {
		staged(initResp.Data.PublishID)
	}

	// Step 2: upload the file to the returned URL
	uploadReq, err := http.NewRequestWithContext(ctx, http.MethodPut, initResp.Data.UploadURL, file)
	if err != nil {
		return "", &TerminalError{Platform: t.Name(), Err: err}
	}
	uploadReq.ContentLength = info.Size()
	uploadReq.Header.Set("Content-Type", "video/mp4")
	uploadReq.Header.Set("Content-Range", fmt.Sprintf("bytes 0-%d/%d", info.Size()-1, info.Size()))

	resp, err := t.httpClient.Do(uploadReq)
	if err != nil {
		return "", &RetryableError{Platform: t.Name(), Err: err}
	}
	defer resp.Body.Close()
	if err := t.classifyStatus(resp); err != nil {
		return "", err
	}

	return initResp.Data.PublishID, nil
}

func (t *TikTok) GetStats(ctx context.Context, postID string) (Stats, error) {
	var statusResp struct {
		Data struct {
			Status  string `json:"status"`
			ViewCnt int64  `json:"view_count"`
			LikeCnt int64  `json:"like_count"`
		} `json:"data"`
	}
	payload := map[string]string{"publish_id": postID}
	if err := t.doJSON(ctx, http.MethodPost, "/post/publish/status/fetch/", payload, &statusResp); err != nil {
		return Stats{}, err
	}
	if statusResp.Data.Status == "FAILED" {
		return Stats{}, &TerminalError{Platform: t.Name(), Err: fmt.Errorf("publish %s failed", postID)}
	}
	return Stats{Views: statusResp.Data.ViewCnt, Likes: statusResp.Data.LikeCnt}, nil
}

func (t *TikTok) doJSON(ctx context.Context, method, path string, payload, result interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &TerminalError{Platform: t.Name(), Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return &TerminalError{Platform: t.Name(), Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+t.accessToken)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return &RetryableError{Platform: t.Name(), Err: err}
	}
	defer resp.Body.Close()

	if err := t.classifyStatus(resp); err != nil {
		return err
	}
	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return &RetryableError{Platform: t.Name(), Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}

// classifyStatus maps HTTP status codes onto the error taxonomy: 429 and
// 5xx clear on their own, 401/403 mean the token is gone for good, other
// 4xx mean the request itself was rejected.
func (t *TikTok) classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &RetryableError{Platform: t.Name(), Err: fmt.Errorf("API returned %d", resp.StatusCode)}
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &TerminalError{Platform: t.Name(), Err: fmt.Errorf("API returned %d: %s", resp.StatusCode, string(body))}
	}
}
