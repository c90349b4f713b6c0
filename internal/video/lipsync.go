package video

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"
)

// SegmentStatus tracks one fan-out unit through submit/poll/download.
type SegmentStatus string

const (
	SegmentPending    SegmentStatus = "pending"
	SegmentProcessing SegmentStatus = "processing"
	SegmentCompleted  SegmentStatus = "completed"
	SegmentFailed     SegmentStatus = "failed"
)

// Segment is one unit of lipsync work, owned by a single pipeline run.
type Segment struct {
	Index    int
	AudioURL string
	JobID    string
	VideoURL string
	Status   SegmentStatus
}

// Logf receives event-trail entries for meaningful external-call outcomes.
type Logf func(kind, msg string)

const lipsyncPrompt = "A person speaking naturally to camera, subtle head motion, accurate lipsync"

// LipsyncClient talks to the async lipsync generation API.
type LipsyncClient struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

func NewLipsyncClient(apiKey, baseURL string) *LipsyncClient {
	return &LipsyncClient{
		APIKey:     apiKey,
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Submit posts one audio segment plus the character image and returns the
// provider job id.
func (c *LipsyncClient) Submit(ctx context.Context, audioURL, imageURL string) (string, error) {
	body := map[string]interface{}{
		"audio_url": audioURL,
		"image_url": imageURL,
		"prompt":    lipsyncPrompt,
		"seed":      rand.Intn(1 << 30),
	}

	decoded, err := c.postJSON(ctx, c.BaseURL+"/generations", body)
	if err != nil {
		return "", err
	}

	jobID := ExtractString(decoded, "id", "data.id", "generation.id", "job_id")
	if jobID == "" {
		return "", fmt.Errorf("no job id in submit response")
	}
	return jobID, nil
}

// PollResult is one poll observation for a provider job.
type PollResult struct {
	Status    string
	OutputURL string
	ErrMsg    string
}

// Poll fetches the current state of a provider job, extracting the output
// URL defensively across the provider's known response shapes.
func (c *LipsyncClient) Poll(ctx context.Context, jobID string) (PollResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/generations/"+jobID, nil)
	if err != nil {
		return PollResult{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return PollResult{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return PollResult{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return PollResult{}, fmt.Errorf("poll status %d: %s", resp.StatusCode, raw)
	}

	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return PollResult{}, fmt.Errorf("decode poll response: %w", err)
	}

	return PollResult{
		Status:    ExtractString(decoded, "status", "data.status", "generation.status"),
		OutputURL: ExtractString(decoded, "output.url", "data.output_url", "video_url", "result.video_url", "data.video.url"),
		ErrMsg:    ExtractString(decoded, "error", "data.error", "error.message"),
	}, nil
}

func (c *LipsyncClient) postJSON(ctx context.Context, url string, body interface{}) (interface{}, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, raw)
	}

	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return decoded, nil
}
