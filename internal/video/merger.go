package video

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"podcasty/internal/storage"
)

// Merger submits completed segment videos to the async concat API and
// mirrors the composite result to owned storage. All failures here are
// non-fatal to the episode; the caller degrades to audio-only.
type Merger struct {
	Client       *LipsyncClient
	Store        storage.Store
	HTTPClient   *http.Client
	PollInterval time.Duration
	MaxPolls     int
}

func NewMerger(client *LipsyncClient, store storage.Store) *Merger {
	return &Merger{
		Client:       client,
		Store:        store,
		HTTPClient:   &http.Client{Timeout: 2 * time.Minute},
		PollInterval: 10 * time.Second,
		MaxPolls:     30,
	}
}

// Merge concatenates the segment videos, in the order given, into one
// composite and returns its owned URL.
func (m *Merger) Merge(ctx context.Context, videoURLs []string, audioURL string, logf Logf) (string, error) {
	body := map[string]interface{}{
		"video_urls":          videoURLs,
		"reference_audio_url": audioURL,
		"async":               true,
	}

	decoded, err := m.Client.postJSON(ctx, m.Client.BaseURL+"/merges", body)
	if err != nil {
		return "", fmt.Errorf("merge submit: %w", err)
	}
	logf("submit", fmt.Sprintf("merge submitted for %d segments", len(videoURLs)))

	// Some responses carry the download URL directly, others a job to poll.
	outputURL := ExtractString(decoded, "output.url", "data.output_url", "video_url", "result.video_url", "download_url")
	if outputURL == "" {
		jobID := ExtractString(decoded, "id", "data.id", "job_id")
		if jobID == "" {
			return "", fmt.Errorf("merge response carries neither output url nor job id")
		}
		outputURL, err = m.pollMerge(ctx, jobID, logf)
		if err != nil {
			return "", err
		}
	}

	owned, err := mirror(ctx, m.HTTPClient, m.Store, outputURL, "video/mp4", ".mp4", "video/final")
	if err != nil {
		return "", fmt.Errorf("merge download: %w", err)
	}
	return owned, nil
}

func (m *Merger) pollMerge(ctx context.Context, jobID string, logf Logf) (string, error) {
	for attempt := 0; attempt < m.MaxPolls; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(m.PollInterval):
		}

		result, err := m.Client.Poll(ctx, jobID)
		if err != nil {
			logf("poll", fmt.Sprintf("merge job %s: poll error: %v", jobID, err))
			continue
		}
		if result.ErrMsg != "" || strings.EqualFold(result.Status, "failed") {
			return "", fmt.Errorf("merge job %s failed: %s %s", jobID, result.Status, result.ErrMsg)
		}
		if strings.EqualFold(result.Status, "succeeded") && result.OutputURL != "" {
			return result.OutputURL, nil
		}
	}
	return "", fmt.Errorf("merge job %s did not complete within poll bound", jobID)
}
