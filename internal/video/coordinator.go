package video

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"podcasty/internal/storage"
)

// Coordinator fans out lipsync generation over audio segments: submit all,
// poll all, mirror completed outputs to owned storage. Failures stay
// per-segment; the pipeline proceeds with whatever subset completed.
type Coordinator struct {
	Client       *LipsyncClient
	Store        storage.Store
	HTTPClient   *http.Client
	PollInterval time.Duration
	MaxPolls     int
}

func NewCoordinator(client *LipsyncClient, store storage.Store) *Coordinator {
	return &Coordinator{
		Client:       client,
		Store:        store,
		HTTPClient:   &http.Client{Timeout: 2 * time.Minute},
		PollInterval: 10 * time.Second,
		MaxPolls:     90,
	}
}

// Enabled reports whether the lipsync provider is configured at all.
func (c *Coordinator) Enabled() bool {
	return c != nil && c.Client != nil && c.Client.APIKey != ""
}

// RenderSegments runs the full submit/poll/mirror cycle and returns the
// segments with their terminal statuses. Submission failures for one
// segment never block the others.
func (c *Coordinator) RenderSegments(ctx context.Context, segments []Segment, imageURL string, logf Logf) []Segment {
	for i := range segments {
		seg := &segments[i]
		jobID, err := c.Client.Submit(ctx, seg.AudioURL, imageURL)
		if err != nil {
			seg.Status = SegmentFailed
			logf("error", fmt.Sprintf("segment %d: submit failed: %v", seg.Index, err))
			continue
		}
		seg.JobID = jobID
		seg.Status = SegmentProcessing
		logf("submit", fmt.Sprintf("segment %d: submitted as job %s", seg.Index, jobID))
	}

	for attempt := 0; attempt < c.MaxPolls && anyProcessing(segments); attempt++ {
		select {
		case <-ctx.Done():
			logf("warn", "video polling cancelled")
			failRemaining(segments, logf)
			return segments
		case <-time.After(c.PollInterval):
		}

		for i := range segments {
			seg := &segments[i]
			if seg.Status != SegmentProcessing {
				continue
			}
			c.pollSegment(ctx, seg, logf)
		}
	}

	// Anything still processing at the attempt bound is failed by omission.
	failRemaining(segments, logf)
	return segments
}

func (c *Coordinator) pollSegment(ctx context.Context, seg *Segment, logf Logf) {
	result, err := c.Client.Poll(ctx, seg.JobID)
	if err != nil {
		logf("poll", fmt.Sprintf("segment %d: poll error: %v", seg.Index, err))
		return
	}

	switch {
	case result.ErrMsg != "" || strings.EqualFold(result.Status, "failed"):
		seg.Status = SegmentFailed
		logf("error", fmt.Sprintf("segment %d: provider reported failure: %s %s", seg.Index, result.Status, result.ErrMsg))
	case strings.EqualFold(result.Status, "succeeded"):
		if result.OutputURL == "" {
			seg.Status = SegmentFailed
			logf("error", fmt.Sprintf("segment %d: succeeded without an output url", seg.Index))
			return
		}
		owned, err := mirror(ctx, c.HTTPClient, c.Store, result.OutputURL, "video/mp4", ".mp4", "video/segments")
		if err != nil {
			// No automatic retry here: the segment is logged and excluded.
			seg.Status = SegmentFailed
			logf("error", fmt.Sprintf("segment %d: mirror failed: %v", seg.Index, err))
			return
		}
		seg.VideoURL = owned
		seg.Status = SegmentCompleted
		logf("poll", fmt.Sprintf("segment %d: completed", seg.Index))
	default:
		// Still in flight, keep polling.
	}
}

// CompletedURLs returns the owned video URLs in original segment order.
func CompletedURLs(segments []Segment) []string {
	var urls []string
	for _, seg := range segments {
		if seg.Status == SegmentCompleted {
			urls = append(urls, seg.VideoURL)
		}
	}
	return urls
}

// JobIDs returns every provider job id that was issued, in segment order.
func JobIDs(segments []Segment) []string {
	var ids []string
	for _, seg := range segments {
		if seg.JobID != "" {
			ids = append(ids, seg.JobID)
		}
	}
	return ids
}

func anyProcessing(segments []Segment) bool {
	for _, seg := range segments {
		if seg.Status == SegmentProcessing {
			return true
		}
	}
	return false
}

func failRemaining(segments []Segment, logf Logf) {
	for i := range segments {
		if segments[i].Status == SegmentProcessing {
			segments[i].Status = SegmentFailed
			logf("warn", fmt.Sprintf("segment %d: still processing at poll bound, excluded", segments[i].Index))
		}
	}
}

// mirror downloads a provider result and re-uploads it to owned storage.
func mirror(ctx context.Context, client *http.Client, store storage.Store, rawURL, contentType, ext, prefix string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}

	obj, err := store.Upload(ctx, data, contentType, ext, prefix)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	return obj.URL, nil
}
