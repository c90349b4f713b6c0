package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"podcasty/internal/db"
	"podcasty/internal/pipeline"
	"podcasty/pkg/tasks"
)

// Processor runs the generation pipeline for one episode.
type Processor interface {
	Process(ctx context.Context, episodeID string) error
}

type TaskHandler struct {
	pipeline    Processor
	asynqClient tasks.TaskEnqueuer
}

func NewTaskHandler(p Processor, client tasks.TaskEnqueuer) *TaskHandler {
	return &TaskHandler{pipeline: p, asynqClient: client}
}

func (h *TaskHandler) HandleProcessEpisodeTask(ctx context.Context, t *asynq.Task) error {
	var p tasks.ProcessEpisodeTaskPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}

	log.Printf("Processing episode: %s", p.EpisodeID)

	err := h.pipeline.Process(ctx, p.EpisodeID)
	if errors.Is(err, pipeline.ErrAlreadyClaimed) {
		// Duplicate delivery; the owning run already has the lease.
		log.Printf("Episode %s already claimed, dropping task", p.EpisodeID)
		return nil
	}
	if err != nil {
		// The pipeline has persisted FAILED; retrying cannot succeed
		// because the lease is spent.
		return fmt.Errorf("episode %s failed: %v: %w", p.EpisodeID, err, asynq.SkipRetry)
	}

	log.Printf("Successfully processed episode: %s", p.EpisodeID)
	return nil
}

// HandleReapStaleEpisodesTask re-enqueues episodes that never left CREATED,
// covering lost queue messages. The lease keeps re-enqueuing safe.
func (h *TaskHandler) HandleReapStaleEpisodesTask(ctx context.Context, t *asynq.Task) error {
	ids, err := db.GetStaleCreatedEpisodeIDs(15)
	if err != nil {
		return fmt.Errorf("failed to list stale episodes: %w", err)
	}

	for _, id := range ids {
		task, err := tasks.NewProcessEpisodeTask(id)
		if err != nil {
			log.Printf("failed to create process task for episode %s: %v", id, err)
			continue
		}
		if _, err := h.asynqClient.Enqueue(task); err != nil {
			log.Printf("failed to enqueue process task for episode %s: %v", id, err)
			continue
		}
		log.Printf("Re-enqueued stale episode %s", id)
	}
	return nil
}
