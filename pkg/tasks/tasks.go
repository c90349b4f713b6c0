package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	TypeProcessEpisode    = "episode:process"
	TypeReapStaleEpisodes = "episodes:reap"
)

type ProcessEpisodeTaskPayload struct {
	EpisodeID string
}

func NewProcessEpisodeTask(episodeID string) (*asynq.Task, error) {
	payload, err := json.Marshal(ProcessEpisodeTaskPayload{EpisodeID: episodeID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeProcessEpisode, payload), nil
}

func NewReapStaleEpisodesTask() (*asynq.Task, error) {
	return asynq.NewTask(TypeReapStaleEpisodes, nil), nil
}
