package db

import (
	"log"

	"podcasty/internal/models"
)

// AppendEvent adds one entry to an episode's event trail. The trail is
// observability for the polling client; a failed append must not abort the
// pipeline, so callers treat errors as log-and-continue.
func AppendEvent(episodeID string, userID int64, kind, message string) error {
	_, err := DB.Exec(`
		INSERT INTO episode_events (episode_id, user_id, kind, message)
		VALUES ($1, $2, $3, $4)`,
		episodeID, userID, kind, message)
	if err != nil {
		log.Printf("Error appending event for episode %s: %v", episodeID, err)
	}
	return err
}

func ListEventsByEpisodeID(episodeID string) ([]models.EpisodeEvent, error) {
	var events []models.EpisodeEvent
	err := DB.Select(&events, `
		SELECT * FROM episode_events
		WHERE episode_id = $1
		ORDER BY created_at ASC, id ASC`, episodeID)
	return events, err
}
