package feed

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/eduncan911/podcast"

	"podcasty/internal/models"
)

func getBaseURL(r *http.Request) string {
	if baseURL := os.Getenv("BASE_URL"); baseURL != "" {
		return baseURL
	}

	scheme := r.URL.Scheme
	if scheme == "" {
		scheme = "https"
		if r.Header.Get("X-Forwarded-Proto") != "" {
			scheme = r.Header.Get("X-Forwarded-Proto")
		}
	}

	return fmt.Sprintf("%s://%s", scheme, r.Host)
}

// GenerateRSS renders a user's published episodes as a podcast feed.
func GenerateRSS(userID int64, episodes []models.Episode, r *http.Request) (string, error) {
	baseURL := getBaseURL(r)

	p := podcast.New(
		"Podcasty Episodes",
		fmt.Sprintf("%s/api/users/%d/rss", baseURL, userID),
		"AI-generated podcast episodes.",
		&time.Time{}, &time.Time{},
	)

	for _, episode := range episodes {
		if episode.Title == nil || episode.AudioURL == nil {
			continue
		}
		description := "An AI-generated episode."
		if episode.ShowNotes != nil && *episode.ShowNotes != "" {
			description = *episode.ShowNotes
		}
		pubDate := episode.CreatedAt
		item := podcast.Item{
			Title:       *episode.Title,
			Description: description,
			PubDate:     &pubDate,
		}
		// 128kbps CBR, so byte size follows from duration.
		var sizeBytes int64
		if episode.DurationSeconds != nil {
			sizeBytes = int64(*episode.DurationSeconds) * 16000
		}
		item.AddEnclosure(*episode.AudioURL, podcast.MP3, sizeBytes)
		if _, err := p.AddItem(item); err != nil {
			return "", err
		}
	}

	return p.String(), nil
}
