package db

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"podcasty/internal/models"
)

// CreateEpisode inserts a new episode in the CREATED state and returns it.
func CreateEpisode(e models.Episode) (models.Episode, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	episode := models.Episode{}
	err := DB.Get(&episode, `
		INSERT INTO episodes (
			id, user_id, source_kind, source_payload, mode, target_minutes,
			language, style, speaker_count, voice_a, voice_b,
			speaker_name_a, speaker_name_b, with_intro, with_outro,
			with_chapters, cover_image_url, public, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING *`,
		e.ID, e.UserID, e.SourceKind, e.SourcePayload, e.Mode, e.TargetMinutes,
		e.Language, e.Style, e.SpeakerCount, e.VoiceA, e.VoiceB,
		e.SpeakerNameA, e.SpeakerNameB, e.WithIntro, e.WithOutro,
		e.WithChapters, e.CoverImageURL, e.Public, models.StatusCreated)
	return episode, err
}

func GetEpisodeByID(id string) (models.Episode, error) {
	episode := models.Episode{}
	err := DB.Get(&episode, "SELECT * FROM episodes WHERE id = $1", id)
	return episode, err
}

func GetPublishedEpisodesByUserID(userID int64) ([]models.Episode, error) {
	var episodes []models.Episode
	err := DB.Select(&episodes, `
		SELECT * FROM episodes
		WHERE user_id = $1 AND status = $2 AND public = TRUE
		ORDER BY created_at DESC`, userID, models.StatusPublished)
	return episodes, err
}

// GetStaleCreatedEpisodeIDs returns episodes still CREATED after the given
// number of minutes. Used by the reaper to recover lost queue messages.
func GetStaleCreatedEpisodeIDs(olderThanMinutes int) ([]string, error) {
	var ids []string
	err := DB.Select(&ids, `
		SELECT id FROM episodes
		WHERE status = $1 AND created_at < NOW() - ($2 * INTERVAL '1 minute')`,
		models.StatusCreated, olderThanMinutes)
	return ids, err
}

func UpdateEpisodeStatus(id string, status models.Status) error {
	_, err := DB.Exec("UPDATE episodes SET status = $1, updated_at = NOW() WHERE id = $2", status, id)
	return err
}

// ClaimEpisode transitions CREATED -> INGESTING, acting as a per-episode
// mutual-exclusion lease: only one caller observes the transition.
func ClaimEpisode(id string) (bool, error) {
	res, err := DB.Exec(
		"UPDATE episodes SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
		models.StatusIngesting, id, models.StatusCreated)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func UpdateEpisodeScript(id string, title, script string, wpm int, chapters []string, showNotes string) error {
	_, err := DB.Exec(`
		UPDATE episodes
		SET title = $1, script = $2, wpm = $3, chapters = $4, show_notes = $5, updated_at = NOW()
		WHERE id = $6`,
		title, script, wpm, pq.StringArray(chapters), showNotes, id)
	return err
}

func UpdateEpisodeAudio(id string, audioURL string, durationSeconds int) error {
	_, err := DB.Exec(`
		UPDATE episodes
		SET audio_url = $1, duration_seconds = $2, updated_at = NOW()
		WHERE id = $3`,
		audioURL, durationSeconds, id)
	return err
}

func UpdateEpisodeVideo(id string, videoURL string) error {
	_, err := DB.Exec("UPDATE episodes SET video_url = $1, updated_at = NOW() WHERE id = $2", videoURL, id)
	return err
}

// UpdateEpisodeVideoJobIDs persists the lipsync provider job ids so a later
// repair never has to re-derive them from log text.
func UpdateEpisodeVideoJobIDs(id string, jobIDs []string) error {
	_, err := DB.Exec("UPDATE episodes SET video_job_ids = $1, updated_at = NOW() WHERE id = $2", pq.StringArray(jobIDs), id)
	return err
}

func UpdateEpisodePublished(id string) error {
	_, err := DB.Exec("UPDATE episodes SET status = $1, updated_at = NOW() WHERE id = $2", models.StatusPublished, id)
	return err
}

func UpdateEpisodeFailed(id string, errMsg string) error {
	_, err := DB.Exec(`
		UPDATE episodes
		SET status = $1, error_message = $2, updated_at = NOW()
		WHERE id = $3`,
		models.StatusFailed, errMsg, id)
	return err
}
