package models

import (
	"time"

	"github.com/lib/pq"
)

// Source kinds accepted by the ingestor.
const (
	SourceWebLink      = "web_link"
	SourceVideoLink    = "video_link"
	SourceUploadedText = "uploaded_text"
	SourceRawPrompt    = "raw_prompt"
)

// Generation modes.
const (
	ModeSummary     = "summary"
	ModeReadThrough = "read_through"
	ModeDiscussion  = "discussion"
)

type Episode struct {
	ID            string `db:"id"`
	UserID        int64  `db:"user_id"`
	SourceKind    string `db:"source_kind"`
	SourcePayload string `db:"source_payload"`
	Mode          string `db:"mode"`
	TargetMinutes int    `db:"target_minutes"`
	Language      string `db:"language"`
	Style         string `db:"style"`
	SpeakerCount  int    `db:"speaker_count"`
	VoiceA        string `db:"voice_a"`
	VoiceB        string `db:"voice_b"`
	SpeakerNameA  string `db:"speaker_name_a"`
	SpeakerNameB  string `db:"speaker_name_b"`
	WithIntro     bool   `db:"with_intro"`
	WithOutro     bool   `db:"with_outro"`
	WithChapters  bool   `db:"with_chapters"`
	CoverImageURL string `db:"cover_image_url"`
	Public        bool   `db:"public"`

	Status Status `db:"status"`

	Title           *string        `db:"title"`
	Script          *string        `db:"script"`
	WPM             *int           `db:"wpm"`
	Chapters        pq.StringArray `db:"chapters"`
	ShowNotes       *string        `db:"show_notes"`
	AudioURL        *string        `db:"audio_url"`
	VideoURL        *string        `db:"video_url"`
	DurationSeconds *int           `db:"duration_seconds"`
	ErrorMessage    *string        `db:"error_message"`
	VideoJobIDs     pq.StringArray `db:"video_job_ids"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// EpisodeEvent is one append-only entry in an episode's event trail.
type EpisodeEvent struct {
	ID        int64     `db:"id"`
	EpisodeID string    `db:"episode_id"`
	UserID    int64     `db:"user_id"`
	Kind      string    `db:"kind"`
	Message   string    `db:"message"`
	CreatedAt time.Time `db:"created_at"`
}

// Event kind tags.
const (
	EventStage  = "stage"
	EventSubmit = "submit"
	EventPoll   = "poll"
	EventWarn   = "warn"
	EventError  = "error"
	EventInfo   = "info"
)
