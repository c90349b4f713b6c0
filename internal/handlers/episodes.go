package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"podcasty/internal/db"
	"podcasty/internal/feed"
	"podcasty/internal/models"
	"podcasty/internal/worker"
	"podcasty/pkg/tasks"
)

// Handlers serves the episode API. When no queue client is configured the
// pipeline runs on a background goroutine with its own error boundary
// instead of being silently dropped.
type Handlers struct {
	enqueuer tasks.TaskEnqueuer
	pipeline worker.Processor
}

func New(enqueuer tasks.TaskEnqueuer, p worker.Processor) *Handlers {
	return &Handlers{enqueuer: enqueuer, pipeline: p}
}

type createEpisodeRequest struct {
	SourceKind    string `json:"source_kind"`
	SourcePayload string `json:"source_payload"`
	Mode          string `json:"mode"`
	TargetMinutes int    `json:"target_minutes"`
	Language      string `json:"language"`
	Style         string `json:"style"`
	SpeakerCount  int    `json:"speaker_count"`
	VoiceA        string `json:"voice_a"`
	VoiceB        string `json:"voice_b"`
	SpeakerNameA  string `json:"speaker_name_a"`
	SpeakerNameB  string `json:"speaker_name_b"`
	WithIntro     bool   `json:"with_intro"`
	WithOutro     bool   `json:"with_outro"`
	WithChapters  bool   `json:"with_chapters"`
	CoverImageURL string `json:"cover_image_url"`
	Public        bool   `json:"public"`
}

type episodeResponse struct {
	ID              string    `json:"id"`
	Status          string    `json:"status"`
	Progress        int       `json:"progress"`
	Title           *string   `json:"title,omitempty"`
	Script          *string   `json:"script,omitempty"`
	Chapters        []string  `json:"chapters,omitempty"`
	ShowNotes       *string   `json:"show_notes,omitempty"`
	AudioURL        *string   `json:"audio_url,omitempty"`
	VideoURL        *string   `json:"video_url,omitempty"`
	DurationSeconds *int      `json:"duration_seconds,omitempty"`
	ErrorMessage    *string   `json:"error_message,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

func toEpisodeResponse(ep models.Episode) episodeResponse {
	status := ep.Status.Normalize()
	return episodeResponse{
		ID:              ep.ID,
		Status:          string(status),
		Progress:        status.Progress(),
		Title:           ep.Title,
		Script:          ep.Script,
		Chapters:        ep.Chapters,
		ShowNotes:       ep.ShowNotes,
		AudioURL:        ep.AudioURL,
		VideoURL:        ep.VideoURL,
		DurationSeconds: ep.DurationSeconds,
		ErrorMessage:    ep.ErrorMessage,
		CreatedAt:       ep.CreatedAt,
	}
}

func (h *Handlers) CreateEpisode(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.Header.Get("X-User-ID"), 10, 64)
	if err != nil {
		http.Error(w, "Missing or invalid X-User-ID header", http.StatusBadRequest)
		return
	}

	var req createEpisodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := validateCreateRequest(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	episode, err := db.CreateEpisode(models.Episode{
		UserID:        userID,
		SourceKind:    req.SourceKind,
		SourcePayload: req.SourcePayload,
		Mode:          req.Mode,
		TargetMinutes: req.TargetMinutes,
		Language:      req.Language,
		Style:         req.Style,
		SpeakerCount:  req.SpeakerCount,
		VoiceA:        req.VoiceA,
		VoiceB:        req.VoiceB,
		SpeakerNameA:  req.SpeakerNameA,
		SpeakerNameB:  req.SpeakerNameB,
		WithIntro:     req.WithIntro,
		WithOutro:     req.WithOutro,
		WithChapters:  req.WithChapters,
		CoverImageURL: req.CoverImageURL,
		Public:        req.Public,
	})
	if err != nil {
		log.Printf("Error creating episode: %v", err)
		http.Error(w, "Failed to create episode", http.StatusInternalServerError)
		return
	}

	h.dispatch(episode.ID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(toEpisodeResponse(episode))
}

// dispatch hands the episode to the queue, or spawns the pipeline directly
// when no queue is available.
func (h *Handlers) dispatch(episodeID string) {
	if h.enqueuer != nil {
		task, err := tasks.NewProcessEpisodeTask(episodeID)
		if err == nil {
			if _, err = h.enqueuer.Enqueue(task); err == nil {
				return
			}
		}
		log.Printf("Failed to enqueue episode %s, falling back to direct run: %v", episodeID, err)
	}

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("Pipeline panic for episode %s: %v", episodeID, rec)
				db.UpdateEpisodeFailed(episodeID, fmt.Sprintf("internal error: %v", rec))
			}
		}()
		if err := h.pipeline.Process(context.Background(), episodeID); err != nil {
			log.Printf("Direct pipeline run for episode %s: %v", episodeID, err)
		}
	}()
}

func (h *Handlers) GetEpisode(w http.ResponseWriter, r *http.Request) {
	episode, err := db.GetEpisodeByID(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Episode not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toEpisodeResponse(episode))
}

type eventResponse struct {
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *Handlers) ListEpisodeEvents(w http.ResponseWriter, r *http.Request) {
	events, err := db.ListEventsByEpisodeID(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Failed to list events", http.StatusInternalServerError)
		return
	}

	out := make([]eventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, eventResponse{Kind: ev.Kind, Message: ev.Message, CreatedAt: ev.CreatedAt})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (h *Handlers) UserFeed(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(mux.Vars(r)["userID"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid user id", http.StatusBadRequest)
		return
	}

	episodes, err := db.GetPublishedEpisodesByUserID(userID)
	if err != nil {
		http.Error(w, "Failed to load episodes", http.StatusInternalServerError)
		return
	}

	rss, err := feed.GenerateRSS(userID, episodes, r)
	if err != nil {
		http.Error(w, "Failed to generate feed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/rss+xml")
	w.Write([]byte(rss))
}

func validateCreateRequest(req *createEpisodeRequest) error {
	switch req.SourceKind {
	case models.SourceWebLink, models.SourceVideoLink, models.SourceUploadedText, models.SourceRawPrompt:
	default:
		return fmt.Errorf("unknown source_kind %q", req.SourceKind)
	}
	switch req.Mode {
	case models.ModeSummary, models.ModeReadThrough, models.ModeDiscussion:
	default:
		return fmt.Errorf("unknown mode %q", req.Mode)
	}
	if req.SourcePayload == "" {
		return fmt.Errorf("source_payload is required")
	}
	if req.TargetMinutes < 1 || req.TargetMinutes > 30 {
		return fmt.Errorf("target_minutes must be between 1 and 30")
	}
	if req.SpeakerCount != 1 && req.SpeakerCount != 2 {
		return fmt.Errorf("speaker_count must be 1 or 2")
	}
	if req.VoiceA == "" {
		return fmt.Errorf("voice_a is required")
	}
	if req.SpeakerCount == 2 && req.VoiceB == "" {
		return fmt.Errorf("voice_b is required for two speakers")
	}
	return nil
}
