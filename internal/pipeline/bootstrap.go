package pipeline

import (
	"log"
	"net/http"
	"os"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"podcasty/internal/audioproc"
	"podcasty/internal/ingest"
	"podcasty/internal/script"
	"podcasty/internal/storage"
	"podcasty/internal/tts"
	"podcasty/internal/video"
)

// NewFromEnv constructs a fully wired pipeline from process configuration.
// Clients are built here, once, and injected; nothing in the pipeline
// reaches for ambient globals.
func NewFromEnv() *Pipeline {
	var primary, fallback *openai.Client
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		primary = openai.NewClient(key)
	}
	if key := os.Getenv("FALLBACK_LLM_API_KEY"); key != "" {
		cfg := openai.DefaultConfig(key)
		if base := os.Getenv("FALLBACK_LLM_BASE_URL"); base != "" {
			cfg.BaseURL = base
		}
		fallback = openai.NewClientWithConfig(cfg)
	}
	if primary == nil && fallback == nil {
		log.Println("Warning: no LLM provider configured, script generation will fail")
	}

	var ttsClient *openai.Client
	if key := os.Getenv("TTS_API_KEY"); key != "" {
		ttsClient = openai.NewClient(key)
	} else {
		ttsClient = primary
	}

	store := storage.NewMinioStoreFromEnv()

	p := &Pipeline{
		Ingestor:    ingest.New(&http.Client{Timeout: 30 * time.Second}),
		Scripts:     script.NewGenerator(primary, fallback, os.Getenv("LLM_MODEL"), os.Getenv("FALLBACK_LLM_MODEL")),
		Synthesizer: tts.NewSynthesizer(ttsClient),
		Audio:       audioproc.NewProcessor(),
		Store:       store,
	}

	if key := os.Getenv("LIPSYNC_API_KEY"); key != "" {
		lipsync := video.NewLipsyncClient(key, os.Getenv("LIPSYNC_BASE_URL"))
		p.Video = video.NewCoordinator(lipsync, store)
		p.Merger = video.NewMerger(lipsync, store)
	}
	return p
}
