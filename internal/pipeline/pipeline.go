package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"podcasty/internal/audioproc"
	"podcasty/internal/db"
	"podcasty/internal/ingest"
	"podcasty/internal/models"
	"podcasty/internal/script"
	"podcasty/internal/storage"
	"podcasty/internal/video"
)

// ErrAlreadyClaimed means another run holds (or held) this episode's lease.
var ErrAlreadyClaimed = errors.New("episode already claimed by another run")

// Sources other than raw prompts must yield at least this much text.
const minSourceChars = 40

type ContentIngestor interface {
	Ingest(ctx context.Context, kind, payload string) (string, error)
}

type ScriptGenerator interface {
	Generate(ctx context.Context, sourceText string, opts script.Options) (*script.Document, error)
}

type SpeechSynthesizer interface {
	SynthesizeNarration(ctx context.Context, text, voice string) ([]byte, error)
	SynthesizeDialogue(ctx context.Context, text string, turns []script.Turn, voiceA, voiceB, nameA, nameB string) ([]byte, error)
}

type AudioProcessor interface {
	Process(ctx context.Context, raw []byte) ([]byte, error)
}

type VideoRenderer interface {
	Enabled() bool
	RenderSegments(ctx context.Context, segments []video.Segment, imageURL string, logf video.Logf) []video.Segment
}

type VideoMerger interface {
	Merge(ctx context.Context, videoURLs []string, audioURL string, logf video.Logf) (string, error)
}

// Pipeline drives one episode through the generation state machine. All
// collaborators are injected; the pipeline owns no ambient state beyond
// the episode record it is processing.
type Pipeline struct {
	Ingestor    ContentIngestor
	Scripts     ScriptGenerator
	Synthesizer SpeechSynthesizer
	Audio       AudioProcessor
	Video       VideoRenderer
	Merger      VideoMerger
	Store       storage.Store
}

// Process runs the whole pipeline for one episode. Fatal errors are
// persisted as FAILED with an error message and a final error event before
// being returned.
func (p *Pipeline) Process(ctx context.Context, episodeID string) error {
	ep, err := db.GetEpisodeByID(episodeID)
	if err != nil {
		return fmt.Errorf("load episode %s: %w", episodeID, err)
	}

	claimed, err := db.ClaimEpisode(ep.ID)
	if err != nil {
		return fmt.Errorf("claim episode %s: %w", ep.ID, err)
	}
	if !claimed {
		log.Printf("Episode %s is not claimable (status %s), skipping", ep.ID, ep.Status)
		return ErrAlreadyClaimed
	}

	if err := p.run(ctx, &ep); err != nil {
		log.Printf("Episode %s failed: %v", ep.ID, err)
		if dbErr := db.UpdateEpisodeFailed(ep.ID, err.Error()); dbErr != nil {
			log.Printf("Failed to persist failure for episode %s: %v", ep.ID, dbErr)
		}
		db.AppendEvent(ep.ID, ep.UserID, models.EventError, err.Error())
		return err
	}
	return nil
}

func (p *Pipeline) run(ctx context.Context, ep *models.Episode) error {
	logf := p.eventLogger(ep)

	// Ingest. The lease transition already moved the record to INGESTING.
	logf(models.EventStage, "ingest: started")
	text, err := p.Ingestor.Ingest(ctx, ep.SourceKind, ep.SourcePayload)
	if err != nil {
		return err
	}
	if err := checkSourceContent(ep.SourceKind, text); err != nil {
		return err
	}
	logf(models.EventStage, fmt.Sprintf("ingest: finished, %d chars", len(text)))

	// Script.
	if err := p.transition(ep, models.StatusScripting); err != nil {
		return err
	}
	logf(models.EventStage, "script: started")
	doc, err := p.Scripts.Generate(ctx, text, script.Options{
		Mode:          ep.Mode,
		TargetMinutes: ep.TargetMinutes,
		Language:      ep.Language,
		Style:         ep.Style,
		SpeakerCount:  ep.SpeakerCount,
		SpeakerNameA:  ep.SpeakerNameA,
		SpeakerNameB:  ep.SpeakerNameB,
		WithIntro:     ep.WithIntro,
		WithOutro:     ep.WithOutro,
		WithChapters:  ep.WithChapters,
		WithVideo:     ep.CoverImageURL != "",
	})
	if err != nil {
		return err
	}

	expected := script.ExpectedParts(ep.TargetMinutes)
	if len(doc.Parts) > expected+1 {
		return fmt.Errorf("%w: model returned %d parts, expected at most %d", script.ErrParse, len(doc.Parts), expected+1)
	}
	if len(doc.Parts) > 0 && len(doc.Parts) < expected {
		logf(models.EventWarn, fmt.Sprintf("script: %d parts returned, expected %d", len(doc.Parts), expected))
	}

	if err := db.UpdateEpisodeScript(ep.ID, doc.Title, doc.Script, doc.WPM, doc.Chapters, doc.ShowNotes); err != nil {
		return fmt.Errorf("persist script: %w", err)
	}
	logf(models.EventStage, fmt.Sprintf("script: finished, %q with %d parts", doc.Title, len(doc.Parts)))

	// Synthesize, one provider call batch per part.
	if err := p.transition(ep, models.StatusSynthesizing); err != nil {
		return err
	}
	logf(models.EventStage, "synthesize: started")
	parts := doc.PartsInOrder()
	if len(parts) == 0 {
		parts = []string{doc.Script}
	}

	rawAudio := make([][]byte, len(parts))
	for i, part := range parts {
		var audio []byte
		if ep.SpeakerCount == 2 {
			// The whole-script turn list only lines up when the script
			// was not chunked into parts.
			turns := doc.Turns
			if len(parts) > 1 {
				turns = nil
			}
			audio, err = p.Synthesizer.SynthesizeDialogue(ctx, part, turns, ep.VoiceA, ep.VoiceB, speakerName(doc, ep, "A"), speakerName(doc, ep, "B"))
		} else {
			audio, err = p.Synthesizer.SynthesizeNarration(ctx, part, ep.VoiceA)
		}
		if err != nil {
			return fmt.Errorf("part %d: %w", i+1, err)
		}
		rawAudio[i] = audio
	}
	logf(models.EventStage, fmt.Sprintf("synthesize: finished, %d parts", len(parts)))

	// Post-process and publish audio artifacts.
	if err := p.transition(ep, models.StatusAudioPost); err != nil {
		return err
	}
	logf(models.EventStage, "audio post: started")
	segmentURLs := make([]string, len(rawAudio))
	var full bytes.Buffer
	for i, raw := range rawAudio {
		processed, err := p.Audio.Process(ctx, raw)
		if err != nil {
			return fmt.Errorf("part %d: %w", i+1, err)
		}
		obj, err := p.Store.Upload(ctx, processed, "audio/mpeg", ".mp3", "audio/segments/"+ep.ID)
		if err != nil {
			return fmt.Errorf("part %d: upload: %w", i+1, err)
		}
		segmentURLs[i] = obj.URL
		full.Write(processed)
	}

	episodeAudio, err := p.Store.Upload(ctx, full.Bytes(), "audio/mpeg", ".mp3", "audio/episodes")
	if err != nil {
		return fmt.Errorf("upload episode audio: %w", err)
	}
	durationSec := audioproc.EstimateDurationSeconds(full.Bytes())
	if err := db.UpdateEpisodeAudio(ep.ID, episodeAudio.URL, durationSec); err != nil {
		return fmt.Errorf("persist audio: %w", err)
	}
	logf(models.EventStage, fmt.Sprintf("audio post: finished, %ds", durationSec))

	// Video rendering degrades, never aborts.
	p.renderVideo(ctx, ep, segmentURLs, episodeAudio.URL, logf)

	if err := db.UpdateEpisodePublished(ep.ID); err != nil {
		return fmt.Errorf("persist published: %w", err)
	}
	logf(models.EventStage, "published")
	return nil
}

// renderVideo runs the lipsync fan-out and merge. A missing provider key or
// cover image is a logged skip; every failure inside degrades to fewer
// segments or audio-only.
func (p *Pipeline) renderVideo(ctx context.Context, ep *models.Episode, segmentURLs []string, audioURL string, logf video.Logf) {
	if p.Video == nil || !p.Video.Enabled() {
		logf(models.EventInfo, "video: skipped, provider not configured")
		return
	}
	if ep.CoverImageURL == "" {
		logf(models.EventInfo, "video: skipped, no character image")
		return
	}

	if err := p.transition(ep, models.StatusVideoRender); err != nil {
		logf(models.EventError, fmt.Sprintf("video: status update failed: %v", err))
		return
	}
	logf(models.EventStage, fmt.Sprintf("video: started, %d segments", len(segmentURLs)))

	segments := make([]video.Segment, len(segmentURLs))
	for i, url := range segmentURLs {
		segments[i] = video.Segment{Index: i, AudioURL: url, Status: video.SegmentPending}
	}

	segments = p.Video.RenderSegments(ctx, segments, ep.CoverImageURL, logf)

	if ids := video.JobIDs(segments); len(ids) > 0 {
		if err := db.UpdateEpisodeVideoJobIDs(ep.ID, ids); err != nil {
			log.Printf("Failed to persist video job ids for episode %s: %v", ep.ID, err)
		}
	}

	completed := video.CompletedURLs(segments)
	if len(completed) == 0 {
		logf(models.EventWarn, "video: no segments completed, publishing audio-only")
		return
	}

	finalURL, err := p.Merger.Merge(ctx, completed, audioURL, logf)
	if err != nil {
		logf(models.EventError, fmt.Sprintf("video: merge failed, publishing audio-only: %v", err))
		return
	}
	if err := db.UpdateEpisodeVideo(ep.ID, finalURL); err != nil {
		log.Printf("Failed to persist video url for episode %s: %v", ep.ID, err)
		return
	}
	logf(models.EventStage, fmt.Sprintf("video: finished, %d of %d segments merged", len(completed), len(segments)))
}

// transition persists the next status before the corresponding work begins.
func (p *Pipeline) transition(ep *models.Episode, status models.Status) error {
	if err := db.UpdateEpisodeStatus(ep.ID, status); err != nil {
		return fmt.Errorf("transition to %s: %w", status, err)
	}
	ep.Status = status
	return nil
}

func (p *Pipeline) eventLogger(ep *models.Episode) video.Logf {
	return func(kind, msg string) {
		db.AppendEvent(ep.ID, ep.UserID, kind, msg)
	}
}

func checkSourceContent(kind, text string) error {
	switch kind {
	case models.SourceRawPrompt:
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("%w: prompt is empty", ingest.Err)
		}
	case models.SourceVideoLink:
		// The ingestor degrades down to a placeholder naming the URL, so
		// this source always yields something to script from.
	default:
		if len(text) < minSourceChars {
			return fmt.Errorf("%w: source yielded only %d chars of content", ingest.Err, len(text))
		}
	}
	return nil
}

func speakerName(doc *script.Document, ep *models.Episode, letter string) string {
	if name := doc.SpeakerNames[letter]; name != "" {
		return name
	}
	if letter == "A" {
		return ep.SpeakerNameA
	}
	return ep.SpeakerNameB
}
