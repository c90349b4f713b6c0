package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podcasty/internal/models"
	"podcasty/internal/script"
	"podcasty/internal/storage"
	"podcasty/internal/test"
	"podcasty/internal/video"
)

var episodeColumns = []string{
	"id", "user_id", "source_kind", "source_payload", "mode", "target_minutes",
	"language", "style", "speaker_count", "voice_a", "voice_b",
	"speaker_name_a", "speaker_name_b", "with_intro", "with_outro",
	"with_chapters", "cover_image_url", "public", "status", "title", "script",
	"wpm", "chapters", "show_notes", "audio_url", "video_url",
	"duration_seconds", "error_message", "video_job_ids", "created_at", "updated_at",
}

func episodeRows(ep models.Episode) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(episodeColumns).AddRow(
		ep.ID, ep.UserID, ep.SourceKind, ep.SourcePayload, ep.Mode, ep.TargetMinutes,
		ep.Language, ep.Style, ep.SpeakerCount, ep.VoiceA, ep.VoiceB,
		ep.SpeakerNameA, ep.SpeakerNameB, ep.WithIntro, ep.WithOutro,
		ep.WithChapters, ep.CoverImageURL, ep.Public, ep.Status, nil, nil,
		nil, nil, nil, nil, nil,
		nil, nil, nil, now, now,
	)
}

type stubIngestor struct {
	text string
	err  error
}

func (s stubIngestor) Ingest(ctx context.Context, kind, payload string) (string, error) {
	return s.text, s.err
}

type stubScripts struct {
	doc *script.Document
	err error
}

func (s stubScripts) Generate(ctx context.Context, sourceText string, opts script.Options) (*script.Document, error) {
	return s.doc, s.err
}

type stubSynth struct {
	mu         sync.Mutex
	narrations int
	dialogues  int
	audio      []byte
	err        error
}

func (s *stubSynth) SynthesizeNarration(ctx context.Context, text, voice string) ([]byte, error) {
	s.mu.Lock()
	s.narrations++
	s.mu.Unlock()
	return s.audio, s.err
}

func (s *stubSynth) SynthesizeDialogue(ctx context.Context, text string, turns []script.Turn, voiceA, voiceB, nameA, nameB string) ([]byte, error) {
	s.mu.Lock()
	s.dialogues++
	s.mu.Unlock()
	return s.audio, s.err
}

type stubAudio struct {
	out []byte
	err error
}

func (s stubAudio) Process(ctx context.Context, raw []byte) ([]byte, error) {
	return s.out, s.err
}

type memStore struct {
	mu      sync.Mutex
	uploads int
}

func (m *memStore) Upload(ctx context.Context, data []byte, contentType, ext, prefix string) (storage.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads++
	return storage.Object{
		URL: fmt.Sprintf("https://store.example/%s/%d%s", prefix, m.uploads, ext),
		Key: fmt.Sprintf("%s/%d%s", prefix, m.uploads, ext),
	}, nil
}

type stubRenderer struct {
	enabled  bool
	complete bool
	calls    int
}

func (s *stubRenderer) Enabled() bool { return s.enabled }

func (s *stubRenderer) RenderSegments(ctx context.Context, segments []video.Segment, imageURL string, logf video.Logf) []video.Segment {
	s.calls++
	for i := range segments {
		segments[i].JobID = fmt.Sprintf("job-%d", i)
		if s.complete {
			segments[i].Status = video.SegmentCompleted
			segments[i].VideoURL = fmt.Sprintf("https://store.example/video/segments/%d.mp4", i)
		} else {
			segments[i].Status = video.SegmentFailed
		}
	}
	return segments
}

type stubMerger struct {
	calls [][]string
	url   string
	err   error
}

func (s *stubMerger) Merge(ctx context.Context, videoURLs []string, audioURL string, logf video.Logf) (string, error) {
	s.calls = append(s.calls, videoURLs)
	return s.url, s.err
}

func longText() string {
	out := ""
	for i := 0; i < 10; i++ {
		out += "A reasonably long piece of source content. "
	}
	return out
}

const (
	claimQuery   = `UPDATE episodes SET status = \$1, updated_at = NOW\(\) WHERE id = \$2 AND status = \$3`
	statusQuery  = `UPDATE episodes SET status = \$1, updated_at = NOW\(\) WHERE id = \$2`
	scriptQuery  = `UPDATE episodes\s+SET title = \$1`
	audioQuery   = `UPDATE episodes\s+SET audio_url = \$1`
	videoQuery   = `UPDATE episodes SET video_url = \$1`
	jobIDsQuery  = `UPDATE episodes SET video_job_ids = \$1`
	failedQuery  = `UPDATE episodes\s+SET status = \$1, error_message = \$2`
	episodeQuery = `SELECT \* FROM episodes WHERE id = \$1`
)

func expectHappyAudioStages(mock sqlmock.Sqlmock, ep models.Episode) {
	mock.ExpectQuery(episodeQuery).WithArgs(ep.ID).WillReturnRows(episodeRows(ep))
	mock.ExpectExec(claimQuery).WithArgs(models.StatusIngesting, ep.ID, models.StatusCreated).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(statusQuery).WithArgs(models.StatusScripting, ep.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(scriptQuery).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(statusQuery).WithArgs(models.StatusSynthesizing, ep.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(statusQuery).WithArgs(models.StatusAudioPost, ep.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(audioQuery).WillReturnResult(sqlmock.NewResult(0, 1))
}

// Scenario: prompt mode, one speaker, one minute, no cover image. The
// episode publishes audio-only.
func TestProcessPromptModeAudioOnly(t *testing.T) {
	_, mock := test.NewMockDB(t)

	ep := models.Episode{
		ID: "ep-a", UserID: 7,
		SourceKind: models.SourceRawPrompt, SourcePayload: "a podcast about tides",
		Mode: models.ModeSummary, TargetMinutes: 1, SpeakerCount: 1,
		VoiceA: "alloy", Status: models.StatusCreated,
	}

	expectHappyAudioStages(mock, ep)
	mock.ExpectExec(statusQuery).WithArgs(models.StatusPublished, ep.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := &memStore{}
	synth := &stubSynth{audio: []byte("raw")}
	p := &Pipeline{
		Ingestor: stubIngestor{text: "a podcast about tides"},
		Scripts: stubScripts{doc: &script.Document{
			Title:  "Tides",
			Script: "All about tides.",
			Parts:  map[string]string{"1": "part one", "2": "part two"},
			WPM:    150,
		}},
		Synthesizer: synth,
		Audio:       stubAudio{out: make([]byte, 16000)},
		Store:       store,
	}

	err := p.Process(context.Background(), ep.ID)
	require.NoError(t, err)

	assert.Equal(t, 2, synth.narrations)
	assert.Equal(t, 0, synth.dialogues)
	// Two segment uploads plus the full episode audio.
	assert.Equal(t, 3, store.uploads)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Scenario: the model returns prose with truncated JSON. The run fails with
// a parse-derived message and no audio work happens.
func TestProcessFailsOnTruncatedScriptJSON(t *testing.T) {
	_, mock := test.NewMockDB(t)

	ep := models.Episode{
		ID: "ep-b", UserID: 7,
		SourceKind: models.SourceRawPrompt, SourcePayload: "a podcast about tides",
		Mode: models.ModeSummary, TargetMinutes: 1, SpeakerCount: 1,
		VoiceA: "alloy", Status: models.StatusCreated,
	}

	mock.ExpectQuery(episodeQuery).WithArgs(ep.ID).WillReturnRows(episodeRows(ep))
	mock.ExpectExec(claimQuery).WithArgs(models.StatusIngesting, ep.ID, models.StatusCreated).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(statusQuery).WithArgs(models.StatusScripting, ep.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(failedQuery).WithArgs(models.StatusFailed, sqlmock.AnyArg(), ep.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, parseErr := script.Parse(`Sure, here it is: {"title": "Cut`)
	require.Error(t, parseErr)

	store := &memStore{}
	p := &Pipeline{
		Ingestor:    stubIngestor{text: "a podcast about tides"},
		Scripts:     stubScripts{err: parseErr},
		Synthesizer: &stubSynth{audio: []byte("raw")},
		Audio:       stubAudio{out: make([]byte, 16000)},
		Store:       store,
	}

	err := p.Process(context.Background(), ep.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, script.ErrParse)
	assert.Equal(t, 0, store.uploads)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Scenario: two-speaker discussion, two minutes, cover image present, all
// four segments render and merge.
func TestProcessTwoSpeakerWithVideo(t *testing.T) {
	_, mock := test.NewMockDB(t)

	ep := models.Episode{
		ID: "ep-c", UserID: 7,
		SourceKind: models.SourceRawPrompt, SourcePayload: "a debate about tabs and spaces",
		Mode: models.ModeDiscussion, TargetMinutes: 2, SpeakerCount: 2,
		VoiceA: "alloy", VoiceB: "onyx",
		SpeakerNameA: "John", SpeakerNameB: "Mary",
		CoverImageURL: "https://img.example/host.png",
		Status:        models.StatusCreated,
	}

	expectHappyAudioStages(mock, ep)
	mock.ExpectExec(statusQuery).WithArgs(models.StatusVideoRender, ep.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(jobIDsQuery).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(videoQuery).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(statusQuery).WithArgs(models.StatusPublished, ep.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	synth := &stubSynth{audio: []byte("raw")}
	renderer := &stubRenderer{enabled: true, complete: true}
	merger := &stubMerger{url: "https://store.example/video/final/1.mp4"}
	p := &Pipeline{
		Ingestor: stubIngestor{text: longText()},
		Scripts: stubScripts{doc: &script.Document{
			Title:  "Tabs v Spaces",
			Script: "A: Tabs.\nB: Spaces.",
			Parts: map[string]string{
				"1": "A: one\nB: two", "2": "A: three\nB: four",
				"3": "A: five\nB: six", "4": "A: seven\nB: eight",
			},
			WPM: 150,
		}},
		Synthesizer: synth,
		Audio:       stubAudio{out: make([]byte, 16000)},
		Video:       renderer,
		Merger:      merger,
		Store:       &memStore{},
	}

	err := p.Process(context.Background(), ep.ID)
	require.NoError(t, err)

	assert.Equal(t, 4, synth.dialogues)
	assert.Equal(t, 1, renderer.calls)
	require.Len(t, merger.calls, 1)
	require.Len(t, merger.calls[0], 4)
	for i, url := range merger.calls[0] {
		assert.Contains(t, url, fmt.Sprintf("%d.mp4", i))
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

// The merge stage is skipped, not failed, when no segments complete; the
// episode still publishes audio-only.
func TestProcessPublishesAudioOnlyWhenNoSegmentsComplete(t *testing.T) {
	_, mock := test.NewMockDB(t)

	ep := models.Episode{
		ID: "ep-d", UserID: 7,
		SourceKind: models.SourceRawPrompt, SourcePayload: "a story",
		Mode: models.ModeSummary, TargetMinutes: 1, SpeakerCount: 1,
		VoiceA: "alloy", CoverImageURL: "https://img.example/host.png",
		Status: models.StatusCreated,
	}

	expectHappyAudioStages(mock, ep)
	mock.ExpectExec(statusQuery).WithArgs(models.StatusVideoRender, ep.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(jobIDsQuery).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(statusQuery).WithArgs(models.StatusPublished, ep.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	renderer := &stubRenderer{enabled: true, complete: false}
	merger := &stubMerger{}
	p := &Pipeline{
		Ingestor: stubIngestor{text: "a story"},
		Scripts: stubScripts{doc: &script.Document{
			Title: "Story", Script: "Once upon a time.",
			Parts: map[string]string{"1": "one", "2": "two"}, WPM: 150,
		}},
		Synthesizer: &stubSynth{audio: []byte("raw")},
		Audio:       stubAudio{out: make([]byte, 16000)},
		Video:       renderer,
		Merger:      merger,
		Store:       &memStore{},
	}

	err := p.Process(context.Background(), ep.ID)
	require.NoError(t, err)
	assert.Empty(t, merger.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// expected+1 parts are tolerated, one more is a hard failure.
func TestProcessPartsCountGate(t *testing.T) {
	docWithParts := func(n int) *script.Document {
		parts := map[string]string{}
		for i := 1; i <= n; i++ {
			parts[fmt.Sprintf("%d", i)] = "text"
		}
		return &script.Document{Title: "T", Script: "S", Parts: parts, WPM: 150}
	}

	t.Run("three parts accepted for one minute", func(t *testing.T) {
		_, mock := test.NewMockDB(t)
		ep := models.Episode{
			ID: "ep-e", UserID: 7,
			SourceKind: models.SourceRawPrompt, SourcePayload: "p",
			Mode: models.ModeSummary, TargetMinutes: 1, SpeakerCount: 1,
			VoiceA: "alloy", Status: models.StatusCreated,
		}
		expectHappyAudioStages(mock, ep)
		mock.ExpectExec(statusQuery).WithArgs(models.StatusPublished, ep.ID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		p := &Pipeline{
			Ingestor:    stubIngestor{text: "p"},
			Scripts:     stubScripts{doc: docWithParts(3)},
			Synthesizer: &stubSynth{audio: []byte("raw")},
			Audio:       stubAudio{out: make([]byte, 16000)},
			Store:       &memStore{},
		}
		assert.NoError(t, p.Process(context.Background(), ep.ID))
	})

	t.Run("four parts rejected for one minute", func(t *testing.T) {
		_, mock := test.NewMockDB(t)
		ep := models.Episode{
			ID: "ep-f", UserID: 7,
			SourceKind: models.SourceRawPrompt, SourcePayload: "p",
			Mode: models.ModeSummary, TargetMinutes: 1, SpeakerCount: 1,
			VoiceA: "alloy", Status: models.StatusCreated,
		}
		mock.ExpectQuery(episodeQuery).WithArgs(ep.ID).WillReturnRows(episodeRows(ep))
		mock.ExpectExec(claimQuery).WithArgs(models.StatusIngesting, ep.ID, models.StatusCreated).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(statusQuery).WithArgs(models.StatusScripting, ep.ID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(failedQuery).WithArgs(models.StatusFailed, sqlmock.AnyArg(), ep.ID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		p := &Pipeline{
			Ingestor:    stubIngestor{text: "p"},
			Scripts:     stubScripts{doc: docWithParts(4)},
			Synthesizer: &stubSynth{audio: []byte("raw")},
			Audio:       stubAudio{out: make([]byte, 16000)},
			Store:       &memStore{},
		}
		err := p.Process(context.Background(), ep.ID)
		assert.ErrorIs(t, err, script.ErrParse)
	})
}

// A spent lease means a duplicate delivery; the run is skipped entirely.
func TestProcessSkipsWhenLeaseNotAcquired(t *testing.T) {
	_, mock := test.NewMockDB(t)

	ep := models.Episode{
		ID: "ep-g", UserID: 7,
		SourceKind: models.SourceRawPrompt, SourcePayload: "p",
		Mode: models.ModeSummary, TargetMinutes: 1, SpeakerCount: 1,
		VoiceA: "alloy", Status: models.StatusIngesting,
	}

	mock.ExpectQuery(episodeQuery).WithArgs(ep.ID).WillReturnRows(episodeRows(ep))
	mock.ExpectExec(claimQuery).WithArgs(models.StatusIngesting, ep.ID, models.StatusCreated).
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := &memStore{}
	p := &Pipeline{
		Ingestor: stubIngestor{text: "p"},
		Scripts:  stubScripts{doc: &script.Document{Title: "T", Script: "S", WPM: 150}},
		Store:    store,
	}

	err := p.Process(context.Background(), ep.ID)
	assert.ErrorIs(t, err, ErrAlreadyClaimed)
	assert.Equal(t, 0, store.uploads)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Empty prompts fail the content gate; other sources need real substance.
func TestProcessContentGate(t *testing.T) {
	t.Run("blank prompt fails", func(t *testing.T) {
		_, mock := test.NewMockDB(t)
		ep := models.Episode{
			ID: "ep-h", UserID: 7,
			SourceKind: models.SourceRawPrompt, SourcePayload: "   ",
			Mode: models.ModeSummary, TargetMinutes: 1, SpeakerCount: 1,
			VoiceA: "alloy", Status: models.StatusCreated,
		}
		mock.ExpectQuery(episodeQuery).WithArgs(ep.ID).WillReturnRows(episodeRows(ep))
		mock.ExpectExec(claimQuery).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(failedQuery).WithArgs(models.StatusFailed, sqlmock.AnyArg(), ep.ID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		p := &Pipeline{Ingestor: stubIngestor{text: ""}, Store: &memStore{}}
		assert.Error(t, p.Process(context.Background(), ep.ID))
	})

	t.Run("short web content fails", func(t *testing.T) {
		_, mock := test.NewMockDB(t)
		ep := models.Episode{
			ID: "ep-i", UserID: 7,
			SourceKind: models.SourceWebLink, SourcePayload: "https://example.com",
			Mode: models.ModeSummary, TargetMinutes: 1, SpeakerCount: 1,
			VoiceA: "alloy", Status: models.StatusCreated,
		}
		mock.ExpectQuery(episodeQuery).WithArgs(ep.ID).WillReturnRows(episodeRows(ep))
		mock.ExpectExec(claimQuery).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(failedQuery).WithArgs(models.StatusFailed, sqlmock.AnyArg(), ep.ID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		p := &Pipeline{Ingestor: stubIngestor{text: "too short"}, Store: &memStore{}}
		assert.Error(t, p.Process(context.Background(), ep.ID))
	})

	t.Run("short video placeholder passes", func(t *testing.T) {
		// Even a placeholder for a tiny URL reaches the script stage.
		assert.NoError(t, checkSourceContent(models.SourceVideoLink, "A video published at https://v.id/x."))
	})
}
