package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"regexp"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"podcasty/internal/script"
)

// ErrSynthesis marks hard TTS provider failures.
var ErrSynthesis = errors.New("speech synthesis failed")

const (
	// Provider rejects implausibly short inputs; pad anything shorter.
	minTextLen = 20
	// Responses under this size indicate an empty or truncated synthesis.
	minAudioBytes = 4096

	fillerPhrase = "Thanks for listening to this episode."
)

var (
	markupRe    = regexp.MustCompile(`<[^>]*>|[*_#` + "`" + `]`)
	labelLineRe = regexp.MustCompile(`(?m)^\s*([AB])\s*[:：]\s*`)
	sentenceRe  = regexp.MustCompile(`[^.!?]+[.!?]*\s*`)
)

// Synthesizer converts script text into audio through the TTS provider.
type Synthesizer struct {
	client     *openai.Client
	model      openai.SpeechModel
	retryModel openai.SpeechModel
}

func NewSynthesizer(client *openai.Client) *Synthesizer {
	return &Synthesizer{
		client:     client,
		model:      openai.TTSModel1HD,
		// Faster tier used for the one retry after a suspiciously
		// small synthesis.
		retryModel: openai.TTSModel1,
	}
}

// SynthesizeNarration renders single-narrator text with one voice.
func (s *Synthesizer) SynthesizeNarration(ctx context.Context, text, voice string) ([]byte, error) {
	clean := StripMarkup(text)
	if len(clean) < minTextLen {
		clean = fillerPhrase
	}

	audio, err := s.speak(ctx, clean, voice, s.model)
	if err != nil {
		return nil, err
	}
	if len(audio) < minAudioBytes {
		log.Printf("TTS returned %d bytes, retrying with extended text", len(audio))
		audio, err = s.speak(ctx, clean+" "+clean, voice, s.retryModel)
		if err != nil {
			return nil, err
		}
	}
	return audio, nil
}

// SynthesizeDialogue renders two-speaker text, one provider call per turn,
// concatenating the audio in turn order. Speaker labels are never spoken.
func (s *Synthesizer) SynthesizeDialogue(ctx context.Context, text string, turns []script.Turn, voiceA, voiceB, nameA, nameB string) ([]byte, error) {
	canonical := RewriteSpeakerLabels(StripMarkup(text), nameA, nameB)
	segments := SplitTurns(canonical, turns)
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: no dialogue turns found", ErrSynthesis)
	}

	var buf bytes.Buffer
	for i, turn := range segments {
		voice := voiceA
		if strings.EqualFold(turn.Speaker, "B") {
			voice = voiceB
		}

		spoken := ReplaceResidualLetters(stripLeadingLabel(turn.Text), nameA, nameB)
		if len(spoken) < minTextLen {
			spoken = fillerPhrase
		}

		audio, err := s.speak(ctx, spoken, voice, s.model)
		if err != nil {
			return nil, fmt.Errorf("turn %d: %w", i, err)
		}
		buf.Write(audio)
	}
	return buf.Bytes(), nil
}

func (s *Synthesizer) speak(ctx context.Context, text, voice string, model openai.SpeechModel) ([]byte, error) {
	if s.client == nil {
		return nil, fmt.Errorf("%w: TTS provider not configured", ErrSynthesis)
	}

	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          model,
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSynthesis, err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: read audio: %v", ErrSynthesis, err)
	}
	return audio, nil
}

// StripMarkup removes SSML-like tags and markdown decoration. Newlines are
// kept because dialogue labels are line-anchored; only horizontal
// whitespace collapses.
func StripMarkup(text string) string {
	clean := markupRe.ReplaceAllString(text, " ")
	var lines []string
	for _, line := range strings.Split(clean, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// RewriteSpeakerLabels rewrites "Name:" dialogue labels into canonical
// "A:"/"B:" labels using the configured display names.
func RewriteSpeakerLabels(text, nameA, nameB string) string {
	for letter, name := range map[string]string{"A": nameA, "B": nameB} {
		if name == "" {
			continue
		}
		re := regexp.MustCompile(`(^|\n|\s)` + regexp.QuoteMeta(name) + `\s*[:：]\s*`)
		text = re.ReplaceAllString(text, "${1}"+letter+": ")
	}
	return text
}

// SplitTurns segments dialogue text into ordered speaker turns. A structured
// turn list from the script generator wins; otherwise "A:"/"B:" labels are
// parsed out of the text; as a last resort sentences alternate speakers.
func SplitTurns(text string, turns []script.Turn) []script.Turn {
	if len(turns) > 0 {
		return turns
	}

	if matches := labelLineRe.FindAllStringSubmatchIndex(text, -1); len(matches) > 0 {
		var out []script.Turn
		for i, m := range matches {
			end := len(text)
			if i+1 < len(matches) {
				end = matches[i+1][0]
			}
			speaker := text[m[2]:m[3]]
			segment := strings.TrimSpace(text[m[1]:end])
			if segment != "" {
				out = append(out, script.Turn{Speaker: speaker, Text: segment})
			}
		}
		return out
	}

	// No labels at all: alternate sentences between the two speakers.
	var out []script.Turn
	for i, sentence := range sentenceRe.FindAllString(text, -1) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		speaker := "A"
		if i%2 == 1 {
			speaker = "B"
		}
		out = append(out, script.Turn{Speaker: speaker, Text: sentence})
	}
	return out
}

// ReplaceResidualLetters rewrites bare "A"/"B" tokens left inside flowing
// text to the speakers' display names so the letters are never spoken.
func ReplaceResidualLetters(text, nameA, nameB string) string {
	if nameA != "" {
		text = regexp.MustCompile(`\bA\b`).ReplaceAllString(text, nameA)
	}
	if nameB != "" {
		text = regexp.MustCompile(`\bB\b`).ReplaceAllString(text, nameB)
	}
	return text
}

func stripLeadingLabel(text string) string {
	return labelLineRe.ReplaceAllString(text, "")
}
