package script

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// ErrParse marks model responses with no usable JSON payload.
var ErrParse = errors.New("script response is not parseable JSON")

// ErrNoProvider is returned when neither LLM provider is configured.
var ErrNoProvider = errors.New("no language model provider configured")

// Turn is one ordered speaker/text entry of a two-speaker script.
type Turn struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// Document is the structured script contract the model must return.
type Document struct {
	Title        string            `json:"title"`
	Script       string            `json:"script"`
	Parts        map[string]string `json:"parts"`
	Chapters     []string          `json:"chapters"`
	ShowNotes    string            `json:"show_notes"`
	WPM          int               `json:"wpm"`
	SpeakerNames map[string]string `json:"speaker_names"`
	Turns        []Turn            `json:"turns"`
}

// PartsInOrder returns the narration parts sorted by their numeric keys.
func (d *Document) PartsInOrder() []string {
	keys := make([]int, 0, len(d.Parts))
	for k := range d.Parts {
		n, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		keys = append(keys, n)
	}
	sort.Ints(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, d.Parts[strconv.Itoa(k)])
	}
	return parts
}

// Options carries the generation settings embedded in the prompt.
type Options struct {
	Mode          string
	TargetMinutes int
	Language      string
	Style         string
	SpeakerCount  int
	SpeakerNameA  string
	SpeakerNameB  string
	WithIntro     bool
	WithOutro     bool
	WithChapters  bool
	WithVideo     bool
}

// ExpectedParts is the number of ~30s narration parts for a target length.
func ExpectedParts(targetMinutes int) int {
	n := targetMinutes * 2
	if n < 1 {
		return 1
	}
	return n
}

// Generator drives an LLM provider to produce a Document. The primary
// client is tried when present, otherwise the fallback.
type Generator struct {
	primary       *openai.Client
	fallback      *openai.Client
	primaryModel  string
	fallbackModel string
}

func NewGenerator(primary, fallback *openai.Client, primaryModel, fallbackModel string) *Generator {
	if primaryModel == "" {
		primaryModel = openai.GPT4oMini
	}
	if fallbackModel == "" {
		fallbackModel = primaryModel
	}
	return &Generator{
		primary:       primary,
		fallback:      fallback,
		primaryModel:  primaryModel,
		fallbackModel: fallbackModel,
	}
}

func (g *Generator) Generate(ctx context.Context, sourceText string, opts Options) (*Document, error) {
	client, model := g.primary, g.primaryModel
	if client == nil {
		client, model = g.fallback, g.fallbackModel
	}
	if client == nil {
		return nil, ErrNoProvider
	}

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(opts)},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(sourceText, opts)},
		},
		Temperature: 0.7,
		MaxTokens:   4096,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("model returned no choices")
	}

	return Parse(resp.Choices[0].Message.Content)
}

// Parse extracts the JSON object embedded in a free-form model response and
// unmarshals it. Models routinely wrap the JSON in prose or code fences, so
// only the span between the first '{' and the last '}' is considered.
func Parse(raw string) (*Document, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrParse)
	}

	var doc Document
	if err := json.Unmarshal([]byte(raw[start:end+1]), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if doc.Title == "" || doc.Script == "" {
		return nil, fmt.Errorf("%w: missing title or script", ErrParse)
	}
	if doc.WPM == 0 {
		doc.WPM = 150
	}
	log.Printf("Parsed script %q: %d parts, %d chapters, %d turns", doc.Title, len(doc.Parts), len(doc.Chapters), len(doc.Turns))
	return &doc, nil
}

func systemPrompt(opts Options) string {
	var sb strings.Builder
	sb.WriteString("You are a professional podcast scriptwriter.\n")
	sb.WriteString("You MUST respond with ONLY valid JSON — no preamble, no markdown, no explanation.\n\n")
	sb.WriteString("The JSON object must contain:\n")
	sb.WriteString(`- "title": a concise episode title` + "\n")
	sb.WriteString(`- "script": the full spoken script, using light SSML-like markup (<break/>, <emphasis>) for pacing` + "\n")
	sb.WriteString(`- "chapters": an array of chapter titles` + "\n")
	sb.WriteString(`- "show_notes": a short show-notes paragraph` + "\n")
	sb.WriteString(`- "wpm": your estimated spoken words-per-minute for this script` + "\n")

	if opts.WithVideo {
		n := ExpectedParts(opts.TargetMinutes)
		fmt.Fprintf(&sb, `- "parts": an object mapping "1" through "%d" to narration chunks of roughly 30 seconds each; exactly %d entries`+"\n", n, n)
	}
	if opts.SpeakerCount == 2 {
		sb.WriteString(`- "speaker_names": an object mapping "A" and "B" to the speaker display names` + "\n")
		sb.WriteString(`- "turns": an ordered array of {"speaker": "A"|"B", "text": "..."} dialogue turns` + "\n")
		sb.WriteString("\nEvery dialogue line in the script must be prefixed with \"A:\" or \"B:\".\n")
	}
	if opts.Mode == "discussion" {
		sb.WriteString("\nWhen the two speakers debate, they may disagree on matters of opinion. ")
		sb.WriteString("If the topic concerns clearly harmful or illegal acts, both speakers must ")
		sb.WriteString("condemn them; never present harm as one side of a balanced debate.\n")
	}
	return sb.String()
}

func userPrompt(sourceText string, opts Options) string {
	var sb strings.Builder
	switch opts.Mode {
	case "summary":
		fmt.Fprintf(&sb, "Write a %d-minute podcast episode summarizing the source material below.\n", opts.TargetMinutes)
	case "discussion":
		fmt.Fprintf(&sb, "Write a %d-minute two-speaker podcast discussion of the source material below.\n", opts.TargetMinutes)
	default:
		fmt.Fprintf(&sb, "Write a %d-minute podcast episode reading through the source material below in spoken form.\n", opts.TargetMinutes)
	}

	if opts.Language != "" {
		fmt.Fprintf(&sb, "Write in %s.\n", opts.Language)
	}
	if opts.Style != "" {
		fmt.Fprintf(&sb, "Tone and style: %s.\n", opts.Style)
	}
	if opts.SpeakerCount == 2 {
		nameA, nameB := opts.SpeakerNameA, opts.SpeakerNameB
		if nameA == "" {
			nameA = "Alex"
		}
		if nameB == "" {
			nameB = "Blake"
		}
		fmt.Fprintf(&sb, "Two speakers: A is %s, B is %s.\n", nameA, nameB)
	}
	if opts.WithIntro {
		sb.WriteString("Open with a short welcome intro.\n")
	}
	if opts.WithOutro {
		sb.WriteString("Close with a short outro and call to action.\n")
	}
	if opts.WithChapters {
		sb.WriteString("Structure the episode into named chapters.\n")
	}

	sb.WriteString("\nSOURCE MATERIAL:\n")
	sb.WriteString(sourceText)
	sb.WriteString("\n\nRespond ONLY with valid JSON. No markdown. No explanation.")
	return sb.String()
}
