package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"podcasty/internal/models"
)

// Err marks ingestion failures; the orchestrator treats them as fatal.
var Err = fmt.Errorf("ingestion failed")

var whitespaceRe = regexp.MustCompile(`\s+`)

// oEmbed endpoint used for video-link metadata. Resolves title/description
// for most video sites without downloading media.
const defaultOEmbedEndpoint = "https://noembed.com/embed"

// Ingestor normalizes heterogeneous sources into a plain text blob.
type Ingestor struct {
	client         *http.Client
	oembedEndpoint string
	videoTimeout   time.Duration
}

type Option func(*Ingestor)

func WithOEmbedEndpoint(endpoint string) Option {
	return func(i *Ingestor) { i.oembedEndpoint = endpoint }
}

func WithVideoTimeout(d time.Duration) Option {
	return func(i *Ingestor) { i.videoTimeout = d }
}

func New(client *http.Client, opts ...Option) *Ingestor {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	ing := &Ingestor{
		client:         client,
		oembedEndpoint: defaultOEmbedEndpoint,
		videoTimeout:   10 * time.Second,
	}
	for _, opt := range opts {
		opt(ing)
	}
	return ing
}

// Ingest produces a single whitespace-collapsed text blob for the source.
// Only the video-link path degrades instead of failing: its worst case is a
// placeholder carrying the URL, so the pipeline never blocks on it.
func (i *Ingestor) Ingest(ctx context.Context, kind, payload string) (string, error) {
	switch kind {
	case models.SourceWebLink:
		text, err := i.ingestWebLink(ctx, payload)
		if err != nil {
			return "", fmt.Errorf("%w: %v", Err, err)
		}
		return Normalize(text), nil
	case models.SourceVideoLink:
		return Normalize(i.ingestVideoLink(ctx, payload)), nil
	case models.SourceUploadedText, models.SourceRawPrompt:
		return Normalize(payload), nil
	default:
		return "", fmt.Errorf("%w: unknown source kind %q", Err, kind)
	}
}

// Normalize collapses all runs of whitespace to single spaces.
func Normalize(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

func (i *Ingestor) ingestWebLink(ctx context.Context, rawURL string) (string, error) {
	body, err := i.fetch(ctx, rawURL)
	if err != nil {
		return "", err
	}

	pageURL, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	article, err := readability.FromReader(strings.NewReader(body), pageURL)
	if err != nil {
		return "", fmt.Errorf("extract article: %w", err)
	}

	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return "", fmt.Errorf("no readable content at %s", rawURL)
	}
	if article.Title != "" {
		return article.Title + "\n\n" + text, nil
	}
	return text, nil
}

// ingestVideoLink tries oEmbed metadata first, then open-graph tags from the
// page itself, then falls back to a placeholder naming the URL. Each network
// step shares one hard deadline so a hanging provider cannot stall the run.
func (i *Ingestor) ingestVideoLink(ctx context.Context, rawURL string) string {
	ctx, cancel := context.WithTimeout(ctx, i.videoTimeout)
	defer cancel()

	if text, err := i.fetchOEmbed(ctx, rawURL); err == nil {
		return text
	} else {
		log.Printf("oEmbed lookup failed for %s: %v, falling back to og: tags", rawURL, err)
	}

	if text, err := i.fetchOpenGraph(ctx, rawURL); err == nil {
		return text
	} else {
		log.Printf("og: metadata fetch failed for %s: %v, using placeholder", rawURL, err)
	}

	return fmt.Sprintf("A video published at %s.", rawURL)
}

func (i *Ingestor) fetchOEmbed(ctx context.Context, videoURL string) (string, error) {
	endpoint := i.oembedEndpoint + "?url=" + url.QueryEscape(videoURL)
	body, err := i.fetch(ctx, endpoint)
	if err != nil {
		return "", err
	}

	var meta struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		AuthorName  string `json:"author_name"`
		Error       string `json:"error"`
	}
	if err := decodeJSON(body, &meta); err != nil {
		return "", err
	}
	if meta.Error != "" {
		return "", fmt.Errorf("oembed error: %s", meta.Error)
	}
	if meta.Title == "" {
		return "", fmt.Errorf("oembed response missing title")
	}

	parts := []string{meta.Title}
	if meta.AuthorName != "" {
		parts = append(parts, "by "+meta.AuthorName)
	}
	if meta.Description != "" {
		parts = append(parts, meta.Description)
	}
	return strings.Join(parts, ". "), nil
}

func (i *Ingestor) fetchOpenGraph(ctx context.Context, rawURL string) (string, error) {
	body, err := i.fetch(ctx, rawURL)
	if err != nil {
		return "", err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	title, _ := doc.Find(`meta[property="og:title"]`).Attr("content")
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	description, _ := doc.Find(`meta[property="og:description"]`).Attr("content")

	if title == "" && description == "" {
		return "", fmt.Errorf("no og: metadata at %s", rawURL)
	}
	return strings.TrimSpace(title + ". " + description), nil
}

func (i *Ingestor) fetch(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	// Browser-like headers; some publishers reject the default Go agent.
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := i.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func decodeJSON(s string, v interface{}) error {
	return json.Unmarshal([]byte(s), v)
}
