package ingest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podcasty/internal/models"
)

func TestNormalizeCollapsesWhitespace(t *testing.T) {
	assert.Equal(t, "hello world again", Normalize("  hello \n\t world\r\n  again  "))
	assert.Equal(t, "", Normalize("   \n\t  "))
}

func TestIngestRawPromptPassesThrough(t *testing.T) {
	ing := New(nil)
	text, err := ing.Ingest(context.Background(), models.SourceRawPrompt, "make a podcast about\n  Go generics")
	require.NoError(t, err)
	assert.Equal(t, "make a podcast about Go generics", text)
}

func TestIngestUploadedTextPassesThrough(t *testing.T) {
	ing := New(nil)
	text, err := ing.Ingest(context.Background(), models.SourceUploadedText, "chapter one.\n\nchapter two.")
	require.NoError(t, err)
	assert.Equal(t, "chapter one. chapter two.", text)
}

func TestIngestUnknownKindFails(t *testing.T) {
	ing := New(nil)
	_, err := ing.Ingest(context.Background(), "carrier_pigeon", "coo")
	assert.ErrorIs(t, err, Err)
}

func TestIngestWebLinkExtractsArticle(t *testing.T) {
	paragraph := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 20)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><head><title>Fox Habits</title></head><body>
			<nav>Home | About | Contact</nav>
			<article><h1>Fox Habits</h1><p>%s</p><p>%s</p></article>
			<footer>Copyright</footer></body></html>`, paragraph, paragraph)
	}))
	defer srv.Close()

	ing := New(srv.Client())
	text, err := ing.Ingest(context.Background(), models.SourceWebLink, srv.URL+"/article")
	require.NoError(t, err)
	assert.Contains(t, text, "quick brown fox")
	assert.NotContains(t, text, "Copyright")
	assert.NotRegexp(t, `\s{2,}`, text)
}

func TestIngestWebLinkPropagatesFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ing := New(srv.Client())
	_, err := ing.Ingest(context.Background(), models.SourceWebLink, srv.URL)
	assert.ErrorIs(t, err, Err)
}

func TestIngestVideoLinkUsesOEmbed(t *testing.T) {
	oembed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"title": "Gophercon Keynote", "author_name": "The Go Team", "description": "A talk about Go."}`)
	}))
	defer oembed.Close()

	ing := New(oembed.Client(), WithOEmbedEndpoint(oembed.URL))
	text, err := ing.Ingest(context.Background(), models.SourceVideoLink, "https://videos.example/watch?v=abc")
	require.NoError(t, err)
	assert.Contains(t, text, "Gophercon Keynote")
	assert.Contains(t, text, "The Go Team")
}

func TestIngestVideoLinkFallsBackToOpenGraph(t *testing.T) {
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head>
			<meta property="og:title" content="Deep Sea Documentary"/>
			<meta property="og:description" content="An hour under water."/>
		</head><body></body></html>`)
	}))
	defer page.Close()

	// oEmbed endpoint that always errors forces the og: fallback.
	ing := New(page.Client(), WithOEmbedEndpoint(page.URL+"/missing-oembed"))
	text, err := ing.Ingest(context.Background(), models.SourceVideoLink, page.URL)
	require.NoError(t, err)
	assert.Contains(t, text, "Deep Sea Documentary")
	assert.Contains(t, text, "An hour under water.")
}

func TestIngestVideoLinkTotalFailureYieldsPlaceholder(t *testing.T) {
	// A hanging server exercises the hard timeout on the whole chain.
	hang := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer hang.Close()

	ing := New(hang.Client(), WithOEmbedEndpoint(hang.URL), WithVideoTimeout(100*time.Millisecond))
	text, err := ing.Ingest(context.Background(), models.SourceVideoLink, hang.URL+"/video")
	require.NoError(t, err)
	assert.Contains(t, text, hang.URL+"/video")
}
