package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jsonDoc = `{
  "version": 2,
  "type": "profile",
  "profile": {"id": 99, "url": "ignored", "name": "Streaming", "context": [{"type": "equals", "data": {"key": "route", "value": "chat"}}]},
  "values": {"chat.width": 340, "chat.theme": "dark"}
}`

func TestHTTPFetcherConditionalRequests(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "go-settings-test", r.Header.Get("User-Agent"))
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(jsonDoc))
	}))
	defer server.Close()

	fetcher := NewFetcher(WithUserAgent("go-settings-test"))
	first, err := fetcher.Fetch(context.Background(), server.URL+"/profile", Meta{})
	require.NoError(t, err)
	assert.False(t, first.NotModified)
	assert.Equal(t, `"v1"`, first.Meta.ETag)
	assert.NotEmpty(t, first.Meta.Hash)
	assert.Equal(t, "Streaming", first.Document.Profile["name"])
	assert.NotContains(t, first.Document.Profile, "id")
	assert.NotContains(t, first.Document.Profile, "url")
	assert.Equal(t, 340.0, first.Document.Values["chat.width"])

	second, err := fetcher.Fetch(context.Background(), server.URL+"/profile", first.Meta)
	require.NoError(t, err)
	assert.True(t, second.NotModified)
	assert.Equal(t, first.Meta.ETag, second.Meta.ETag)
	assert.Equal(t, int32(2), hits.Load())
}

func TestHTTPFetcherUnchangedBodyWithoutETag(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(jsonDoc))
	}))
	defer server.Close()

	fetcher := NewFetcher()
	first, err := fetcher.Fetch(context.Background(), server.URL, Meta{})
	require.NoError(t, err)
	second, err := fetcher.Fetch(context.Background(), server.URL, first.Meta)
	require.NoError(t, err)
	assert.True(t, second.NotModified, "identical content hash should count as unchanged")
}

func TestHTTPFetcherErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		case "/boom":
			http.Error(w, "boom", http.StatusInternalServerError)
		case "/invalid":
			_, _ = w.Write([]byte(`{"type": "full", "profile": {}}`))
		case "/huge":
			_, _ = w.Write(make([]byte, 64))
		default:
			_, _ = w.Write([]byte(`not json`))
		}
	}))
	defer server.Close()

	fetcher := NewFetcher(WithMaxBytes(32))
	_, err := fetcher.Fetch(context.Background(), server.URL+"/missing", Meta{})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = fetcher.Fetch(context.Background(), server.URL+"/boom", Meta{})
	assert.ErrorContains(t, err, "unexpected status")

	_, err = fetcher.Fetch(context.Background(), server.URL+"/invalid", Meta{})
	assert.ErrorIs(t, err, ErrInvalidDocument)

	_, err = fetcher.Fetch(context.Background(), server.URL+"/huge", Meta{})
	assert.ErrorContains(t, err, "exceeds")

	_, err = fetcher.Fetch(context.Background(), server.URL+"/garbage", Meta{})
	assert.ErrorIs(t, err, ErrInvalidDocument)

	_, err = fetcher.Fetch(context.Background(), "ftp://example.test/p.json", Meta{})
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
}

func TestFileFetcherFormats(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"profile.yaml": `
version: 2
profile:
  name: Night
  context:
    - type: exists
      data: {key: night}
values:
  ui.theme: dark
  chat.width: 300
`,
		"profile.toml": `
version = 2

[profile]
name = "Night"

[[profile.context]]
type = "exists"
data = { key = "night" }

[values]
"ui.theme" = "dark"
"chat.width" = 300
`,
	}
	for name, content := range files {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

			result, err := NewFetcher().Fetch(context.Background(), "file://"+path, Meta{})
			require.NoError(t, err)
			assert.Equal(t, "Night", result.Document.Profile["name"])
			assert.Equal(t, map[string]any{"ui.theme": "dark", "chat.width": 300.0}, result.Document.Values)
			rules, ok := result.Document.Profile["context"].([]any)
			require.True(t, ok)
			require.Len(t, rules, 1)

			again, err := NewFetcher().Fetch(context.Background(), path, result.Meta)
			require.NoError(t, err)
			assert.True(t, again.NotModified)
		})
	}

	_, err := NewFetcher().Fetch(context.Background(), filepath.Join(dir, "absent.json"), Meta{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDecodeLegacyTopLevelValues(t *testing.T) {
	doc, err := Decode([]byte(`{"profile": {"name": "Old"}, "ui.theme": "light"}`), FormatJSON, "legacy")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ui.theme": "light"}, doc.Values)
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, FormatYAML, DetectFormat("application/yaml; charset=utf-8", "x"))
	assert.Equal(t, FormatTOML, DetectFormat("", "https://host/p.toml?v=1"))
	assert.Equal(t, FormatYAML, DetectFormat("", "/tmp/p.yml"))
	assert.Equal(t, FormatJSON, DetectFormat("text/plain", "/tmp/p"))
}

func TestStaticFetcher(t *testing.T) {
	fetcher := NewStaticFetcher()
	doc := Document{Profile: map[string]any{"name": "Static", "id": 4}, Values: map[string]any{"k": "v"}}
	fetcher.Put("mem://a", doc)

	first, err := fetcher.Fetch(context.Background(), "mem://a", Meta{})
	require.NoError(t, err)
	assert.Equal(t, "Static", first.Document.Profile["name"])
	assert.NotContains(t, first.Document.Profile, "id")
	assert.Contains(t, doc.Profile, "id", "published document must not be mutated")

	second, err := fetcher.Fetch(context.Background(), "mem://a", first.Meta)
	require.NoError(t, err)
	assert.True(t, second.NotModified)

	boom := errors.New("offline")
	fetcher.Fail("mem://a", boom)
	_, err = fetcher.Fetch(context.Background(), "mem://a", Meta{})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, fetcher.Calls("mem://a"))

	_, err = fetcher.Fetch(context.Background(), "mem://missing", Meta{})
	assert.ErrorIs(t, err, ErrNotFound)
}
