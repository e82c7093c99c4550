package transcript

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractVideoID(t *testing.T) {
	tests := []struct {
		url  string
		id   string
		ok   bool
		name string
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ", true, "watch"},
		{"https://youtube.com/watch?v=dQw4w9WgXcQ&t=30s", "dQw4w9WgXcQ", true, "watch with params"},
		{"https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ", true, "short link"},
		{"https://www.youtube.com/shorts/abc123XYZ_-", "abc123XYZ_-", true, "shorts"},
		{"https://www.youtube.com/embed/dQw4w9WgXcQ", "dQw4w9WgXcQ", true, "embed"},
		{"https://m.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ", true, "mobile host"},
		{"https://vimeo.com/123456", "", false, "wrong host"},
		{"https://www.youtube.com/feed/history", "", false, "no video"},
		{"https://youtu.be/", "", false, "empty short link"},
		{"not a url at all ://", "", false, "garbage"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := ExtractVideoID(tt.url)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.id, id)
		})
	}
}

func TestFetchSegmentArray(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/transcript", r.URL.Path)
		assert.Equal(t, "rapid_key", r.Header.Get("X-RapidAPI-Key"))
		w.Write([]byte(`{
			"transcript": [
				{"text": "hello", "start": 0.5, "duration": 1.2},
				{"transcript": "world", "start_time": 1.7, "duration_ms": 800},
				{"text": "", "start": 3}
			],
			"language": "en",
			"metadata": {"title": "Test Video", "author_name": "Chan"}
		}`))
	}))
	defer ts.Close()

	c := NewClient("rapid_key")
	c.baseURL = ts.URL

	result, err := c.Fetch(context.Background(), "https://youtu.be/dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, "dQw4w9WgXcQ", result.VideoID)
	assert.Equal(t, "en", result.Language)
	require.Len(t, result.Segments, 2)
	assert.Equal(t, "hello", result.Segments[0].Text)
	require.NotNil(t, result.Segments[0].Start)
	assert.Equal(t, 0.5, *result.Segments[0].Start)
	assert.Equal(t, "world", result.Segments[1].Text)
	require.NotNil(t, result.Segments[1].Start)
	assert.Equal(t, 1.7, *result.Segments[1].Start)
	require.NotNil(t, result.Segments[1].Duration)
	assert.Equal(t, 0.8, *result.Segments[1].Duration)
	assert.Equal(t, "hello world", result.Text)
	require.NotNil(t, result.Metadata)
	assert.Equal(t, "Test Video", result.Metadata.Title)
}

func TestFetchStringTranscript(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"transcript": "plain text transcript", "lang": "es"}`))
	}))
	defer ts.Close()

	c := NewClient("rapid_key")
	c.baseURL = ts.URL

	result, err := c.Fetch(context.Background(), "https://www.youtube.com/watch?v=abc")
	require.NoError(t, err)
	assert.Nil(t, result.Segments)
	assert.Equal(t, "plain text transcript", result.Text)
	assert.Equal(t, "es", result.Language)
}

func TestFetchWrappedTextTranscript(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"transcript": {"text": "wrapped form"}}`))
	}))
	defer ts.Close()

	c := NewClient("rapid_key")
	c.baseURL = ts.URL

	result, err := c.Fetch(context.Background(), "https://www.youtube.com/watch?v=abc")
	require.NoError(t, err)
	assert.Equal(t, "wrapped form", result.Text)
}

func TestFetchUpstreamError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": "no transcript available", "code": "NO_TRANSCRIPT"}`))
	}))
	defer ts.Close()

	c := NewClient("rapid_key")
	c.baseURL = ts.URL

	_, err := c.Fetch(context.Background(), "https://www.youtube.com/watch?v=abc")
	require.Error(t, err)
	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusNotFound, upstream.Status)
	assert.Equal(t, "no transcript available", upstream.Message)
}

func TestFetchInvalidURL(t *testing.T) {
	c := NewClient("rapid_key")
	_, err := c.Fetch(context.Background(), "https://example.com/watch?v=abc")
	require.Error(t, err)
	var upstream *UpstreamError
	assert.False(t, errors.As(err, &upstream))
}
