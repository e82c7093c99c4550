package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completionServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": content}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func testClient(baseURL string) *Client {
	c := NewClient("sk-test")
	c.baseURL = baseURL
	return c
}

func TestSupportedTargetLang(t *testing.T) {
	assert.True(t, SupportedTargetLang("ES"))
	assert.True(t, SupportedTargetLang("es"))
	assert.True(t, SupportedTargetLang(" zh "))
	assert.False(t, SupportedTargetLang("KLINGON"))
	assert.False(t, SupportedTargetLang(""))
}

func TestTranslateSegments(t *testing.T) {
	ts := completionServer(t, `["hola","mundo"]`)
	defer ts.Close()

	out, err := testClient(ts.URL).TranslateSegments(context.Background(), []string{"hello", "world"}, "ES", "en")
	require.NoError(t, err)
	assert.Equal(t, []string{"hola", "mundo"}, out)
}

func TestTranslateSegmentsLengthMismatch(t *testing.T) {
	ts := completionServer(t, `["hola"]`)
	defer ts.Close()

	_, err := testClient(ts.URL).TranslateSegments(context.Background(), []string{"hello", "world"}, "ES", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUpstream))
}

func TestPolishSegmentsCodeFence(t *testing.T) {
	ts := completionServer(t, "```json\n[\"Hello, world.\"]\n```")
	defer ts.Close()

	out, err := testClient(ts.URL).PolishSegments(context.Background(), []string{"hello world"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello, world."}, out)
}

func TestPolishSegmentsNonArrayOutput(t *testing.T) {
	ts := completionServer(t, `Sure! Here is the polished text: hello`)
	defer ts.Close()

	_, err := testClient(ts.URL).PolishSegments(context.Background(), []string{"hello"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUpstream))
}

func TestPolishText(t *testing.T) {
	ts := completionServer(t, "Hello, world.")
	defer ts.Close()

	out, err := testClient(ts.URL).PolishText(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, "Hello, world.", out)
}

func TestUpstreamStatusError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer ts.Close()

	_, err := testClient(ts.URL).PolishText(context.Background(), "hi")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUpstream))
	assert.Contains(t, err.Error(), "429")
}

func TestEmptyCompletion(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer ts.Close()

	_, err := testClient(ts.URL).PolishText(context.Background(), "hi")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUpstream))
}

func TestEmptyInputSkipsRequest(t *testing.T) {
	out, err := NewClient("sk-test").PolishSegments(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}
