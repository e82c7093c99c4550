package transcript

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Segment is one timed piece of a transcript. Start and Duration are seconds;
// they are nil when the upstream returned plain text only.
type Segment struct {
	Text     string   `json:"text"`
	Start    *float64 `json:"start,omitempty"`
	Duration *float64 `json:"duration,omitempty"`
}

type VideoMetadata struct {
	Title        string `json:"title,omitempty"`
	AuthorName   string `json:"author_name,omitempty"`
	AuthorURL    string `json:"author_url,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// Result is the normalized transcript. Segments is set when the upstream
// returned timed segments; Text is always populated.
type Result struct {
	VideoID  string
	Language string
	Segments []Segment
	Text     string
	Metadata *VideoMetadata
}

// UpstreamError preserves the transcript API's status and body for
// diagnostics while mapping to a stable error at our boundary.
type UpstreamError struct {
	Status  int
	Message string
	Detail  json.RawMessage
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("transcript api: status %d: %s", e.Status, e.Message)
}

const defaultBaseURL = "https://transcriptapi.p.rapidapi.com"

type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// ExtractVideoID pulls the video ID out of any of the YouTube URL shapes:
// watch?v=, youtu.be/, /shorts/ and /embed/.
func ExtractVideoID(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	host := strings.TrimPrefix(u.Hostname(), "www.")

	if host == "youtu.be" {
		parts := splitPath(u.Path)
		if len(parts) > 0 {
			return parts[0], true
		}
		return "", false
	}

	if strings.HasSuffix(host, "youtube.com") {
		if v := u.Query().Get("v"); v != "" {
			return v, true
		}
		parts := splitPath(u.Path)
		for i, p := range parts {
			if (p == "shorts" || p == "embed") && i+1 < len(parts) {
				return parts[i+1], true
			}
		}
	}
	return "", false
}

func splitPath(p string) []string {
	var parts []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return parts
}

// upstream payload; the transcript field arrives in several shapes and the
// segment keys are not consistent between them.
type apiResponse struct {
	Transcript json.RawMessage `json:"transcript"`
	Language   string          `json:"language"`
	Lang       string          `json:"lang"`
	Title      string          `json:"title"`
	Author     string          `json:"author"`
	Channel    string          `json:"channel"`
	ChannelURL string          `json:"channel_url"`
	Thumbnail  string          `json:"thumbnail"`
	Metadata   *struct {
		Title        string `json:"title"`
		AuthorName   string `json:"author_name"`
		AuthorURL    string `json:"author_url"`
		ThumbnailURL string `json:"thumbnail_url"`
	} `json:"metadata"`
}

type apiSegment struct {
	Text       string   `json:"text"`
	Transcript string   `json:"transcript"`
	Start      *float64 `json:"start"`
	StartTime  *float64 `json:"start_time"`
	Time       *float64 `json:"time"`
	Duration   *float64 `json:"duration"`
	DurationMS *float64 `json:"duration_ms"`
}

// Fetch retrieves and normalizes the transcript for a YouTube video URL.
func (c *Client) Fetch(ctx context.Context, videoURL string) (*Result, error) {
	videoID, ok := ExtractVideoID(videoURL)
	if !ok {
		return nil, fmt.Errorf("invalid youtube url: %q", videoURL)
	}

	body, err := json.Marshal(map[string]string{"video_url": videoURL})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/transcript", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-RapidAPI-Key", c.apiKey)
	req.Header.Set("X-RapidAPI-Host", "transcriptapi.p.rapidapi.com")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, upstreamError(resp.StatusCode, raw)
	}

	var parsed apiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &UpstreamError{Status: resp.StatusCode, Message: "invalid transcript response", Detail: raw}
	}

	result := &Result{
		VideoID:  videoID,
		Language: firstNonEmpty(parsed.Language, parsed.Lang),
	}
	result.Segments, result.Text = normalizeTranscript(parsed.Transcript)
	result.Metadata = normalizeMetadata(parsed, videoID)
	return result, nil
}

func upstreamError(status int, raw []byte) *UpstreamError {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	message := "failed to fetch transcript"
	if err := json.Unmarshal(raw, &body); err == nil {
		message = firstNonEmpty(body.Error, body.Message, message)
	} else if len(raw) > 0 {
		message = strings.TrimSpace(string(raw))
	}
	return &UpstreamError{Status: status, Message: message, Detail: raw}
}

// normalizeTranscript folds the three observed transcript shapes (segment
// array, bare string, {"text": ...}) into segments plus joined plain text.
func normalizeTranscript(raw json.RawMessage) ([]Segment, string) {
	if len(raw) == 0 {
		return nil, ""
	}

	var items []apiSegment
	if err := json.Unmarshal(raw, &items); err == nil {
		segments := make([]Segment, 0, len(items))
		var texts []string
		for _, item := range items {
			text := firstNonEmpty(item.Text, item.Transcript)
			if text == "" {
				continue
			}
			seg := Segment{
				Text:  text,
				Start: firstFloat(item.Start, item.StartTime, item.Time),
			}
			if item.Duration != nil {
				seg.Duration = item.Duration
			} else if item.DurationMS != nil {
				d := *item.DurationMS / 1000
				seg.Duration = &d
			}
			segments = append(segments, seg)
			texts = append(texts, text)
		}
		return segments, strings.Join(texts, " ")
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return nil, text
	}

	var wrapped struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Text != "" {
		return nil, wrapped.Text
	}
	return nil, ""
}

func normalizeMetadata(parsed apiResponse, videoID string) *VideoMetadata {
	meta := &VideoMetadata{}
	if parsed.Metadata != nil {
		meta.Title = parsed.Metadata.Title
		meta.AuthorName = parsed.Metadata.AuthorName
		meta.AuthorURL = parsed.Metadata.AuthorURL
		meta.ThumbnailURL = parsed.Metadata.ThumbnailURL
	}
	meta.Title = firstNonEmpty(meta.Title, parsed.Title)
	meta.AuthorName = firstNonEmpty(meta.AuthorName, parsed.Author, parsed.Channel)
	meta.AuthorURL = firstNonEmpty(meta.AuthorURL, parsed.ChannelURL)
	meta.ThumbnailURL = firstNonEmpty(meta.ThumbnailURL, parsed.Thumbnail,
		fmt.Sprintf("https://img.youtube.com/vi/%s/maxresdefault.jpg", videoID))
	if meta.Title == "" && meta.AuthorName == "" {
		meta.Title = videoID
	}
	return meta
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstFloat(values ...*float64) *float64 {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}
