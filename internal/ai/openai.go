package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrUpstream marks OpenAI failures and malformed model output so callers can
// map them to a stable upstream-error response (or fall back, for polishing).
var ErrUpstream = errors.New("ai upstream error")

// Target languages offered by the translator. Keep in sync with the UI.
var supportedTargets = map[string]bool{
	"EN": true, "ES": true, "FR": true, "DE": true, "IT": true, "PT": true,
	"TR": true, "AR": true, "HI": true, "UR": true, "RU": true, "JA": true,
	"KO": true, "ZH": true,
}

func SupportedTargetLang(lang string) bool {
	return supportedTargets[strings.ToUpper(strings.TrimSpace(lang))]
}

const (
	defaultBaseURL = "https://api.openai.com"
	defaultModel   = "gpt-4o-mini"
)

type Client struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		model:   defaultModel,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (c *Client) Configured() bool {
	return c.apiKey != ""
}

type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (c *Client) chat(ctx context.Context, system, user string, temperature float64) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Temperature: temperature,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, truncate(raw, 500))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("%w: invalid response body", ErrUpstream)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("%w: empty completion", ErrUpstream)
	}
	return parsed.Choices[0].Message.Content, nil
}

// stringArray parses the model output as a JSON array of strings of the
// expected length. Models occasionally wrap the array in a code fence.
func stringArray(content string, want int) ([]string, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var items []string
	if err := json.Unmarshal([]byte(content), &items); err != nil {
		return nil, fmt.Errorf("%w: output is not a JSON string array", ErrUpstream)
	}
	if len(items) != want {
		return nil, fmt.Errorf("%w: output length %d, want %d", ErrUpstream, len(items), want)
	}
	return items, nil
}

const polishInstructions = `You are a professional transcript editor. Improve the following transcript segments for readability:
- Fix grammar and spelling errors
- Add proper punctuation
- Improve sentence structure and flow
- Maintain the original meaning and tone
- Keep the text natural and conversational
- Do not change technical terms or proper nouns unless they are misspelled`

// PolishSegments rewrites each segment text for readability, preserving order
// and count so timestamps stay aligned. Callers fall back to the original
// text on error.
func (c *Client) PolishSegments(ctx context.Context, texts []string) ([]string, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	input, err := json.Marshal(texts)
	if err != nil {
		return nil, err
	}
	prompt := fmt.Sprintf("%s\n\nReturn ONLY a valid JSON array of strings, same length and order as the input. Do not add commentary or extra fields.\n\nInput segments:\n%s",
		polishInstructions, input)

	content, err := c.chat(ctx, "You are a professional transcript editor. Return only valid JSON arrays.", prompt, 0.3)
	if err != nil {
		return nil, err
	}
	return stringArray(content, len(texts))
}

// PolishText rewrites a plain-text transcript for readability.
func (c *Client) PolishText(ctx context.Context, text string) (string, error) {
	prompt := fmt.Sprintf("%s\n\nReturn ONLY the polished transcript text, nothing else.\n\nTranscript:\n%s",
		polishInstructions, text)
	return c.chat(ctx, "You are a professional transcript editor.", prompt, 0.3)
}

// TranslateSegments translates each segment text into targetLang, preserving
// order and count.
func (c *Client) TranslateSegments(ctx context.Context, texts []string, targetLang, sourceLang string) ([]string, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	input, err := json.Marshal(texts)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Translate the following transcript segments into %s.\n", strings.ToUpper(targetLang))
	if sourceLang != "" {
		fmt.Fprintf(&b, "Source language hint: %s.\n", sourceLang)
	}
	b.WriteString("Return ONLY valid JSON: an array of strings, same length and same order as input.\n")
	b.WriteString("Do not add commentary, labels, or extra fields.\n\nInput JSON array:\n")
	b.Write(input)

	content, err := c.chat(ctx, "You are a precise translation engine.", b.String(), 0.2)
	if err != nil {
		return nil, err
	}
	return stringArray(content, len(texts))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}
