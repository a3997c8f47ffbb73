package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"examtutor/internal/model"

	"github.com/tmaxmax/go-sse"
)

// Endpoint identifies one OpenAI-compatible chat-completion target.
type Endpoint struct {
	URL    string
	APIKey string
	Model  string
}

// EndpointFromConfig maps a saved profile to a request target.
func EndpointFromConfig(cfg model.APIConfig) Endpoint {
	return Endpoint{URL: cfg.APIURL, APIKey: cfg.APIKey, Model: cfg.Model}
}

// StreamClient issues streamed chat-completion requests. One client is
// shared by the initial-explanation, follow-up, and retry paths; they
// differ only in the message list they pass.
type StreamClient struct {
	client *http.Client
	logger *slog.Logger
}

func NewStreamClient(logger *slog.Logger) *StreamClient {
	return &StreamClient{
		client: &http.Client{},
		logger: logger.With(slog.String("module", "llm")),
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Complete sends the message list and assembles the streamed reply.
// onToken, when non-nil, receives the accumulated text after every
// non-empty delta. The returned text is trimmed of surrounding
// whitespace. Malformed stream fragments are skipped, not fatal.
func (c *StreamClient) Complete(ctx context.Context, ep Endpoint, messages []model.Message, onToken func(string)) (string, error) {
	if ep.APIKey == "" {
		return "", ErrNoAPIKey
	}

	msgs := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	body, err := json.Marshal(chatRequest{
		Model:       ep.Model,
		Messages:    msgs,
		Temperature: 0.3,
		Stream:      true,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+ep.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		return "", &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(respBody)),
		}
	}

	var full strings.Builder
	for ev, err := range sse.Read(resp.Body, nil) {
		if err != nil {
			return "", fmt.Errorf("read stream: %w", err)
		}
		data := strings.TrimSpace(ev.Data)
		if data == "[DONE]" {
			break
		}
		if data == "" {
			continue
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			c.logger.Warn("skipping malformed stream fragment",
				slog.String("data", data),
				slog.String("error", err.Error()))
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if content := chunk.Choices[0].Delta.Content; content != "" {
			full.WriteString(content)
			if onToken != nil {
				onToken(full.String())
			}
		}
	}

	if full.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return strings.TrimSpace(full.String()), nil
}
