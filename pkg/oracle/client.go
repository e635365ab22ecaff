// Package oracle talks to the external mediation service, an LLM
// chat-completions endpoint that converts a transcript into free text.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bhumitgoyal/convo-legal-mistral/pkg/httpx"
	"github.com/bhumitgoyal/convo-legal-mistral/pkg/negotiation"
)

const (
	DefaultURL         = "https://openrouter.ai/api/v1/chat/completions"
	DefaultModel       = "mistralai/mistral-7b-instruct:free"
	DefaultTemperature = 0.3
)

const systemPrompt = `You are a fair and impartial legal mediator. Analyze the following negotiation between two parties and provide a balanced verdict that represents a fair compromise. Your response must be in valid JSON format with two fields:
1. 'summary': A brief summary of the negotiation and the key points of contention
2. 'compromise': A detailed middle-ground solution that addresses the concerns of both parties, just a paragraph and nothing else, no other objects

Respond only with the JSON object, no additional text or explanation.`

// Client requests a raw mediation verdict for a full transcript.
type Client interface {
	RequestVerdict(ctx context.Context, transcript []negotiation.Message) (string, error)
}

// StatusError reports a non-2xx response from the mediation service.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("oracle returned status %d: %s", e.StatusCode, e.Body)
}

var ErrEmptyCompletion = errors.New("oracle returned no completion choices")

// HTTPClient is the production Client: one synchronous chat-completions call
// with fixed model and temperature, Bearer-authenticated.
type HTTPClient struct {
	Client      *http.Client
	URL         string
	APIKey      string
	Model       string
	Temperature float64
	Retries     int
	RetryDelay  time.Duration
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *HTTPClient) RequestVerdict(ctx context.Context, transcript []negotiation.Message) (string, error) {
	url := c.URL
	if url == "" {
		url = DefaultURL
	}
	model := c.Model
	if model == "" {
		model = DefaultModel
	}
	temperature := c.Temperature
	if temperature == 0 {
		temperature = DefaultTemperature
	}

	payload, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: "Here is the negotiation conversation:\n\n" + FormatTranscript(transcript)},
		},
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("encode oracle request: %w", err)
	}

	headers := map[string]string{}
	if c.APIKey != "" {
		headers["Authorization"] = "Bearer " + c.APIKey
	}
	status, body, err := httpx.RequestJSON(ctx, c.Client, http.MethodPost, url, payload, headers, c.Retries, c.RetryDelay)
	if err != nil {
		return "", fmt.Errorf("oracle request: %w", err)
	}
	if status < 200 || status > 299 {
		return "", &StatusError{StatusCode: status, Body: string(body)}
	}

	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode oracle response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	return resp.Choices[0].Message.Content, nil
}

// FormatTranscript serializes messages as "<speaker>: <text>" lines in
// insertion order. The prompt is deterministic for a given transcript.
func FormatTranscript(transcript []negotiation.Message) string {
	lines := make([]string, 0, len(transcript))
	for _, m := range transcript {
		lines = append(lines, m.Speaker+": "+m.Text)
	}
	return strings.Join(lines, "\n")
}
