// Package client is a small Go SDK for the negotiation gateway API.
package client

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

	"github.com/bhumitgoyal/convo-legal-mistral/pkg/negotiation"
	"github.com/bhumitgoyal/convo-legal-mistral/pkg/verdict"
)

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// MessageResult is the gateway's answer to a posted message. Verdict is
// non-nil only once the negotiation completed.
type MessageResult struct {
	NegotiationID     string          `json:"negotiation_id"`
	Status            string          `json:"status"`
	MessagesSent      int             `json:"messages_sent"`
	User1Messages     int             `json:"user1_messages"`
	User2Messages     int             `json:"user2_messages"`
	MessagesRemaining int             `json:"messages_remaining"`
	Verdict           *verdict.Result `json:"verdict,omitempty"`
}

// NegotiationState mirrors GET /negotiation/{id}.
type NegotiationState struct {
	NegotiationID     string                `json:"negotiation_id"`
	Status            string                `json:"status"`
	MessagesSent      int                   `json:"messages_sent"`
	User1Messages     int                   `json:"user1_messages"`
	User2Messages     int                   `json:"user2_messages"`
	MessagesRemaining int                   `json:"messages_remaining"`
	Messages          []negotiation.Message `json:"messages"`
	Verdict           *verdict.Result       `json:"verdict,omitempty"`
}

// APIError carries the gateway's error body alongside the HTTP status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway error status=%d message=%s", e.StatusCode, e.Message)
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// Start opens a new negotiation with an opening message from speaker.
func (c *Client) Start(ctx context.Context, speaker, message string) (MessageResult, error) {
	return c.send(ctx, "", speaker, message)
}

// Send posts a message to an existing negotiation.
func (c *Client) Send(ctx context.Context, negotiationID, speaker, message string) (MessageResult, error) {
	if negotiationID == "" {
		return MessageResult{}, fmt.Errorf("negotiation id is required")
	}
	return c.send(ctx, negotiationID, speaker, message)
}

func (c *Client) send(ctx context.Context, negotiationID, speaker, message string) (MessageResult, error) {
	payload := map[string]string{
		"speaker": speaker,
		"message": message,
	}
	if negotiationID != "" {
		payload["negotiation_id"] = negotiationID
	}
	var out MessageResult
	if err := c.do(ctx, http.MethodPost, "/negotiate", payload, &out); err != nil {
		return MessageResult{}, err
	}
	return out, nil
}

// Get fetches the current state and transcript of a negotiation.
func (c *Client) Get(ctx context.Context, negotiationID string) (NegotiationState, error) {
	var out NegotiationState
	if err := c.do(ctx, http.MethodGet, "/negotiation/"+url.PathEscape(negotiationID), nil, &out); err != nil {
		return NegotiationState{}, err
	}
	return out, nil
}

// Close deletes a negotiation from the gateway.
func (c *Client) Close(ctx context.Context, negotiationID string) error {
	return c.do(ctx, http.MethodDelete, "/negotiation/"+url.PathEscape(negotiationID), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(respBody, &apiErr)
		if apiErr.Error == "" {
			apiErr.Error = strings.TrimSpace(string(respBody))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: apiErr.Error}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}
