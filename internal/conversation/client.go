package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/comigor/relaychat/internal/config"
	"github.com/comigor/relaychat/internal/history"
	"github.com/comigor/relaychat/internal/relay"
)

// Relay sends one submission to the relay endpoint and returns the reply.
type Relay interface {
	Generate(ctx context.Context, input string, messages []history.Message) (string, error)
}

// StatusError is returned when the relay answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("relay returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("relay returned %d: %s", e.StatusCode, e.Message)
}

// HTTPRelay talks to POST /api/generate on a relaychat server.
type HTTPRelay struct {
	endpoint string
	mode     string
	client   *http.Client
}

// NewHTTPRelay creates a client for the server at baseURL. mode selects the
// payload shape and must match the server's relay.mode.
func NewHTTPRelay(baseURL, mode string, client *http.Client) *HTTPRelay {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPRelay{
		endpoint: strings.TrimRight(baseURL, "/") + "/api/generate",
		mode:     mode,
		client:   client,
	}
}

// Generate posts either {prompt} or {messages} depending on the mode.
func (c *HTTPRelay) Generate(ctx context.Context, input string, messages []history.Message) (string, error) {
	var payload relay.GenerateRequest
	if c.mode == config.ModeHistory {
		payload.Messages = messages
	} else {
		payload.Prompt = input
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp relay.ErrorResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &errResp) == nil && errResp.Error != "" {
			msg = errResp.Error
		}
		return "", &StatusError{StatusCode: resp.StatusCode, Code: resp.Header.Get(relay.ErrorCodeHeader), Message: msg}
	}

	var out relay.GenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return out.Result, nil
}

var _ Relay = (*HTTPRelay)(nil)
