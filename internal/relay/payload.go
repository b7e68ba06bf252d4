package relay

import "github.com/comigor/relaychat/internal/history"

// GenerateRequest is the body accepted on /api/generate. Prompt is used in
// prompt mode and Messages in history mode; the other field is ignored.
type GenerateRequest struct {
	Prompt   string            `json:"prompt,omitempty"`
	Messages []history.Message `json:"messages,omitempty"`
}

// GenerateResponse is returned with 200 on success.
type GenerateResponse struct {
	Result string `json:"result"`
}

// ErrorResponse is returned with 500 on any failure.
type ErrorResponse struct {
	Error string `json:"error"`
}
