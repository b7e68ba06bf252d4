package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/relaychat/internal/config"
	"github.com/comigor/relaychat/internal/history"
	"github.com/comigor/relaychat/internal/llm"
	"github.com/comigor/relaychat/internal/logger"
	"github.com/comigor/relaychat/internal/metrics"
)

// Service forwards one chat request to the upstream provider. It holds no
// per-request state and is safe for concurrent use.
type Service struct {
	llmClient llm.Client
	model     string
	mode      string
	maxTokens int
	window    history.Window
	metrics   *metrics.Metrics
}

// New creates a relay service for the configured mode. window may be nil,
// in which case history is replayed in full.
func New(llmClient llm.Client, appCfg config.Config, window history.Window, m *metrics.Metrics) *Service {
	if window == nil {
		window = history.FullWindow{}
	}
	return &Service{
		llmClient: llmClient,
		model:     appCfg.LLM.Model,
		mode:      appCfg.Relay.Mode,
		maxTokens: appCfg.Relay.EffectiveMaxTokens(),
		window:    window,
		metrics:   m,
	}
}

// Mode returns the request shape this service accepts.
func (s *Service) Mode() string { return s.mode }

// Generate validates req, forwards it upstream and returns the first
// choice's content with surrounding whitespace trimmed. Every error it
// returns is a *Error.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	log := logger.From(ctx)
	if s.mode == config.ModePrompt {
		log.Info("prompt received", "prompt", req.Prompt)
	} else {
		log.Info("history received", "messages", req.Messages)
	}

	messages, err := s.upstreamMessages(req)
	if err != nil {
		return "", err
	}
	if s.mode == config.ModeHistory {
		log.Debug("history windowed", "forwarded", len(messages), "policy", s.window.Name())
	}

	ctx, raw := llm.WithResponseCapture(ctx)
	start := time.Now()
	resp, err := s.llmClient.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     s.model,
		Messages:  messages,
		MaxTokens: s.maxTokens,
	})
	s.metrics.ObserveUpstream(s.model, time.Since(start))
	if err != nil {
		re := classifyUpstream(err)
		if body := raw.Body(); len(body) > 0 {
			re.Body = string(body)
		}
		return "", re
	}
	if body := raw.Body(); body != nil {
		log.Info("upstream response", "status", raw.Status(), "body", string(body))
	} else {
		log.Info("upstream response", "response", resp)
	}

	content, err := firstContent(resp, raw.Body())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

// firstContent returns the content of the first choice. A first choice
// without a message content string is malformed. The raw body decides when
// it was captured; otherwise an empty content with no finish reason counts
// as missing.
func firstContent(resp openai.ChatCompletionResponse, raw []byte) (string, error) {
	if len(resp.Choices) == 0 {
		return "", &Error{Kind: KindMalformed, Body: string(raw), Err: errors.New("upstream returned no choices")}
	}
	missing := &Error{Kind: KindMalformed, Body: string(raw), Err: errors.New("first choice has no message content")}

	if raw == nil {
		first := resp.Choices[0]
		if first.Message.Content == "" && first.FinishReason == "" {
			return "", missing
		}
		return first.Message.Content, nil
	}

	var shape struct {
		Choices []struct {
			Message *struct {
				Content *string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &shape); err != nil {
		return "", &Error{Kind: KindMalformed, Body: string(raw), Err: fmt.Errorf("decode upstream body: %w", err)}
	}
	if len(shape.Choices) == 0 || shape.Choices[0].Message == nil || shape.Choices[0].Message.Content == nil {
		return "", missing
	}
	return *shape.Choices[0].Message.Content, nil
}

func (s *Service) upstreamMessages(req GenerateRequest) ([]openai.ChatCompletionMessage, error) {
	if s.mode == config.ModePrompt {
		if strings.TrimSpace(req.Prompt) == "" {
			return nil, validationError("prompt is required")
		}
		return []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: req.Prompt}}, nil
	}

	if len(req.Messages) == 0 {
		return nil, validationError("messages is required")
	}
	for i, m := range req.Messages {
		if !m.Role.Valid() {
			return nil, validationError("messages[%d]: invalid role %q", i, m.Role)
		}
	}

	windowed := s.window.Apply(req.Messages)
	out := make([]openai.ChatCompletionMessage, 0, len(windowed))
	for _, m := range windowed {
		out = append(out, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	return out, nil
}

// describe renders err for the operator log with the upstream body when present.
func describe(err error) string {
	var re *Error
	if errors.As(err, &re) && re.Body != "" {
		return fmt.Sprintf("%v (body: %s)", re, re.Body)
	}
	return err.Error()
}
