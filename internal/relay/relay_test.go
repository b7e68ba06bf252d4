package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/comigor/relaychat/internal/config"
	"github.com/comigor/relaychat/internal/history"
)

type mockLLM struct {
	calls    []openai.ChatCompletionResponse
	err      error
	requests []openai.ChatCompletionRequest
}

func (m *mockLLM) CreateChatCompletion(ctx context.Context, r openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	m.requests = append(m.requests, r)
	if m.err != nil {
		return openai.ChatCompletionResponse{}, m.err
	}
	if len(m.calls) == 0 {
		panic("mockLLM: no more responses configured")
	}
	resp := m.calls[0]
	m.calls = m.calls[1:]
	return resp, nil
}

func reply(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content}}},
	}
}

func testConfig(mode string) config.Config {
	return config.Config{
		LLM:   config.LLMConfig{Model: "gpt-3.5-turbo"},
		Relay: config.RelayConfig{Mode: mode},
	}
}

// TestGenerate_PromptMode checks the single-turn upstream request shape and trimming.
func TestGenerate_PromptMode(t *testing.T) {
	mock := &mockLLM{calls: []openai.ChatCompletionResponse{reply(" Hi there! ")}}
	svc := New(mock, testConfig(config.ModePrompt), nil, nil)

	out, err := svc.Generate(context.Background(), GenerateRequest{Prompt: "Hello"})
	require.NoError(t, err)
	require.Equal(t, "Hi there!", out)

	require.Len(t, mock.requests, 1)
	got := mock.requests[0]
	require.Equal(t, "gpt-3.5-turbo", got.Model)
	require.Equal(t, 50, got.MaxTokens)
	require.Equal(t, []openai.ChatCompletionMessage{{Role: "user", Content: "Hello"}}, got.Messages)
}

func TestGenerate_HistoryModeForwardsWholeConversation(t *testing.T) {
	mock := &mockLLM{calls: []openai.ChatCompletionResponse{reply("\n4\n")}}
	svc := New(mock, testConfig(config.ModeHistory), nil, nil)

	msgs := []history.Message{
		history.User("2+1?"),
		history.Assistant("3"),
		history.User("and +1?"),
	}
	out, err := svc.Generate(context.Background(), GenerateRequest{Messages: msgs})
	require.NoError(t, err)
	require.Equal(t, "4", out)

	got := mock.requests[0]
	require.Equal(t, 100, got.MaxTokens)
	require.Equal(t, []openai.ChatCompletionMessage{
		{Role: "user", Content: "2+1?"},
		{Role: "assistant", Content: "3"},
		{Role: "user", Content: "and +1?"},
	}, got.Messages)
}

func TestGenerate_HistoryModeAppliesWindow(t *testing.T) {
	mock := &mockLLM{calls: []openai.ChatCompletionResponse{reply("ok")}}
	svc := New(mock, testConfig(config.ModeHistory), history.LastNWindow{N: 1}, nil)

	_, err := svc.Generate(context.Background(), GenerateRequest{Messages: []history.Message{
		history.User("first"),
		history.Assistant("reply"),
		history.User("second"),
	}})
	require.NoError(t, err)
	require.Equal(t, []openai.ChatCompletionMessage{{Role: "user", Content: "second"}}, mock.requests[0].Messages)
}

func TestGenerate_ConfiguredMaxTokens(t *testing.T) {
	mock := &mockLLM{calls: []openai.ChatCompletionResponse{reply("ok")}}
	cfg := testConfig(config.ModePrompt)
	cfg.Relay.MaxTokens = 300
	svc := New(mock, cfg, nil, nil)

	_, err := svc.Generate(context.Background(), GenerateRequest{Prompt: "hi"})
	require.NoError(t, err)
	require.Equal(t, 300, mock.requests[0].MaxTokens)
}

func TestGenerate_ValidationNeverCallsUpstream(t *testing.T) {
	tests := []struct {
		name string
		mode string
		req  GenerateRequest
	}{
		{"prompt missing", config.ModePrompt, GenerateRequest{}},
		{"prompt blank", config.ModePrompt, GenerateRequest{Prompt: "   "}},
		{"prompt mode ignores messages", config.ModePrompt, GenerateRequest{Messages: []history.Message{history.User("hi")}}},
		{"messages missing", config.ModeHistory, GenerateRequest{Prompt: "hi"}},
		{"bad role", config.ModeHistory, GenerateRequest{Messages: []history.Message{{Role: "system", Content: "x"}}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mock := &mockLLM{}
			svc := New(mock, testConfig(tc.mode), nil, nil)

			_, err := svc.Generate(context.Background(), tc.req)
			require.Error(t, err)
			require.Equal(t, KindValidation, KindOf(err))
			require.Empty(t, mock.requests)
		})
	}
}

func TestGenerate_LLMError(t *testing.T) {
	svc := New(&mockLLM{err: context.DeadlineExceeded}, testConfig(config.ModePrompt), nil, nil)
	_, err := svc.Generate(context.Background(), GenerateRequest{Prompt: "hi"})
	require.Error(t, err)
	require.Equal(t, KindTransport, KindOf(err))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGenerate_NoChoices(t *testing.T) {
	mock := &mockLLM{calls: []openai.ChatCompletionResponse{{}}}
	svc := New(mock, testConfig(config.ModePrompt), nil, nil)

	_, err := svc.Generate(context.Background(), GenerateRequest{Prompt: "hi"})
	require.Equal(t, KindMalformed, KindOf(err))
}

func TestGenerate_EmptyFirstChoiceIsMalformed(t *testing.T) {
	mock := &mockLLM{calls: []openai.ChatCompletionResponse{{Choices: []openai.ChatCompletionChoice{{Index: 0}}}}}
	svc := New(mock, testConfig(config.ModePrompt), nil, nil)

	_, err := svc.Generate(context.Background(), GenerateRequest{Prompt: "hi"})
	require.Equal(t, KindMalformed, KindOf(err))
}

func TestGenerate_EmptyContentWithFinishReason(t *testing.T) {
	resp := openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{{
		Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant},
		FinishReason: openai.FinishReasonLength,
	}}}
	svc := New(&mockLLM{calls: []openai.ChatCompletionResponse{resp}}, testConfig(config.ModePrompt), nil, nil)

	got, err := svc.Generate(context.Background(), GenerateRequest{Prompt: "hi"})
	require.NoError(t, err)
	require.Equal(t, "", got)
}

func TestFirstContent_RawBody(t *testing.T) {
	decoded := openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{{}}}
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "content present", raw: `{"choices":[{"message":{"role":"assistant","content":" hi "}}]}`, want: " hi "},
		{name: "empty content string", raw: `{"choices":[{"message":{"role":"assistant","content":""}}]}`, want: ""},
		{name: "no message", raw: `{"choices":[{"index":0}]}`, wantErr: true},
		{name: "null message", raw: `{"choices":[{"message":null}]}`, wantErr: true},
		{name: "no content", raw: `{"choices":[{"message":{"role":"assistant"}}]}`, wantErr: true},
		{name: "null content", raw: `{"choices":[{"message":{"role":"assistant","content":null}}]}`, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := firstContent(decoded, []byte(tc.raw))
			if tc.wantErr {
				require.Equal(t, KindMalformed, KindOf(err))
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestClassifyUpstream(t *testing.T) {
	var syntaxErr *json.SyntaxError
	decodeErr := json.Unmarshal([]byte("{"), &struct{}{})
	require.ErrorAs(t, decodeErr, &syntaxErr)

	tests := []struct {
		name   string
		err    error
		kind   Kind
		status int
	}{
		{"api error", &openai.APIError{HTTPStatusCode: 401, Message: "Incorrect API key provided"}, KindRejection, 401},
		{"request error", &openai.RequestError{HTTPStatusCode: 502, Err: errors.New("bad gateway")}, KindRejection, 502},
		{"connection refused", &url.Error{Op: "Post", URL: "http://x", Err: errors.New("connection refused")}, KindTransport, 0},
		{"canceled", context.Canceled, KindTransport, 0},
		{"undecodable body", decodeErr, KindMalformed, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyUpstream(tc.err)
			require.Equal(t, tc.kind, got.Kind)
			require.Equal(t, tc.status, got.Status)
			require.ErrorIs(t, got, tc.err)
		})
	}
}

func TestKindCodesAreStable(t *testing.T) {
	require.Equal(t, "invalid_request", KindValidation.Code())
	require.Equal(t, "upstream_unavailable", KindTransport.Code())
	require.Equal(t, "upstream_rejected", KindRejection.Code())
	require.Equal(t, "upstream_malformed", KindMalformed.Code())
	require.Equal(t, Kind(0), KindOf(errors.New("plain")))
}
