package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"

	"github.com/comigor/relaychat/internal/config"
	"github.com/sashabaranov/go-openai"
)

// CredentialFunc yields the bearer credential for one outbound call.
type CredentialFunc func() string

// EnvCredential reads the named environment variable on every call. Nothing
// is cached and an unset variable is sent as an empty credential, so a
// missing key only shows up as an upstream rejection.
func EnvCredential(name string) CredentialFunc {
	return func() string { return os.Getenv(name) }
}

// StaticCredential always yields key.
func StaticCredential(key string) CredentialFunc {
	return func() string { return key }
}

// bearerTransport sets the Authorization header at send time so the
// credential is resolved per request rather than when the client is built.
type bearerTransport struct {
	base       http.RoundTripper
	credential CredentialFunc
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "Bearer "+t.credential())
	r.Header.Set("Content-Type", "application/json")
	resp, err := t.base.RoundTrip(r)
	if err != nil {
		return nil, err
	}

	capture, ok := req.Context().Value(captureKey{}).(*ResponseCapture)
	if !ok {
		return resp, nil
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	capture.set(resp.StatusCode, body)
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, nil
}

type captureKey struct{}

// ResponseCapture keeps the raw upstream response of the calls made with
// the context it was attached to.
type ResponseCapture struct {
	mu     sync.Mutex
	status int
	body   []byte
}

// WithResponseCapture returns a child of ctx whose upstream responses are
// recorded in the returned capture. Only clients built by NewClient fill it.
func WithResponseCapture(ctx context.Context) (context.Context, *ResponseCapture) {
	c := &ResponseCapture{}
	return context.WithValue(ctx, captureKey{}, c), c
}

func (c *ResponseCapture) set(status int, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = status
	c.body = body
}

// Body returns the last raw response body, or nil when none was recorded.
func (c *ResponseCapture) Body() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.body
}

// Status returns the last response status, or 0 when none was recorded.
func (c *ResponseCapture) Status() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// NewClient creates a new OpenAI client whose credential comes from cred.
func NewClient(cfg config.LLMConfig, cred CredentialFunc) *openai.Client {
	config := openai.DefaultConfig("")
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	config.HTTPClient = &http.Client{
		Timeout:   cfg.Timeout,
		Transport: &bearerTransport{base: http.DefaultTransport, credential: cred},
	}

	return openai.NewClientWithConfig(config)
}
