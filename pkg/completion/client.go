// Package completion opens streaming chat completions against an
// OpenAI-compatible endpoint and hands back the raw event-stream body.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	openai "github.com/sashabaranov/go-openai"

	"github.com/sells-group/answer-cli/internal/resilience"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = openai.GPT4oMini
)

// Request is one streaming completion call.
type Request struct {
	Prompt string
	// Token is the bearer credential. Backends with their own key may ignore it.
	Token string
}

// Streamer opens a completion stream. The caller owns the returned body and
// must close it.
type Streamer interface {
	Stream(ctx context.Context, req Request) (io.ReadCloser, error)
}

// StatusError is a non-200 answer to the completion request.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("completion: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Auth reports whether the endpoint rejected the credential.
func (e *StatusError) Auth() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		if url != "" {
			c.baseURL = url
		}
	}
}

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(c *httpClient) {
		if model != "" {
			c.model = model
		}
	}
}

// WithProject appends ":<project>" to the bearer token.
func WithProject(project string) Option {
	return func(c *httpClient) {
		c.project = project
	}
}

// WithMaxTokens caps the completion length. Zero leaves it to the server.
func WithMaxTokens(n int) Option {
	return func(c *httpClient) {
		c.maxTokens = n
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	baseURL   string
	model     string
	project   string
	maxTokens int
	http      *http.Client
}

// NewClient creates an OpenAI-compatible streaming client.
func NewClient(opts ...Option) Streamer {
	c := &httpClient{
		baseURL: defaultBaseURL,
		model:   defaultModel,
		// No overall timeout: a stream lives as long as the answer takes.
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       90 * time.Second,
				ResponseHeaderTimeout: 60 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Stream(ctx context.Context, req Request) (io.ReadCloser, error) {
	body, err := json.Marshal(openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		MaxTokens: c.maxTokens,
		Stream:    true,
	})
	if err != nil {
		return nil, eris.Wrap(err, "completion: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "completion: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")
	httpReq.Header.Set("Authorization", "Bearer "+c.credential(req.Token))

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "completion: send request")
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close() //nolint:errcheck
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: string(msg)}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return nil, statusErr
	}

	return resp.Body, nil
}

func (c *httpClient) credential(token string) string {
	if c.project == "" {
		return token
	}
	return token + ":" + c.project
}
