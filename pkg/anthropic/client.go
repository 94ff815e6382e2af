// Package anthropic streams completions from the Anthropic Messages API and
// re-encodes them as OpenAI-style "data:" lines, so the same decoder handles
// both backends.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/sells-group/answer-cli/internal/resilience"
	"github.com/sells-group/answer-cli/pkg/completion"
)

const (
	defaultModel     = "claude-haiku-4-5-20251001"
	defaultMaxTokens = 1024
)

// TokenUsage tracks token consumption of one stream.
type TokenUsage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

// modelPricing holds per-million-token pricing for known models.
var modelPricing = map[string][2]float64{
	// model → {input $/MTok, output $/MTok}
	"claude-haiku-4-5-20251001":  {1.00, 5.00},
	"claude-sonnet-4-5-20250929": {3.00, 15.00},
}

// EstimateCost computes an estimated cost in USD. Returns 0 for unknown models.
func (u TokenUsage) EstimateCost(model string) float64 {
	pricing, ok := modelPricing[model]
	if !ok {
		return 0
	}
	return (float64(u.InputTokens)/1e6)*pricing[0] +
		(float64(u.OutputTokens)/1e6)*pricing[1] +
		(float64(u.CacheCreationInputTokens)/1e6)*pricing[0]*1.25 +
		(float64(u.CacheReadInputTokens)/1e6)*pricing[0]*0.1
}

// Option configures the streamer.
type Option func(*streamer)

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(s *streamer) {
		if model != "" {
			s.model = model
		}
	}
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int64) Option {
	return func(s *streamer) {
		if n > 0 {
			s.maxTokens = n
		}
	}
}

// WithRequestOptions passes SDK options (base URL, retries) to every call.
func WithRequestOptions(opts ...option.RequestOption) Option {
	return func(s *streamer) {
		s.reqOpts = append(s.reqOpts, opts...)
	}
}

type streamer struct {
	apiKey    string
	model     string
	maxTokens int64
	reqOpts   []option.RequestOption
	client    sdk.Client
}

// NewStreamer creates a completion.Streamer backed by the SDK. When apiKey is
// empty the per-request token is used as the API key.
func NewStreamer(apiKey string, opts ...Option) completion.Streamer {
	s := &streamer{
		apiKey:    apiKey,
		model:     defaultModel,
		maxTokens: defaultMaxTokens,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.client = sdk.NewClient(s.reqOpts...)
	return s
}

func (s *streamer) Stream(ctx context.Context, req completion.Request) (io.ReadCloser, error) {
	key := s.apiKey
	if key == "" {
		key = req.Token
	}

	ctx, cancel := context.WithCancel(ctx)
	stream := s.client.Messages.NewStreaming(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(s.model),
		MaxTokens: s.maxTokens,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt))},
	}, option.WithAPIKey(key))

	// A rejected request is known before the first event.
	if err := stream.Err(); err != nil {
		_ = stream.Close()
		cancel()
		return nil, openError(err)
	}

	pr, pw := io.Pipe()
	go func() {
		defer cancel()
		defer stream.Close() //nolint:errcheck

		message := sdk.Message{}
		for stream.Next() {
			event := stream.Current()
			if err := message.Accumulate(event); err != nil {
				pw.CloseWithError(eris.Wrap(err, "anthropic: accumulate message"))
				return
			}

			e, ok := event.AsAny().(sdk.ContentBlockDeltaEvent)
			if !ok || e.Delta.Type != "text_delta" || e.Delta.Text == "" {
				continue
			}
			if err := writeData(pw, deltaChunk(message.ID, e.Delta.Text)); err != nil {
				return // reader went away
			}
		}

		if err := stream.Err(); err != nil {
			var apiErr *sdk.Error
			if errors.As(err, &apiErr) {
				_ = writeData(pw, errorChunk(apiErr.Error()))
				_ = pw.Close()
				return
			}
			pw.CloseWithError(eris.Wrap(err, "anthropic: stream"))
			return
		}

		usage := TokenUsage{
			InputTokens:              message.Usage.InputTokens,
			OutputTokens:             message.Usage.OutputTokens,
			CacheCreationInputTokens: message.Usage.CacheCreationInputTokens,
			CacheReadInputTokens:     message.Usage.CacheReadInputTokens,
		}
		zap.L().Info("anthropic: stream complete",
			zap.String("model", s.model),
			zap.String("stop_reason", string(message.StopReason)),
			zap.Int64("input_tokens", usage.InputTokens),
			zap.Int64("output_tokens", usage.OutputTokens),
			zap.Float64("estimated_cost_usd", usage.EstimateCost(s.model)),
		)

		if _, err := io.WriteString(pw, "data: [DONE]\n\n"); err == nil {
			_ = pw.Close()
		}
	}()

	return &streamBody{PipeReader: pr, cancel: cancel}, nil
}

// streamBody cancels the upstream request when the reader is closed, so the
// producer stops pulling events it can no longer deliver.
type streamBody struct {
	*io.PipeReader
	cancel context.CancelFunc
}

func (b *streamBody) Close() error {
	b.cancel()
	return b.PipeReader.Close()
}

func openError(err error) error {
	var apiErr *sdk.Error
	if !errors.As(err, &apiErr) {
		return eris.Wrap(err, "anthropic: open stream")
	}
	statusErr := &completion.StatusError{StatusCode: apiErr.StatusCode, Body: apiErr.Error()}
	if resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
		return resilience.NewTransientError(statusErr, apiErr.StatusCode)
	}
	return statusErr
}

func deltaChunk(id, text string) any {
	return openai.ChatCompletionStreamResponse{
		ID:     id,
		Object: "chat.completion.chunk",
		Choices: []openai.ChatCompletionStreamChoice{
			{Index: 0, Delta: openai.ChatCompletionStreamChoiceDelta{Content: text}},
		},
	}
}

func errorChunk(msg string) any {
	return map[string]any{"error": map[string]string{"message": msg}}
}

func writeData(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return eris.Wrap(err, "anthropic: marshal chunk")
	}
	if _, err := w.Write(append(append([]byte("data: "), b...), '\n', '\n')); err != nil {
		return err
	}
	return nil
}
