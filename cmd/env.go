package main

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/answer-cli/internal/answers"
	"github.com/sells-group/answer-cli/internal/config"
	"github.com/sells-group/answer-cli/internal/metrics"
	"github.com/sells-group/answer-cli/internal/qa"
	"github.com/sells-group/answer-cli/internal/sse"
	"github.com/sells-group/answer-cli/internal/token"
	anthropicpkg "github.com/sells-group/answer-cli/pkg/anthropic"
	"github.com/sells-group/answer-cli/pkg/completion"
	"github.com/sells-group/answer-cli/pkg/stackexchange"
)

// initAggregator builds the Stack Exchange client and the aggregator on top.
func initAggregator(c *config.Config) *answers.Aggregator {
	client := stackexchange.NewClient(
		stackexchange.WithBaseURL(c.StackExchange.BaseURL),
		stackexchange.WithSite(c.StackExchange.Site),
		stackexchange.WithKey(c.StackExchange.Key),
		stackexchange.WithRateLimit(c.StackExchange.RatePerSec),
		stackexchange.WithHTTPClient(&http.Client{
			Timeout: time.Duration(c.StackExchange.TimeoutSecs) * time.Second,
		}),
	)
	return answers.New(client,
		answers.WithMaxQuestions(c.StackExchange.MaxQuestions),
		answers.WithMaxAnswers(c.StackExchange.MaxAnswers),
		answers.WithTopK(c.Answers.TopK),
		answers.WithConcurrency(c.StackExchange.Concurrency),
	)
}

// initStreamer picks the completion backend.
func initStreamer(c *config.Config) completion.Streamer {
	if c.Completion.Provider == "anthropic" {
		return anthropicpkg.NewStreamer(c.Anthropic.Key,
			anthropicpkg.WithModel(c.Anthropic.Model),
			anthropicpkg.WithMaxTokens(int64(c.Completion.MaxTokens)),
		)
	}
	return completion.NewClient(
		completion.WithBaseURL(c.Completion.BaseURL),
		completion.WithModel(c.Completion.Model),
		completion.WithProject(c.Completion.Project),
		completion.WithMaxTokens(c.Completion.MaxTokens),
	)
}

// initTokens returns the credential source. With a token URL configured the
// token is fetched once here; a failed fetch falls back to the static value.
func initTokens(ctx context.Context, c *config.Config) token.Source {
	static := token.Static(c.Token.Value)
	if c.Completion.Provider == "anthropic" && c.Anthropic.Key != "" {
		static = token.Static(c.Anthropic.Key)
	}
	if c.Token.URL == "" {
		return static
	}

	remote := token.NewRemote(c.Token.URL, static)
	if err := remote.Refresh(ctx); err != nil {
		zap.L().Warn("token fetch failed, using configured token", zap.Error(err))
	}
	return remote
}

// initOrchestrator wires everything the ask and serve commands need.
func initOrchestrator(ctx context.Context, c *config.Config) *qa.Orchestrator {
	metrics.Register()
	return qa.New(
		initAggregator(c),
		initStreamer(c),
		initTokens(ctx, c),
		qa.WithDecoderOptions(
			sse.WithMaxContinuations(c.Decoder.MaxContinuations),
			sse.WithMaxPendingBytes(c.Decoder.MaxPendingBytes),
		),
	)
}
