// Package qa answers a question by grounding a streamed chat completion in
// ranked Stack Exchange answers.
package qa

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/sells-group/answer-cli/internal/answers"
	"github.com/sells-group/answer-cli/internal/metrics"
	"github.com/sells-group/answer-cli/internal/sse"
	"github.com/sells-group/answer-cli/internal/token"
	"github.com/sells-group/answer-cli/pkg/completion"
)

// ReasonNoAnswers is the Completed reason when nothing relevant was found.
const ReasonNoAnswers = "no relevant answers found"

// Aggregator produces the ranked candidates for a question.
type Aggregator interface {
	Aggregate(ctx context.Context, question string) []answers.Candidate
}

// Result describes a finished Ask, successful or not.
type Result struct {
	RequestID string
	State     State
	Answers   []answers.Candidate
	Text      string
	Fragments int
	Malformed int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithDecoderOptions passes options to every stream decoder.
func WithDecoderOptions(opts ...sse.Option) Option {
	return func(o *Orchestrator) {
		o.decoderOpts = append(o.decoderOpts, opts...)
	}
}

// Orchestrator drives one question through search, prompt and stream.
type Orchestrator struct {
	aggregator  Aggregator
	streamer    completion.Streamer
	tokens      token.Source
	decoderOpts []sse.Option
}

// New creates an Orchestrator.
func New(aggregator Aggregator, streamer completion.Streamer, tokens token.Source, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		aggregator: aggregator,
		streamer:   streamer,
		tokens:     tokens,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Ask answers question, sending progress and text fragments to p. The
// returned Result is never nil. A question with no relevant answers ends in
// StateAggregationEmpty with a nil error.
func (o *Orchestrator) Ask(ctx context.Context, question string, p Presenter) (*Result, error) {
	if p == nil {
		p = Discard
	}
	run := &run{
		res: &Result{RequestID: uuid.NewString(), State: StateIdle},
		p:   p,
	}
	run.log = zap.L().With(zap.String("request_id", run.res.RequestID))

	question = strings.TrimSpace(question)
	if question == "" {
		return run.fail(&Error{Kind: KindInput, Op: "validate", Err: ErrEmptyQuestion})
	}
	tok := ""
	if o.tokens != nil {
		tok = o.tokens.Token()
	}
	if tok == "" {
		return run.fail(&Error{Kind: KindAuth, Op: "validate", Err: ErrUnauthenticated})
	}

	run.res.State = StateSearchInFlight
	p.Status(Update{Status: StatusSearching})

	candidates := o.aggregator.Aggregate(ctx, question)
	if err := ctx.Err(); err != nil {
		return run.fail(&Error{Kind: KindNetwork, Op: "aggregate", Err: err})
	}
	if len(candidates) == 0 {
		run.res.State = StateAggregationEmpty
		p.Status(Update{Status: StatusCompleted, Reason: ReasonNoAnswers})
		metrics.AsksTotal.WithLabelValues("empty").Inc()
		run.log.Info("qa: no relevant answers")
		return run.res, nil
	}
	run.res.State = StateAggregationDone
	run.res.Answers = candidates

	p.Status(Update{Status: StatusQuerying})
	run.res.State = StateCompletionInFlight

	prompt := PromptContext{Question: question, Answers: candidates}.Render()
	body, err := o.streamer.Stream(ctx, completion.Request{Prompt: prompt, Token: tok})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return run.fail(&Error{Kind: KindNetwork, Op: "open completion", Err: ctxErr})
		}
		return run.fail(classifyOpen(err))
	}
	defer body.Close() //nolint:errcheck

	// Unblock a pending body read as soon as the caller gives up.
	stop := context.AfterFunc(ctx, func() { _ = body.Close() })
	defer stop()

	run.res.State = StateStreaming
	p.Status(Update{Status: StatusGeneratingResponse})

	start := time.Now()
	var text strings.Builder
	err = sse.Read(ctx, body, func(ev sse.Event) error {
		metrics.StreamEventsTotal.WithLabelValues(ev.Kind.String()).Inc()
		switch ev.Kind {
		case sse.KindData:
			if e := gjson.GetBytes(ev.Data, "error"); e.Exists() && e.Type != gjson.Null {
				return &Error{Kind: KindUpstream, Op: "stream", Err: eris.New(upstreamMessage(e))}
			}
			if delta := gjson.GetBytes(ev.Data, "choices.0.delta.content").String(); delta != "" {
				text.WriteString(delta)
				run.res.Fragments++
				p.Fragment(delta)
			}
		case sse.KindMalformed:
			run.res.Malformed++
			run.log.Warn("qa: dropped malformed stream event",
				zap.Int("bytes", len(ev.Raw)),
				zap.String("raw", truncate(ev.Raw, 200)))
		}
		return nil
	}, o.decoderOpts...)
	metrics.CompletionDuration.Observe(time.Since(start).Seconds())
	run.res.Text = text.String()

	if err != nil {
		var qe *Error
		switch {
		case errors.As(err, &qe):
			return run.fail(qe)
		case ctx.Err() != nil:
			return run.fail(&Error{Kind: KindNetwork, Op: "stream", Err: ctx.Err()})
		default:
			return run.fail(&Error{Kind: KindNetwork, Op: "stream", Err: err})
		}
	}

	run.res.State = StateCompleted
	p.Status(Update{Status: StatusCompleted})
	metrics.AsksTotal.WithLabelValues("completed").Inc()
	run.log.Info("qa: completed",
		zap.Int("answers", len(candidates)),
		zap.Int("fragments", run.res.Fragments),
		zap.Int("malformed", run.res.Malformed),
		zap.Duration("stream", time.Since(start)))
	return run.res, nil
}

type run struct {
	res *Result
	p   Presenter
	log *zap.Logger
}

func (r *run) fail(err *Error) (*Result, error) {
	r.res.State = StateFailed
	r.p.Status(Update{Status: StatusFailed, Reason: reason(err)})
	metrics.AsksTotal.WithLabelValues(err.Kind.String()).Inc()
	r.log.Warn("qa: failed",
		zap.String("kind", err.Kind.String()),
		zap.String("op", err.Op),
		zap.Error(err.Err))
	return r.res, err
}

// reason is the short user-facing explanation of a failure.
func reason(err *Error) string {
	switch err.Kind {
	case KindInput:
		return "please enter a question"
	case KindAuth:
		if errors.Is(err, ErrUnauthenticated) {
			return "please sign in first"
		}
		return "the completion service rejected the credential"
	case KindUpstream:
		return "the completion service returned an error: " + err.Err.Error()
	default:
		if errors.Is(err, context.Canceled) {
			return "cancelled"
		}
		return "could not fetch a response"
	}
}

func upstreamMessage(e gjson.Result) string {
	if msg := e.Get("message").String(); msg != "" {
		return msg
	}
	return e.Raw
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
