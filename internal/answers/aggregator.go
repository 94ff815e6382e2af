// Package answers retrieves candidate answers for a question from Stack
// Exchange and reduces them to a small ranked set.
package answers

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/answer-cli/internal/htmltext"
	"github.com/sells-group/answer-cli/internal/metrics"
	"github.com/sells-group/answer-cli/pkg/stackexchange"
)

// Default limits for one aggregation.
const (
	DefaultMaxQuestions = 5
	DefaultMaxAnswers   = 3
	DefaultTopK         = 3
	DefaultConcurrency  = 5
)

// Candidate is one answer considered for the prompt.
type Candidate struct {
	Score      int    `json:"score" yaml:"score"`
	Text       string `json:"text" yaml:"text"`
	QuestionID int64  `json:"question_id" yaml:"question_id"`
	AnswerID   int64  `json:"answer_id" yaml:"answer_id"`
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithMaxQuestions caps how many search hits are expanded into answers.
func WithMaxQuestions(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.maxQuestions = n
		}
	}
}

// WithMaxAnswers caps how many answers are kept per question.
func WithMaxAnswers(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.maxAnswers = n
		}
	}
}

// WithTopK sets the size of the ranked result.
func WithTopK(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.topK = n
		}
	}
}

// WithConcurrency bounds the concurrent answers requests.
func WithConcurrency(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// Aggregator runs the search, answers fan-out and ranking.
type Aggregator struct {
	client       stackexchange.Client
	maxQuestions int
	maxAnswers   int
	topK         int
	concurrency  int
}

// New creates an Aggregator backed by client.
func New(client stackexchange.Client, opts ...Option) *Aggregator {
	a := &Aggregator{
		client:       client,
		maxQuestions: DefaultMaxQuestions,
		maxAnswers:   DefaultMaxAnswers,
		topK:         DefaultTopK,
		concurrency:  DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aggregate returns at most topK candidates for question, highest score
// first. Ties keep retrieval order. Failures never surface as errors: a failed
// search yields no candidates and a failed answers request drops only that
// question.
func (a *Aggregator) Aggregate(ctx context.Context, question string) []Candidate {
	log := zap.L().With(zap.String("question", question))
	start := time.Now()

	ids := a.search(ctx, question, log)
	if len(ids) == 0 {
		log.Info("answers: no matching questions")
		return nil
	}

	// One slot per question keeps the concatenation in search order
	// regardless of which request finishes first.
	slots := make([][]Candidate, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)

	for i, id := range ids {
		g.Go(func() error {
			slots[i] = a.answers(gctx, id, log)
			return nil // a failed question must not cancel its siblings
		})
	}
	_ = g.Wait()

	var all []Candidate
	for _, s := range slots {
		all = append(all, s...)
	}
	metrics.CandidatesTotal.WithLabelValues("fetched").Add(float64(len(all)))

	ranked := Rank(all, a.topK)
	metrics.CandidatesTotal.WithLabelValues("ranked").Add(float64(len(ranked)))

	log.Info("answers: aggregated",
		zap.Int("questions", len(ids)),
		zap.Int("candidates", len(all)),
		zap.Int("ranked", len(ranked)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return ranked
}

// Rank stable-sorts candidates by score descending and keeps the first k.
// The input slice is not modified.
func Rank(candidates []Candidate, k int) []Candidate {
	if len(candidates) == 0 || k <= 0 {
		return nil
	}
	out := make([]Candidate, len(candidates))
	copy(out, candidates)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}

func (a *Aggregator) search(ctx context.Context, question string, log *zap.Logger) []int64 {
	resp, err := a.client.Search(ctx, question)
	if err != nil {
		log.Warn("answers: search failed", zap.Error(err))
		return nil
	}

	var ids []int64
	for _, q := range resp.Items {
		if len(ids) == a.maxQuestions {
			break
		}
		ids = append(ids, q.QuestionID)
	}
	return ids
}

func (a *Aggregator) answers(ctx context.Context, questionID int64, log *zap.Logger) []Candidate {
	resp, err := a.client.Answers(ctx, questionID)
	if err != nil {
		log.Warn("answers: fetch failed",
			zap.Int64("question_id", questionID),
			zap.Error(err))
		return nil
	}

	items := resp.Items
	if len(items) > a.maxAnswers {
		items = items[:a.maxAnswers]
	}

	out := make([]Candidate, 0, len(items))
	for _, ans := range items {
		out = append(out, Candidate{
			Score:      ans.Score,
			Text:       htmltext.Extract(ans.Body),
			QuestionID: questionID,
			AnswerID:   ans.AnswerID,
		})
	}
	return out
}
