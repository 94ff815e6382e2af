// Package stackexchange provides a client for the Stack Exchange API v2.3
// search and answers endpoints.
package stackexchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/answer-cli/internal/metrics"
	"github.com/sells-group/answer-cli/internal/resilience"
)

const (
	endpointSearch  = "search"
	endpointAnswers = "answers"
)

// Client defines the Stack Exchange operations used for answer retrieval.
type Client interface {
	// Search runs an accepted-only, relevance-sorted question search.
	Search(ctx context.Context, query string) (*SearchResponse, error)
	// Answers lists the answers to a question, highest voted first.
	Answers(ctx context.Context, questionID int64) (*AnswersResponse, error)
}

// SearchResponse is the parsed search/advanced response.
type SearchResponse struct {
	Items          []Question `json:"items"`
	HasMore        bool       `json:"has_more"`
	QuotaRemaining int        `json:"quota_remaining"`
	Backoff        int        `json:"backoff,omitempty"`
}

// Question is one search hit.
type Question struct {
	QuestionID       int64  `json:"question_id"`
	Title            string `json:"title"`
	Score            int    `json:"score"`
	Link             string `json:"link"`
	IsAnswered       bool   `json:"is_answered"`
	AcceptedAnswerID int64  `json:"accepted_answer_id,omitempty"`
}

// AnswersResponse is the parsed questions/{id}/answers response.
type AnswersResponse struct {
	Items          []Answer `json:"items"`
	HasMore        bool     `json:"has_more"`
	QuotaRemaining int      `json:"quota_remaining"`
	Backoff        int      `json:"backoff,omitempty"`
}

// Answer is one answer; Body is HTML when the withbody filter is used.
type Answer struct {
	AnswerID   int64  `json:"answer_id"`
	QuestionID int64  `json:"question_id"`
	Score      int    `json:"score"`
	IsAccepted bool   `json:"is_accepted"`
	Body       string `json:"body"`
}

// APIError is the Stack Exchange error envelope.
type APIError struct {
	StatusCode int    `json:"-"`
	ID         int    `json:"error_id"`
	Name       string `json:"error_name"`
	Message    string `json:"error_message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("stackexchange: %s (%d): %s", e.Name, e.ID, e.Message)
}

// Transient reports whether the API asked the caller to come back later.
// error_id 502 is throttle_violation, 503 temporarily_unavailable.
func (e *APIError) Transient() bool {
	return e.ID == 502 || e.ID == 503 || resilience.IsTransientHTTPStatus(e.StatusCode)
}

// Option configures the Stack Exchange client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithSite selects the Stack Exchange site. Default: stackoverflow.
func WithSite(site string) Option {
	return func(c *httpClient) {
		if site != "" {
			c.site = site
		}
	}
}

// WithKey sets the application key, which raises the daily quota.
func WithKey(key string) Option {
	return func(c *httpClient) {
		c.key = key
	}
}

// WithPageSize sets how many items each request asks for.
func WithPageSize(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithRateLimit paces requests to perSec. Zero or less disables pacing.
func WithRateLimit(perSec float64) Option {
	return func(c *httpClient) {
		c.pacer = newPacer(perSec)
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	baseURL  string
	site     string
	key      string
	pageSize int
	pacer    *pacer
	http     *http.Client
}

// NewClient creates a new Stack Exchange client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL:  "https://api.stackexchange.com/2.3",
		site:     "stackoverflow",
		pageSize: 10,
		pacer:    newPacer(10), // the API throttles above 30 requests/sec per IP
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, query string) (*SearchResponse, error) {
	params := c.params()
	params.Set("order", "desc")
	params.Set("sort", "relevance")
	params.Set("accepted", "True")
	params.Set("q", query)

	var result SearchResponse
	if err := c.get(ctx, endpointSearch, "/search/advanced", params, &result); err != nil {
		return nil, err
	}
	c.logQuota(endpointSearch, result.QuotaRemaining, result.Backoff)
	return &result, nil
}

func (c *httpClient) Answers(ctx context.Context, questionID int64) (*AnswersResponse, error) {
	params := c.params()
	params.Set("order", "desc")
	params.Set("sort", "votes")

	path := "/questions/" + strconv.FormatInt(questionID, 10) + "/answers"

	var result AnswersResponse
	if err := c.get(ctx, endpointAnswers, path, params, &result); err != nil {
		return nil, eris.Wrapf(err, "stackexchange: answers for question %d", questionID)
	}
	c.logQuota(endpointAnswers, result.QuotaRemaining, result.Backoff)
	return &result, nil
}

func (c *httpClient) params() url.Values {
	params := url.Values{}
	params.Set("site", c.site)
	params.Set("filter", "withbody")
	params.Set("pagesize", strconv.Itoa(c.pageSize))
	if c.key != "" {
		params.Set("key", c.key)
	}
	return params
}

func (c *httpClient) get(ctx context.Context, endpoint, path string, params url.Values, out any) error {
	if err := c.pacer.Wait(ctx); err != nil {
		return eris.Wrap(err, "stackexchange: rate limit wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return eris.Wrap(err, "stackexchange: create request")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.StackExchangeRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StackExchangeRequestsTotal.WithLabelValues(endpoint, "transport_error").Inc()
		return eris.Wrapf(err, "stackexchange: %s request", endpoint)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.StackExchangeRequestsTotal.WithLabelValues(endpoint, "transport_error").Inc()
		return eris.Wrapf(err, "stackexchange: read %s response", endpoint)
	}

	if resp.StatusCode != http.StatusOK {
		metrics.StackExchangeRequestsTotal.WithLabelValues(endpoint, "http_error").Inc()
		err := statusError(resp.StatusCode, body)
		var apiErr *APIError
		if resp.StatusCode == http.StatusTooManyRequests || (errors.As(err, &apiErr) && apiErr.ID == 502) {
			c.pacer.OnThrottle()
		}
		return err
	}
	metrics.StackExchangeRequestsTotal.WithLabelValues(endpoint, "ok").Inc()
	c.pacer.OnSuccess()

	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrapf(err, "stackexchange: unmarshal %s response", endpoint)
	}
	return nil
}

// statusError maps a non-200 response to an APIError when the body carries
// the error envelope, falling back to a plain status error.
func statusError(status int, body []byte) error {
	apiErr := &APIError{StatusCode: status}
	if json.Unmarshal(body, apiErr) != nil || apiErr.ID == 0 {
		return resilience.StatusError("stackexchange", status, string(body))
	}
	if apiErr.Transient() {
		return resilience.NewTransientError(apiErr, status)
	}
	return apiErr
}

func (c *httpClient) logQuota(endpoint string, remaining, backoff int) {
	c.pacer.Backoff(backoff)
	fields := []zap.Field{
		zap.String("endpoint", endpoint),
		zap.Int("quota_remaining", remaining),
	}
	if backoff > 0 {
		zap.L().Warn("stackexchange: backoff requested", append(fields, zap.Int("backoff_secs", backoff))...)
		return
	}
	zap.L().Debug("stackexchange: request complete", fields...)
}
