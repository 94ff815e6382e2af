// Package server exposes question answering over HTTP with streamed
// text/event-stream responses.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/answer-cli/internal/answers"
	"github.com/sells-group/answer-cli/internal/metrics"
	"github.com/sells-group/answer-cli/internal/qa"
)

// Asker answers one question, reporting progress to a presenter.
type Asker interface {
	Ask(ctx context.Context, question string, p qa.Presenter) (*qa.Result, error)
}

// Options configures the router.
type Options struct {
	AllowedOrigins []string
}

// NewRouter builds the HTTP handler.
func NewRouter(asker Asker, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware())

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/v1/ask", askHandler(asker))

	return r
}

type askRequest struct {
	Question string `json:"question"`
}

type doneFrame struct {
	RequestID string              `json:"request_id"`
	State     string              `json:"state"`
	Answers   []answers.Candidate `json:"answers,omitempty"`
	Error     string              `json:"error,omitempty"`
	Kind      string              `json:"kind,omitempty"`
}

func askHandler(asker Asker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req askRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		if strings.TrimSpace(req.Question) == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question is required"})
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)

		stream := &eventWriter{w: w, rc: http.NewResponseController(w)}
		start := time.Now()

		res, err := asker.Ask(r.Context(), req.Question, stream)

		done := doneFrame{RequestID: res.RequestID, State: res.State.String(), Answers: res.Answers}
		if err != nil {
			done.Error = err.Error()
			done.Kind = qa.KindOf(err).String()
		}
		stream.send("done", done)

		zap.L().Info("server: ask finished",
			zap.String("request_id", res.RequestID),
			zap.String("http_request_id", middleware.GetReqID(r.Context())),
			zap.String("state", done.State),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

// eventWriter is a qa.Presenter that forwards progress as named events.
type eventWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func (e *eventWriter) Status(u qa.Update) {
	e.send("status", u)
}

func (e *eventWriter) Fragment(text string) {
	e.send("fragment", map[string]string{"text": text})
}

func (e *eventWriter) send(event string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		zap.L().Error("server: marshal event", zap.String("event", event), zap.Error(err))
		return
	}
	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", event, b); err != nil {
		return // client went away; the request context ends the ask
	}
	_ = e.rc.Flush()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
