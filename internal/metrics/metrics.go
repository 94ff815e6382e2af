// Package metrics defines the Prometheus collectors for question answering.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "answer"

var (
	StackExchangeRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stackexchange_requests_total",
			Help:      "Total number of Stack Exchange API requests",
		},
		[]string{"endpoint", "outcome"}, // outcome: ok / http_error / transport_error
	)

	StackExchangeRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stackexchange_request_duration_seconds",
			Help:      "Stack Exchange API request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"endpoint"},
	)

	CandidatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_total",
			Help:      "Candidate answers seen by the aggregator",
		},
		[]string{"stage"}, // "fetched" / "ranked"
	)

	StreamEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_events_total",
			Help:      "Decoded completion stream events",
		},
		[]string{"kind"},
	)

	AsksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asks_total",
			Help:      "Questions processed, by terminal outcome",
		},
		[]string{"outcome"},
	)

	CompletionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_stream_duration_seconds",
			Help:      "Time from opening the completion stream to its end",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
		},
	)
)

var registerOnce sync.Once

// Register adds all collectors to the default registry. Safe to call more
// than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			StackExchangeRequestsTotal,
			StackExchangeRequestDuration,
			CandidatesTotal,
			StreamEventsTotal,
			AsksTotal,
			CompletionDuration,
			httpRequestDuration,
			httpRequestsTotal,
		)
	})
}
