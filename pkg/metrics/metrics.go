// Package metrics defines the Prometheus collectors for the ingestion
// pipeline and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the pipeline.
type Metrics struct {
	DocumentsListed      prometheus.Counter
	DocumentsParsed      prometheus.Counter
	DocumentsSkipped     *prometheus.CounterVec
	ChunksPublished      prometheus.Counter
	PublishFailures      prometheus.Counter
	ParseDuration        prometheus.Histogram
	MessagesConsumed     prometheus.Counter
	ConsumeFailures      *prometheus.CounterVec
	DeadLetters          prometheus.Counter
	DuplicatesSuppressed prometheus.Counter
	InsertDuration       prometheus.Histogram
}

// New creates and registers all pipeline metrics.
func New() *Metrics {
	m := &Metrics{
		DocumentsListed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "documents_listed_total",
				Help: "Total source documents discovered in the object store.",
			},
		),
		DocumentsParsed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "documents_parsed_total",
				Help: "Total documents successfully parsed into chunks.",
			},
		),
		DocumentsSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "documents_skipped_total",
				Help: "Total documents skipped, by reason (fetch, parse, empty).",
			},
			[]string{"reason"},
		),
		ChunksPublished: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chunks_published_total",
				Help: "Total chunk messages acknowledged by the broker.",
			},
		),
		PublishFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chunk_publish_failures_total",
				Help: "Total chunk messages that failed to publish.",
			},
		),
		ParseDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "parse_duration_seconds",
				Help:    "Parse service call latency in seconds.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		MessagesConsumed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "messages_consumed_total",
				Help: "Total inbound messages processed successfully.",
			},
		),
		ConsumeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consume_failures_total",
				Help: "Total inbound message failures, by stage (deserialize, insert).",
			},
			[]string{"stage"},
		),
		DeadLetters: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dead_letters_total",
				Help: "Total failed messages routed to the dead-letter topic.",
			},
		),
		DuplicatesSuppressed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "duplicates_suppressed_total",
				Help: "Total redelivered messages suppressed by the dedup store.",
			},
		),
		InsertDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "insert_duration_seconds",
				Help:    "Document store insert latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
		),
	}

	prometheus.MustRegister(
		m.DocumentsListed,
		m.DocumentsParsed,
		m.DocumentsSkipped,
		m.ChunksPublished,
		m.PublishFailures,
		m.ParseDuration,
		m.MessagesConsumed,
		m.ConsumeFailures,
		m.DeadLetters,
		m.DuplicatesSuppressed,
		m.InsertDuration,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
