package pipeline

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/streamparse/docflow/pkg/errors"
	"github.com/streamparse/docflow/pkg/metrics"
	"github.com/streamparse/docflow/pkg/resilience"
)

// Lister enumerates and fetches source documents.
type Lister interface {
	List(ctx context.Context) ([]string, error)
	Fetch(ctx context.Context, key string) (SourceDocument, error)
}

// Parser extracts chunks from a document; a failure yields an empty set.
type Parser interface {
	ParseAndChunk(ctx context.Context, doc SourceDocument) []Chunk
}

// Publisher publishes a document's chunks with partial-failure semantics.
type Publisher interface {
	PublishDocument(ctx context.Context, documentKey string, chunks []Chunk) (int, error)
}

// ConsumerRunner is the background ingest loop. Start blocks until ctx is
// cancelled.
type ConsumerRunner interface {
	Start(ctx context.Context) error
}

// Ledger records per-document status; a disabled ledger no-ops.
type Ledger interface {
	RecordDiscovered(ctx context.Context, documentKey string)
	UpdateStatus(ctx context.Context, documentKey, status string, chunks int)
}

// Summary aggregates the outcome of one synchronous batch.
type Summary struct {
	Listed          int
	Parsed          int
	Skipped         int
	ChunksPublished int
	PublishFailures int
}

// Coordinator owns pipeline lifecycle: it starts the ingest consumer in the
// background before any message can be published, drives the synchronous
// list, parse, publish batch, then keeps the process alive for the consumer
// until the context is cancelled.
type Coordinator struct {
	lister    Lister
	parser    Parser
	publisher Publisher
	consumer  ConsumerRunner
	ledger    Ledger
	runID     string
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewCoordinator wires the pipeline stages together. ledger and m may be
// nil.
func NewCoordinator(runID string, lister Lister, parser Parser, publisher Publisher, consumer ConsumerRunner, ledger Ledger, m *metrics.Metrics) *Coordinator {
	if ledger == nil {
		ledger = noopLedger{}
	}
	return &Coordinator{
		lister:    lister,
		parser:    parser,
		publisher: publisher,
		consumer:  consumer,
		ledger:    ledger,
		runID:     runID,
		metrics:   m,
		logger:    slog.Default().With("component", "coordinator", "run_id", runID),
	}
}

// Run executes the pipeline until ctx is cancelled. The consumer goroutine
// is launched first so messages published by this run are never missed by a
// late subscription; Run then performs the batch, logs a summary, and blocks
// until shutdown, at which point it waits for the consumer to stop cleanly.
func (c *Coordinator) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.consumer.Start(gctx)
	})

	summary := c.runBatch(gctx)
	c.logger.Info("batch complete",
		"listed", summary.Listed,
		"parsed", summary.Parsed,
		"skipped", summary.Skipped,
		"chunks_published", summary.ChunksPublished,
		"publish_failures", summary.PublishFailures,
	)

	c.logger.Info("waiting for shutdown signal, consumer keeps running")
	<-gctx.Done()
	return g.Wait()
}

// runBatch drives the list, fetch, parse, publish stages across all discovered documents.
// Per-document failures are isolated as skip events; the batch aborts early
// only when ctx is cancelled.
func (c *Coordinator) runBatch(ctx context.Context) Summary {
	var summary Summary

	var keys []string
	// Listing retry lives here, not in the lister.
	err := resilience.Retry(ctx, "list documents", resilience.RetryConfig{
		ShouldRetry: apperrors.Retryable,
	}, func() error {
		var listErr error
		keys, listErr = c.lister.List(ctx)
		return listErr
	})
	if err != nil {
		c.logger.Error("listing failed, nothing to process", "error", err)
		return summary
	}
	summary.Listed = len(keys)
	if c.metrics != nil {
		c.metrics.DocumentsListed.Add(float64(len(keys)))
	}
	if len(keys) == 0 {
		c.logger.Info("no matching documents found")
		return summary
	}
	c.logger.Info("documents discovered", "count", len(keys))

	for _, key := range keys {
		if ctx.Err() != nil {
			c.logger.Warn("shutdown requested, aborting remaining batch",
				"remaining", summary.Listed-summary.Parsed-summary.Skipped,
			)
			return summary
		}
		c.processDocument(ctx, key, &summary)
	}
	return summary
}

func (c *Coordinator) processDocument(ctx context.Context, key string, summary *Summary) {
	logger := c.logger.With("key", key)
	logger.Info("processing document")
	c.ledger.RecordDiscovered(ctx, key)

	doc, err := c.lister.Fetch(ctx, key)
	if err != nil {
		logger.Warn("skipping document, fetch failed", "error", err)
		c.skip(ctx, key, "fetch", summary)
		return
	}

	start := time.Now()
	chunks := c.parser.ParseAndChunk(ctx, doc)
	if c.metrics != nil {
		c.metrics.ParseDuration.Observe(time.Since(start).Seconds())
	}
	if len(chunks) == 0 {
		logger.Warn("skipping document, no extractable content")
		c.skip(ctx, key, "parse", summary)
		return
	}
	summary.Parsed++
	if c.metrics != nil {
		c.metrics.DocumentsParsed.Inc()
	}

	published, err := c.publisher.PublishDocument(ctx, key, chunks)
	summary.ChunksPublished += published
	if err != nil {
		summary.PublishFailures += len(chunks) - published
		logger.Error("document published with failures",
			"published", published,
			"failed", len(chunks)-published,
			"error", err,
		)
		return
	}
	logger.Info("document processed", "chunks", published)
}

func (c *Coordinator) skip(ctx context.Context, key, reason string, summary *Summary) {
	summary.Skipped++
	if c.metrics != nil {
		c.metrics.DocumentsSkipped.WithLabelValues(reason).Inc()
	}
	c.ledger.UpdateStatus(ctx, key, "SKIPPED", 0)
}

type noopLedger struct{}

func (noopLedger) RecordDiscovered(context.Context, string) {}

func (noopLedger) UpdateStatus(context.Context, string, string, int) {}
