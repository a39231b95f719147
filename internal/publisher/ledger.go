package publisher

import (
	"context"
	"log/slog"

	"github.com/streamparse/docflow/pkg/postgres"
)

// Document statuses recorded in the ledger.
const (
	StatusDiscovered = "DISCOVERED"
	StatusSkipped    = "SKIPPED"
	StatusPublished  = "PUBLISHED"
	StatusPartial    = "PARTIAL"
)

// Ledger records per-document pipeline status rows in PostgreSQL so a run
// can be audited after the fact. A nil database disables it; every method is
// then a no-op. Ledger failures are logged, never propagated: bookkeeping
// must not fail the pipeline.
//
// Expected schema:
//
//	CREATE TABLE pipeline_documents (
//	    run_id           TEXT NOT NULL,
//	    object_key       TEXT NOT NULL,
//	    status           TEXT NOT NULL,
//	    chunks_published INT NOT NULL DEFAULT 0,
//	    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
//	    PRIMARY KEY (run_id, object_key)
//	);
type Ledger struct {
	db     *postgres.Client
	runID  string
	logger *slog.Logger
}

// NewLedger creates a Ledger bound to one pipeline run. db may be nil.
func NewLedger(db *postgres.Client) *Ledger {
	return &Ledger{
		db:     db,
		logger: slog.Default().With("component", "ledger"),
	}
}

// WithRunID returns a copy of the ledger tagged with the given run
// identifier.
func (l *Ledger) WithRunID(runID string) *Ledger {
	return &Ledger{db: l.db, runID: runID, logger: l.logger.With("run_id", runID)}
}

// RecordDiscovered inserts a status row for a newly listed document.
func (l *Ledger) RecordDiscovered(ctx context.Context, documentKey string) {
	if l.db == nil {
		return
	}
	_, err := l.db.DB.ExecContext(ctx,
		`INSERT INTO pipeline_documents (run_id, object_key, status)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (run_id, object_key) DO NOTHING`,
		l.runID, documentKey, StatusDiscovered,
	)
	if err != nil {
		l.logger.Error("failed to record document",
			"key", documentKey,
			"error", err,
		)
	}
}

// UpdateStatus updates a document's status and published chunk count.
func (l *Ledger) UpdateStatus(ctx context.Context, documentKey, status string, chunks int) {
	if l.db == nil {
		return
	}
	_, err := l.db.DB.ExecContext(ctx,
		`UPDATE pipeline_documents
		 SET status = $1, chunks_published = $2, updated_at = NOW()
		 WHERE run_id = $3 AND object_key = $4`,
		status, chunks, l.runID, documentKey,
	)
	if err != nil {
		l.logger.Error("failed to update document status",
			"key", documentKey,
			"status", status,
			"error", err,
		)
	}
}
