// Package lister enumerates source documents from the object store, filtered
// by file extension, and fetches their contents.
package lister

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/streamparse/docflow/internal/pipeline"
)

// ObjectStore is the narrow object store surface the lister needs.
type ObjectStore interface {
	ListKeys(ctx context.Context, bucket, prefix string) ([]string, error)
	Get(ctx context.Context, bucket, key string) ([]byte, error)
}

// Lister lists and fetches extension-matched objects from one bucket/prefix.
type Lister struct {
	store     ObjectStore
	bucket    string
	prefix    string
	extension string
	logger    *slog.Logger
}

// New creates a Lister. extension must include the leading dot.
func New(store ObjectStore, bucket, prefix, extension string) *Lister {
	return &Lister{
		store:     store,
		bucket:    bucket,
		prefix:    prefix,
		extension: extension,
		logger:    slog.Default().With("component", "lister", "bucket", bucket),
	}
}

// List returns the sorted keys under the prefix whose names end with the
// target extension. No matches is an empty slice, not an error. The
// underlying store walks every listing page, so the result is complete
// regardless of bucket size; retry policy on transient failures belongs to
// the caller.
func (l *Lister) List(ctx context.Context) ([]string, error) {
	keys, err := l.store.ListKeys(ctx, l.bucket, l.prefix)
	if err != nil {
		return nil, err
	}
	matched := make([]string, 0, len(keys))
	for _, key := range keys {
		if strings.HasSuffix(key, l.extension) {
			matched = append(matched, key)
		}
	}
	sort.Strings(matched)
	l.logger.Info("listing complete",
		"prefix", l.prefix,
		"total", len(keys),
		"matched", len(matched),
	)
	return matched, nil
}

// Fetch retrieves one object as a SourceDocument.
func (l *Lister) Fetch(ctx context.Context, key string) (pipeline.SourceDocument, error) {
	content, err := l.store.Get(ctx, l.bucket, key)
	if err != nil {
		return pipeline.SourceDocument{}, err
	}
	return pipeline.SourceDocument{
		Key:     key,
		Content: content,
		Size:    int64(len(content)),
	}, nil
}
