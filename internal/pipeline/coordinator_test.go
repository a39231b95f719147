package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/streamparse/docflow/pkg/errors"
)

type fakeLister struct {
	keys     []string
	listErrs []error
	fetchErr map[string]error
	calls    int
}

func (f *fakeLister) List(ctx context.Context) ([]string, error) {
	f.calls++
	if len(f.listErrs) > 0 {
		err := f.listErrs[0]
		f.listErrs = f.listErrs[1:]
		return nil, err
	}
	return f.keys, nil
}

func (f *fakeLister) Fetch(ctx context.Context, key string) (SourceDocument, error) {
	if err, ok := f.fetchErr[key]; ok {
		return SourceDocument{}, err
	}
	return SourceDocument{Key: key, Content: []byte("%PDF"), Size: 4}, nil
}

type fakeParser struct {
	failKeys map[string]bool
}

func (f *fakeParser) ParseAndChunk(ctx context.Context, doc SourceDocument) []Chunk {
	if f.failKeys[doc.Key] {
		return nil
	}
	return []Chunk{{Index: 0, Text: "page one"}, {Index: 1, Text: "page two"}}
}

type fakePublisher struct {
	consumerUp   <-chan struct{}
	earlyPublish atomic.Bool
	documents    []string
	chunks       int
}

func (f *fakePublisher) PublishDocument(ctx context.Context, documentKey string, chunks []Chunk) (int, error) {
	if f.consumerUp != nil {
		select {
		case <-f.consumerUp:
		case <-time.After(time.Second):
			f.earlyPublish.Store(true)
		}
	}
	f.documents = append(f.documents, documentKey)
	f.chunks += len(chunks)
	return len(chunks), nil
}

type fakeConsumer struct {
	started chan struct{}
}

func newFakeConsumer() *fakeConsumer {
	return &fakeConsumer{started: make(chan struct{})}
}

func (f *fakeConsumer) Start(ctx context.Context) error {
	close(f.started)
	<-ctx.Done()
	return nil
}

func runCoordinator(t *testing.T, c *Coordinator) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	// The batch is synchronous inside Run; give it time to finish, then
	// deliver the shutdown signal.
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestRunStartsConsumerBeforePublishing(t *testing.T) {
	consumer := newFakeConsumer()
	publisher := &fakePublisher{consumerUp: consumer.started}
	lister := &fakeLister{keys: []string{"a.pdf"}}
	c := NewCoordinator("run-1", lister, &fakeParser{}, publisher, consumer, nil, nil)

	runCoordinator(t, c)

	if publisher.earlyPublish.Load() {
		t.Error("batch published before the consumer loop came up")
	}
	if len(publisher.documents) != 1 {
		t.Errorf("published documents = %v, want one", publisher.documents)
	}
}

func TestRunBatchIsolatesParseFailures(t *testing.T) {
	lister := &fakeLister{keys: []string{"a.pdf", "bad.pdf", "c.pdf"}}
	parser := &fakeParser{failKeys: map[string]bool{"bad.pdf": true}}
	publisher := &fakePublisher{}
	c := NewCoordinator("run-1", lister, parser, publisher, &fakeConsumer{}, nil, nil)

	summary := c.runBatch(context.Background())

	if summary.Listed != 3 || summary.Parsed != 2 || summary.Skipped != 1 {
		t.Errorf("summary = %+v, want 3 listed, 2 parsed, 1 skipped", summary)
	}
	if strings.Join(publisher.documents, ",") != "a.pdf,c.pdf" {
		t.Errorf("published documents = %v", publisher.documents)
	}
	if summary.ChunksPublished != 4 {
		t.Errorf("chunks published = %d, want 4", summary.ChunksPublished)
	}
}

func TestRunBatchIsolatesFetchFailures(t *testing.T) {
	lister := &fakeLister{
		keys:     []string{"a.pdf", "gone.pdf"},
		fetchErr: map[string]error{"gone.pdf": apperrors.New(apperrors.ErrTransient, "object vanished")},
	}
	publisher := &fakePublisher{}
	c := NewCoordinator("run-1", lister, &fakeParser{}, publisher, &fakeConsumer{}, nil, nil)

	summary := c.runBatch(context.Background())

	if summary.Parsed != 1 || summary.Skipped != 1 {
		t.Errorf("summary = %+v, want 1 parsed, 1 skipped", summary)
	}
}

func TestRunBatchRetriesTransientListing(t *testing.T) {
	lister := &fakeLister{
		keys:     []string{"a.pdf"},
		listErrs: []error{apperrors.New(apperrors.ErrTransient, "throttled")},
	}
	publisher := &fakePublisher{}
	c := NewCoordinator("run-1", lister, &fakeParser{}, publisher, &fakeConsumer{}, nil, nil)

	summary := c.runBatch(context.Background())

	if lister.calls != 2 {
		t.Errorf("List calls = %d, want 2 (one retry)", lister.calls)
	}
	if summary.Listed != 1 {
		t.Errorf("listed = %d, want 1", summary.Listed)
	}
}

func TestRunBatchGivesUpOnPermanentListingFailure(t *testing.T) {
	lister := &fakeLister{
		listErrs: []error{errors.New("access denied"), errors.New("access denied")},
	}
	publisher := &fakePublisher{}
	c := NewCoordinator("run-1", lister, &fakeParser{}, publisher, &fakeConsumer{}, nil, nil)

	summary := c.runBatch(context.Background())

	if lister.calls != 1 {
		t.Errorf("List calls = %d, want 1 (non-retryable)", lister.calls)
	}
	if summary.Listed != 0 || len(publisher.documents) != 0 {
		t.Errorf("summary = %+v with %d published, want empty run", summary, len(publisher.documents))
	}
}

func TestRunBatchAbortsOnCancelledContext(t *testing.T) {
	lister := &fakeLister{keys: []string{"a.pdf", "b.pdf", "c.pdf"}}
	publisher := &fakePublisher{}
	c := NewCoordinator("run-1", lister, &fakeParser{}, publisher, &fakeConsumer{}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary := c.runBatch(ctx)

	if summary.Parsed != 0 {
		t.Errorf("parsed = %d, want 0 after cancellation", summary.Parsed)
	}
}
