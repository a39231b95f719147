package consumer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/streamparse/docflow/pkg/config"
	apperrors "github.com/streamparse/docflow/pkg/errors"
	"github.com/streamparse/docflow/pkg/kafka"
)

type fakeDeserializer struct {
	record map[string]any
	err    error
}

func (f *fakeDeserializer) Deserialize(ctx context.Context, value []byte) (map[string]any, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.record, nil
}

type fakeStore struct {
	inserted []map[string]any
	err      error
}

func (f *fakeStore) InsertOne(ctx context.Context, record map[string]any) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.inserted = append(f.inserted, record)
	return "64f0c2", nil
}

type fakeDedup struct {
	claims  map[string]bool
	setErr  error
	deleted []string
}

func (f *fakeDedup) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if f.setErr != nil {
		return false, f.setErr
	}
	if f.claims == nil {
		f.claims = make(map[string]bool)
	}
	if f.claims[key] {
		return false, nil
	}
	f.claims[key] = true
	return true, nil
}

func (f *fakeDedup) Del(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.claims, k)
		f.deleted = append(f.deleted, k)
	}
	return nil
}

type fakeDLQ struct {
	messages []kafka.Message
	err      error
}

func (f *fakeDLQ) Publish(ctx context.Context, msg kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msg)
	return nil
}

func deadLetterCfg() config.ConsumerConfig {
	return config.ConsumerConfig{
		FailurePolicy:   config.FailurePolicyDeadLetter,
		DeadLetterTopic: "document-records.dlq",
		DedupTTL:        time.Hour,
	}
}

func TestHandlerInsertsGoodMessage(t *testing.T) {
	store := &fakeStore{}
	ing := New(deadLetterCfg(), &fakeDeserializer{record: map[string]any{"text": "Hello"}}, store, &fakeDedup{}, &fakeDLQ{}, nil)

	err := ing.Handler()(context.Background(), []byte("a.pdf_chunk_0"), []byte{0, 0, 0, 0, 1})
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if len(store.inserted) != 1 {
		t.Fatalf("inserted = %d records, want 1", len(store.inserted))
	}
	if got := store.inserted[0]["text"]; got != "Hello" {
		t.Errorf("inserted record text = %v", got)
	}
}

func TestHandlerDeadLettersUndecodableMessage(t *testing.T) {
	store := &fakeStore{}
	dlq := &fakeDLQ{}
	deser := &fakeDeserializer{err: apperrors.New(apperrors.ErrSchemaMismatch, "bad magic byte")}
	ing := New(deadLetterCfg(), deser, store, &fakeDedup{}, dlq, nil)

	err := ing.Handler()(context.Background(), []byte("k"), []byte("garbage"))
	if err != nil {
		t.Fatalf("handler returned error: %v (policy handled the failure)", err)
	}
	if len(store.inserted) != 0 {
		t.Errorf("inserted = %d records, want 0", len(store.inserted))
	}
	if len(dlq.messages) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(dlq.messages))
	}
	msg := dlq.messages[0]
	if string(msg.Value) != "garbage" {
		t.Errorf("dead letter value = %q, want original payload", msg.Value)
	}
	if got := msg.Headers["x-docflow-failure-stage"]; got != "deserialize" {
		t.Errorf("failure stage header = %q", got)
	}
}

func TestHandlerAckPolicyDropsFailedMessage(t *testing.T) {
	cfg := deadLetterCfg()
	cfg.FailurePolicy = config.FailurePolicyAck
	dlq := &fakeDLQ{}
	deser := &fakeDeserializer{err: apperrors.New(apperrors.ErrSchemaMismatch, "bad payload")}
	ing := New(cfg, deser, &fakeStore{}, &fakeDedup{}, dlq, nil)

	err := ing.Handler()(context.Background(), []byte("k"), []byte("garbage"))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if len(dlq.messages) != 0 {
		t.Errorf("dead letters = %d, want 0 under ack policy", len(dlq.messages))
	}
}

func TestHandlerReturnsErrorWhenDeadLetterFails(t *testing.T) {
	dlq := &fakeDLQ{err: apperrors.New(apperrors.ErrTransient, "broker down")}
	deser := &fakeDeserializer{err: apperrors.New(apperrors.ErrSchemaMismatch, "bad payload")}
	ing := New(deadLetterCfg(), deser, &fakeStore{}, &fakeDedup{}, dlq, nil)

	err := ing.Handler()(context.Background(), []byte("k"), []byte("garbage"))
	if !errors.Is(err, apperrors.ErrTransient) {
		t.Fatalf("error = %v, want ErrTransient so the offset stays uncommitted", err)
	}
}

func TestHandlerSuppressesDuplicateDelivery(t *testing.T) {
	store := &fakeStore{}
	dedup := &fakeDedup{}
	ing := New(deadLetterCfg(), &fakeDeserializer{record: map[string]any{"text": "x"}}, store, dedup, &fakeDLQ{}, nil)

	handler := ing.Handler()
	for i := 0; i < 2; i++ {
		if err := handler(context.Background(), []byte("a.pdf_chunk_0"), []byte{0}); err != nil {
			t.Fatalf("handler returned error: %v", err)
		}
	}
	if len(store.inserted) != 1 {
		t.Errorf("inserted = %d records, want 1 (second delivery suppressed)", len(store.inserted))
	}
}

func TestHandlerReleasesClaimOnInsertFailure(t *testing.T) {
	store := &fakeStore{err: apperrors.New(apperrors.ErrTransient, "primary unavailable")}
	dedup := &fakeDedup{}
	ing := New(deadLetterCfg(), &fakeDeserializer{record: map[string]any{"text": "x"}}, store, dedup, &fakeDLQ{}, nil)

	err := ing.Handler()(context.Background(), []byte("a.pdf_chunk_0"), []byte{0})
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if len(dedup.deleted) != 1 {
		t.Fatalf("released claims = %d, want 1", len(dedup.deleted))
	}
	if dedup.claims[dedup.deleted[0]] {
		t.Error("claim still held after release")
	}
}

func TestHandlerProcessesWhenDedupStoreDown(t *testing.T) {
	store := &fakeStore{}
	dedup := &fakeDedup{setErr: errors.New("connection refused")}
	ing := New(deadLetterCfg(), &fakeDeserializer{record: map[string]any{"text": "x"}}, store, dedup, &fakeDLQ{}, nil)

	err := ing.Handler()(context.Background(), []byte("k"), []byte{0})
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if len(store.inserted) != 1 {
		t.Errorf("inserted = %d records, want 1 (dedup is best effort)", len(store.inserted))
	}
}
