package lister

import (
	"context"
	"errors"
	"reflect"
	"testing"

	apperrors "github.com/streamparse/docflow/pkg/errors"
)

type fakeStore struct {
	keys    []string
	objects map[string][]byte
	listErr error
	getErr  error
}

func (f *fakeStore) ListKeys(ctx context.Context, bucket, prefix string) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.keys, nil
}

func (f *fakeStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.objects[key], nil
}

func TestListFiltersByExtension(t *testing.T) {
	store := &fakeStore{keys: []string{"c.pdf", "b.txt", "a.pdf", "notes.pdf.bak"}}
	l := New(store, "bucket", "", ".pdf")

	keys, err := l.List(context.Background())
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	want := []string{"a.pdf", "c.pdf"}
	if !reflect.DeepEqual(keys, want) {
		t.Errorf("keys = %v, want %v (filtered and sorted)", keys, want)
	}
}

func TestListNoMatchesIsEmptyNotError(t *testing.T) {
	store := &fakeStore{keys: []string{"a.txt", "b.csv"}}
	l := New(store, "bucket", "", ".pdf")

	keys, err := l.List(context.Background())
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("keys = %v, want empty", keys)
	}
}

func TestListPropagatesStoreError(t *testing.T) {
	store := &fakeStore{listErr: apperrors.New(apperrors.ErrTransient, "listing failed")}
	l := New(store, "bucket", "", ".pdf")

	_, err := l.List(context.Background())
	if !errors.Is(err, apperrors.ErrTransient) {
		t.Fatalf("error = %v, want ErrTransient", err)
	}
}

func TestFetchBuildsSourceDocument(t *testing.T) {
	store := &fakeStore{objects: map[string][]byte{"a.pdf": []byte("%PDF-1.7 body")}}
	l := New(store, "bucket", "", ".pdf")

	doc, err := l.Fetch(context.Background(), "a.pdf")
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if doc.Key != "a.pdf" {
		t.Errorf("Key = %q", doc.Key)
	}
	if string(doc.Content) != "%PDF-1.7 body" {
		t.Errorf("Content = %q", doc.Content)
	}
	if doc.Size != int64(len(doc.Content)) {
		t.Errorf("Size = %d, want %d", doc.Size, len(doc.Content))
	}
}
