package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	apperrors "github.com/streamparse/docflow/pkg/errors"
)

// fakeS3 serves pre-built listing pages keyed by continuation token and
// records how the client walks them.
type fakeS3 struct {
	pages    map[string]*s3.ListObjectsV2Output
	objects  map[string][]byte
	listErr  error
	getErr   error
	listCall int
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.listCall++
	if f.listErr != nil {
		return nil, f.listErr
	}
	token := aws.ToString(params.ContinuationToken)
	page, ok := f.pages[token]
	if !ok {
		return nil, errors.New("unknown continuation token " + token)
	}
	return page, nil
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, errors.New("no such key")
	}
	return &s3.GetObjectOutput{
		Body: io.NopCloser(bytes.NewReader(data)),
	}, nil
}

func page(keys []string, next string) *s3.ListObjectsV2Output {
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(next != "")}
	if next != "" {
		out.NextContinuationToken = aws.String(next)
	}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out
}

func TestListKeysWalksAllPages(t *testing.T) {
	fake := &fakeS3{pages: map[string]*s3.ListObjectsV2Output{
		"":   page([]string{"a.pdf", "b.txt"}, "t1"),
		"t1": page([]string{"c.pdf"}, "t2"),
		"t2": page([]string{"d.pdf"}, ""),
	}}
	client := NewFromAPI(fake)

	keys, err := client.ListKeys(context.Background(), "bucket", "prefix/")
	if err != nil {
		t.Fatalf("ListKeys returned error: %v", err)
	}
	want := []string{"a.pdf", "b.txt", "c.pdf", "d.pdf"}
	if len(keys) != len(want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
	if fake.listCall != 3 {
		t.Errorf("listCall = %d, want 3 (one per page)", fake.listCall)
	}
}

func TestListKeysEmptyBucket(t *testing.T) {
	fake := &fakeS3{pages: map[string]*s3.ListObjectsV2Output{
		"": page(nil, ""),
	}}
	client := NewFromAPI(fake)

	keys, err := client.ListKeys(context.Background(), "bucket", "")
	if err != nil {
		t.Fatalf("ListKeys returned error: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("keys = %v, want empty", keys)
	}
}

func TestListKeysFailureIsTransient(t *testing.T) {
	fake := &fakeS3{listErr: errors.New("dial tcp: timeout")}
	client := NewFromAPI(fake)

	_, err := client.ListKeys(context.Background(), "bucket", "")
	if !errors.Is(err, apperrors.ErrTransient) {
		t.Fatalf("error = %v, want ErrTransient", err)
	}
}

func TestGetReturnsObjectBytes(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{"a.pdf": []byte("%PDF-1.7")}}
	client := NewFromAPI(fake)

	data, err := client.Get(context.Background(), "bucket", "a.pdf")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if string(data) != "%PDF-1.7" {
		t.Errorf("data = %q", data)
	}
}

func TestGetFailureIsTransient(t *testing.T) {
	fake := &fakeS3{getErr: errors.New("connection reset")}
	client := NewFromAPI(fake)

	_, err := client.Get(context.Background(), "bucket", "a.pdf")
	if !errors.Is(err, apperrors.ErrTransient) {
		t.Fatalf("error = %v, want ErrTransient", err)
	}
}
