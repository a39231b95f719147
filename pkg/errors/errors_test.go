package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestRetryableClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"transient", New(ErrTransient, "connection reset"), true},
		{"rate limited", New(ErrRateLimited, "throttled"), true},
		{"malformed", New(ErrMalformedInput, "bad pdf"), false},
		{"schema mismatch", New(ErrSchemaMismatch, "unknown schema"), false},
		{"config", New(ErrConfig, "missing bucket"), false},
		{"plain error", errors.New("other"), false},
		{"wrapped transient", fmt.Errorf("outer: %w", New(ErrTransient, "inner")), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestPipelineErrorUnwrap(t *testing.T) {
	err := Newf(ErrMalformedInput, "document %s", "a.pdf")
	if !errors.Is(err, ErrMalformedInput) {
		t.Errorf("errors.Is failed for %v", err)
	}
	if want := "malformed input: document a.pdf"; err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
