package resilience

import (
	"errors"
	"fmt"
	"syscall"
	"testing"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient error", NewTransientError(errors.New("rate limited"), 429), true},
		{"wrapped transient", fmt.Errorf("fetch: %w", NewTransientError(errors.New("unavailable"), 503)), true},
		{"econnreset", syscall.ECONNRESET, true},
		{"econnrefused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"message match", errors.New("read tcp: connection reset by peer"), true},
		{"io timeout message", errors.New("Get \"https://api\": i/o timeout"), true},
		{"permanent", errors.New("401 unauthorized"), false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		if !IsTransientHTTPStatus(code) {
			t.Errorf("expected %d to be transient", code)
		}
	}
	for _, code := range []int{200, 201, 400, 401, 403, 404, 422} {
		if IsTransientHTTPStatus(code) {
			t.Errorf("expected %d to be permanent", code)
		}
	}
}

func TestTransientErrorUnwrap(t *testing.T) {
	inner := errors.New("inner")
	te := NewTransientError(inner, 500)
	if !errors.Is(te, inner) {
		t.Error("expected Unwrap to expose the inner error")
	}
	if te.Error() != "inner" {
		t.Errorf("unexpected message %q", te.Error())
	}
}
