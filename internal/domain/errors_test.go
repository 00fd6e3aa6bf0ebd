package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestError_IsMatchesKind(t *testing.T) {
	err := NewError(KindUpstreamRateLimited, "429 from provider", nil)
	wrapped := fmt.Errorf("fetch aggregates: %w", err)

	if !errors.Is(wrapped, ErrUpstreamRateLimited) {
		t.Error("expected wrapped error to match ErrUpstreamRateLimited")
	}
	if errors.Is(wrapped, ErrUpstreamUnavailable) {
		t.Error("rate limit must not match ErrUpstreamUnavailable")
	}
}

func TestError_UnwrapsCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := NewError(KindUpstreamUnavailable, "", cause)

	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable via errors.Is")
	}
	if err.Error() != "UpstreamUnavailable: dial tcp: connection refused" {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{nil, ""},
		{ErrNormalization, KindNormalizationError},
		{fmt.Errorf("score: %w", ErrModelArtifactMismatch), KindModelArtifactMismatch},
		{context.Canceled, KindCanceled},
		{fmt.Errorf("call: %w", context.DeadlineExceeded), KindUpstreamUnavailable},
		{errors.New("boom"), KindInternal},
	}

	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
