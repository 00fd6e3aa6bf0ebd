package domain

import (
	"context"
	"errors"
)

// ErrorKind is the stable, machine-readable failure kind recorded on failed jobs.
type ErrorKind string

const (
	KindInvalidAddress        ErrorKind = "InvalidAddress"
	KindUpstreamUnavailable   ErrorKind = "UpstreamUnavailable"
	KindUpstreamRateLimited   ErrorKind = "UpstreamRateLimited"
	KindModelArtifactMismatch ErrorKind = "ModelArtifactMismatch"
	KindNormalizationError    ErrorKind = "NormalizationError"
	KindJobNotFound           ErrorKind = "JobNotFound"
	KindCanceled              ErrorKind = "Canceled"
	KindInternal              ErrorKind = "Internal"
)

// Pipeline errors. Match with errors.Is; the concrete error carries detail.
var (
	ErrInvalidAddress        = &Error{Kind: KindInvalidAddress}
	ErrUpstreamUnavailable   = &Error{Kind: KindUpstreamUnavailable}
	ErrUpstreamRateLimited   = &Error{Kind: KindUpstreamRateLimited}
	ErrModelArtifactMismatch = &Error{Kind: KindModelArtifactMismatch}
	ErrNormalization         = &Error{Kind: KindNormalizationError}
	ErrJobNotFound           = &Error{Kind: KindJobNotFound}
	ErrCanceled              = &Error{Kind: KindCanceled}
)

// Error is a typed pipeline error.
type Error struct {
	Kind   ErrorKind
	Detail string
	Err    error // underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports kind equality so that errors.Is(err, ErrUpstreamRateLimited)
// matches any rate-limit error regardless of detail.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewError builds a typed error of the given kind.
func NewError(kind ErrorKind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: cause}
}

// KindOf maps any error to its ErrorKind. Context cancellation maps to
// KindCanceled; anything untyped is KindInternal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindUpstreamUnavailable
	}
	return KindInternal
}
