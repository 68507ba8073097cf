package domain

import (
	"context"
	"errors"
	"fmt"
)

// FailureKind classifies why a request produced no records.
type FailureKind string

const (
	KindNetworkTransient   FailureKind = "NetworkTransient"
	KindNetworkFatal       FailureKind = "NetworkFatal"
	KindNotArchived        FailureKind = "NotArchived"
	KindExtractionMismatch FailureKind = "ExtractionMismatch"
	KindRateLimited        FailureKind = "RateLimited"
	KindIOFailure          FailureKind = "IOFailure"
	KindCancelled          FailureKind = "Cancelled"
)

// FailureKinds lists every kind in summary order.
var FailureKinds = []FailureKind{
	KindNetworkTransient,
	KindNetworkFatal,
	KindNotArchived,
	KindExtractionMismatch,
	KindRateLimited,
	KindIOFailure,
	KindCancelled,
}

// Cacheable reports whether a failure is a stable answer from the archive.
func (k FailureKind) Cacheable() bool {
	return k == KindNotArchived || k == KindNetworkFatal
}

// FetchError carries the classification of a per-item failure.
type FetchError struct {
	Kind     FailureKind
	Request  SnapshotRequest
	Status   int
	Attempts int
	Cached   bool
	Err      error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Kind, e.Request.Key())
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Cached {
		msg += " (cached)"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError is a shorthand used by adapters.
func NewFetchError(kind FailureKind, req SnapshotRequest, err error) *FetchError {
	return &FetchError{Kind: kind, Request: req, Err: err}
}

// KindOf maps an arbitrary error to a failure kind. Unclassified errors are
// treated as transient network failures.
func KindOf(err error) FailureKind {
	if err == nil {
		return ""
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindNetworkTransient
}
