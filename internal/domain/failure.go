package domain

import (
	"errors"
	"fmt"
)

// FailureKind classifies why fetching one entity failed.
type FailureKind string

const (
	FailureUnauthorized  FailureKind = "unauthorized"
	FailureUpstreamError FailureKind = "upstream_error"
	FailureTimeout       FailureKind = "timeout"
	FailureTransport     FailureKind = "transport"
)

// FetchFailure is the typed error returned by the data source client.
type FetchFailure struct {
	Kind   FailureKind `json:"kind"`
	Status int         `json:"status,omitempty"`
	Detail string      `json:"detail,omitempty"`
}

func (f *FetchFailure) Error() string {
	switch {
	case f.Status != 0 && f.Detail != "":
		return fmt.Sprintf("%s: status %d: %s", f.Kind, f.Status, f.Detail)
	case f.Status != 0:
		return fmt.Sprintf("%s: status %d", f.Kind, f.Status)
	case f.Detail != "":
		return fmt.Sprintf("%s: %s", f.Kind, f.Detail)
	default:
		return string(f.Kind)
	}
}

// AsFetchFailure converts any error into a FetchFailure. Errors that are not
// already typed are classified as transport failures.
func AsFetchFailure(err error) *FetchFailure {
	var ff *FetchFailure
	if errors.As(err, &ff) {
		return ff
	}
	return &FetchFailure{Kind: FailureTransport, Detail: err.Error()}
}

// ErrStoreUnavailable marks a store that cannot be reached at all. It is the
// only store condition that fails a whole run.
var ErrStoreUnavailable = errors.New("store unavailable")

// StoreError wraps a failed persistence operation.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
