package rag

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline failures so callers can branch on the class
// of error instead of string matching. Validation failures are client
// errors; everything else up to telemetry is a dependency failure the
// caller may retry.
type Kind int

const (
	KindValidation Kind = iota + 1 // bad client input
	KindExtraction                 // corrupt/encrypted source document
	KindEmbedding                  // embedding backend unavailable or failed
	KindIndexing                   // vector index write failed
	KindRetrieval                  // vector index read failed
	KindGeneration                 // LLM call failed
	KindTelemetry                  // metrics/query-log sink failed, never surfaced to requester
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindExtraction:
		return "extraction"
	case KindEmbedding:
		return "embedding"
	case KindIndexing:
		return "indexing"
	case KindRetrieval:
		return "retrieval"
	case KindGeneration:
		return "generation"
	case KindTelemetry:
		return "telemetry"
	default:
		return "unknown"
	}
}

// Error wraps a cause with its pipeline kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// E wraps err with a kind; a nil err yields nil.
func E(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Errorf is E with formatting.
func Errorf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the kind from err, or 0 when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsClientError reports whether err is caused by bad client input
// (maps to a 4xx response).
func IsClientError(err error) bool {
	return KindOf(err) == KindValidation || KindOf(err) == KindExtraction
}

// IndexingError reports a failed document indexing attempt together
// with the number of chunks that were durably committed before the
// failure, so the caller can retry the remainder or redo the document.
type IndexingError struct {
	Committed int
	Err       error
}

func (e *IndexingError) Error() string {
	return fmt.Sprintf("indexing failed after %d committed chunks: %v", e.Committed, e.Err)
}

func (e *IndexingError) Unwrap() error { return e.Err }
