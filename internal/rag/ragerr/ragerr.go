// Package ragerr defines the error kinds the ingestion and retrieval
// pipelines distinguish. Callers classify with errors.Is; wrapping sites use
// fmt.Errorf with %w so the kind survives decoration.
package ragerr

import "errors"

var (
	// ErrParseFailure is an unrecoverable document-level extraction error.
	// Never retried.
	ErrParseFailure = errors.New("parse failure")

	// ErrEmbeddingTransient marks a retryable embedding failure such as a
	// rate limit or timeout. Retried with backoff up to the attempt ceiling.
	ErrEmbeddingTransient = errors.New("transient embedding failure")

	// ErrEmbeddingPermanent marks a chunk-level embedding failure (for
	// example malformed input). The chunk is isolated; the batch continues.
	ErrEmbeddingPermanent = errors.New("permanent embedding failure")

	// ErrIndexUnavailable means the index could not be reached or its
	// circuit breaker is open. Retried at the orchestrator level.
	ErrIndexUnavailable = errors.New("index unavailable")

	// ErrInvalidFilter marks a filter value that cannot match anything
	// (for example an unknown group id). Never fatal: the sub-constraint
	// degrades to zero matches and the condition is logged.
	ErrInvalidFilter = errors.New("invalid filter")

	// ErrNotFound is returned by stores for missing records.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyProcessing means another processing pass holds the
	// document's lock.
	ErrAlreadyProcessing = errors.New("document already processing")
)

// Transient reports whether err should be retried with backoff.
func Transient(err error) bool {
	return errors.Is(err, ErrEmbeddingTransient) || errors.Is(err, ErrIndexUnavailable)
}
