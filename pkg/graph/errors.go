package graph

import "errors"

// Sentinel errors forming the retrieval error taxonomy. Callers classify
// failures with [errors.Is]; implementations wrap these with operation
// context.
var (
	// ErrExternalUnavailable indicates the backing store or an embedding
	// provider stayed unreachable after bounded retries. Transient failures
	// are retried at the adapter boundary before this surfaces.
	ErrExternalUnavailable = errors.New("external dependency unavailable")

	// ErrIngestionRejected indicates a document failed validation and was
	// aborted without side effects. The wrapping error names the offending
	// unit.
	ErrIngestionRejected = errors.New("ingestion rejected")

	// ErrConfigInvalid indicates a programmer or configuration error, such as
	// an embedding dimension mismatch. Detected at startup, never per query.
	ErrConfigInvalid = errors.New("configuration invalid")

	// ErrCancelled indicates a query deadline expired. Partial hits, when
	// available, accompany the error flagged as truncated.
	ErrCancelled = errors.New("cancelled")
)
