package retrieval

import "errors"

var (
	// ErrEmptyInput is returned for blank text or text that yields no chunks.
	ErrEmptyInput = errors.New("empty input")

	// ErrProviderMismatch is returned when the embedder returns a different
	// number of vectors than chunks. It is never retried.
	ErrProviderMismatch = errors.New("embedding provider returned wrong vector count")

	// ErrEmbeddingFailed wraps embedder errors on the write path.
	ErrEmbeddingFailed = errors.New("embedding failed")

	// ErrStoreUnavailable wraps vector store errors on write paths.
	ErrStoreUnavailable = errors.New("vector store unavailable")

	// ErrSearchDegraded marks a search that returned no results because of a
	// failure. It is logged and counted, never returned.
	ErrSearchDegraded = errors.New("search degraded")

	// ErrNotFound is returned by Remove when the document has no chunks.
	ErrNotFound = errors.New("document not found")
)
