package domain

import "errors"

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrRateLimited signals a rate limit hit.
	ErrRateLimited = errors.New("rate limited")
	// ErrProviderError signals an embedding or generation provider failure.
	ErrProviderError = errors.New("provider error")
	// ErrTextTooShort signals input below the minimum embeddable length.
	ErrTextTooShort = errors.New("text too short for embedding")
	// ErrQueueClosed signals a submit to a cleared or shut-down request queue.
	ErrQueueClosed = errors.New("request queue closed")
	// ErrSuperseded signals retrieval work cancelled by a newer query
	// for the same session.
	ErrSuperseded = errors.New("superseded by newer query")
)
