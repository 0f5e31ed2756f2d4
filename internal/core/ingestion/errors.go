package ingestion

import "errors"

var (
	// ErrBadChunkConfig means overlap >= chunk size (or a non-positive
	// size); chunking would never advance, so the whole run fails.
	ErrBadChunkConfig = errors.New("chunk overlap must be smaller than chunk size")

	// ErrEmptyDocument means no text survived parsing; there is nothing
	// to index.
	ErrEmptyDocument = errors.New("document has no content to index")

	// ErrQueueFull means the ingest queue cannot accept more work right now.
	ErrQueueFull = errors.New("ingest queue is full")
)
