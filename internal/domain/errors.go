package domain

import "errors"

// Caller-visible outcomes. None of them are process-fatal; handlers map them to
// HTTP status codes and the CLI reports them per item.
var (
	// ErrValidation marks malformed input such as a vector of the wrong dimension.
	// It is returned before any state change.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks a missing image, user, URL or favorite edge.
	ErrNotFound = errors.New("not found")

	// ErrNoEmbedding marks a similarity request for a user without an aggregate vector.
	ErrNoEmbedding = errors.New("no embedding")
)
