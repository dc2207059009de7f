package semantic

import "errors"

// Sentinel errors for semantic operations.
var (
	// ErrEmbeddingUnavailable is returned when the embedding backend cannot
	// produce vectors, either at startup or for a single call.
	ErrEmbeddingUnavailable = errors.New("semantic: embedding unavailable")

	// ErrDimensionMismatch is returned when a vector does not match the
	// dimension of the vectors already in the index.
	ErrDimensionMismatch = errors.New("semantic: vector dimension mismatch")

	// ErrModelMismatch is returned when a snapshot was written by a different
	// embedding model.
	ErrModelMismatch = errors.New("semantic: snapshot model mismatch")

	// ErrSnapshotCorrupt is returned when a snapshot cannot be decoded.
	ErrSnapshotCorrupt = errors.New("semantic: snapshot corrupt")

	ErrEmptyText = errors.New("semantic: text is empty")
)
