// Package semantic finds cached queries that mean the same thing as a new
// query.
//
// An Index keeps one embedding vector per cache key and answers nearest
// neighbour lookups by cosine similarity over a linear scan. Every call to
// the Embedder is bounded by a timeout and guarded by a circuit breaker, so
// a slow or failing embedding backend turns semantic lookups into misses
// instead of stalling callers.
//
// The index is optional. New returns ErrEmbeddingUnavailable when the
// embedder cannot serve a probe request, and callers are expected to run in
// exact-match mode without it.
package semantic
