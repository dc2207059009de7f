// Package store defines the exact-match persistence layer for cached query
// results.
//
// A Store maps a cache key to one Entry and keeps an index row per entry with
// the bookkeeping needed for expiry and least-recently-used eviction. The
// package holds the backend-neutral pieces: the Store contract, the eviction
// planner, key validation and striped key locks. Backends live in the
// subpackages filestore, memory, sqlstore and redisstore.
package store
