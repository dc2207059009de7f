// Package cache is the query result cache: key derivation over normalized
// query text and a typed context, and the Manager that layers an optional
// semantic similarity index over an exact-match store.
//
// A Manager is built explicitly with NewManager and closed with Close.
// Cache failures never fail the caller: Lookup, Store and Do degrade to a
// miss and log.
package cache
