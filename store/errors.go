package store

import "errors"

// Sentinel errors for store operations.
var (
	// ErrStorage wraps an I/O failure while mutating persisted state.
	ErrStorage = errors.New("store: storage failure")

	// ErrCorruption marks persisted data that could not be decoded.
	// It is reported by Load and never returned from Get.
	ErrCorruption = errors.New("store: corrupt entry")

	ErrInvalidKey = errors.New("store: key is invalid")
	ErrKeyTooLong = errors.New("store: key exceeds max length")
	ErrClosed     = errors.New("store: store is closed")
)
