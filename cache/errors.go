package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput reports a caller bug: empty query text or an unknown
	// context value.
	ErrInvalidInput = errors.New("cache: invalid input")

	// ErrMalformedQuery reports query text that looks like a hash, which
	// means a key was stored in place of the text.
	ErrMalformedQuery = fmt.Errorf("%w: query text looks like a hash", ErrInvalidInput)

	// ErrClosed is returned by operations on a closed Manager.
	ErrClosed = errors.New("cache: manager is closed")
)
