package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// Keyer derives cache keys.
//
// Contract:
// - Determinism: equal normalized text and equal context give equal keys.
// - Concurrency: implementations must be safe for concurrent use.
type Keyer interface {
	Derive(query string, qc QueryContext) (string, error)
}

// DefaultKeyer hashes normalized text plus canonical context with SHA-256.
type DefaultKeyer struct{}

// NewDefaultKeyer returns the SHA-256 keyer.
func NewDefaultKeyer() DefaultKeyer { return DefaultKeyer{} }

// Derive returns the 64-char lowercase hex key for query under qc.
func (DefaultKeyer) Derive(query string, qc QueryContext) (string, error) {
	norm := Normalize(query)
	if norm == "" {
		return "", fmt.Errorf("%w: empty query text", ErrInvalidInput)
	}
	canon, err := qc.Canonical()
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(norm))
	h.Write(canon)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Normalize lower-cases query, trims it and collapses every run of Unicode
// whitespace to one ASCII space.
func Normalize(query string) string {
	var b strings.Builder
	b.Grow(len(query))
	space := false
	for _, r := range strings.TrimSpace(query) {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

var hashLike = regexp.MustCompile(`^(?:[0-9a-f]{32}|[0-9a-f]{40}|[0-9a-f]{64})$`)

// LooksLikeHash reports whether text is a bare MD5, SHA-1 or SHA-256 hex
// digest, in either case.
func LooksLikeHash(text string) bool {
	return hashLike.MatchString(strings.ToLower(strings.TrimSpace(text)))
}

// ValidateQueryText rejects empty and hash-like query text.
func ValidateQueryText(text string) error {
	if Normalize(text) == "" {
		return fmt.Errorf("%w: empty query text", ErrInvalidInput)
	}
	if LooksLikeHash(text) {
		return ErrMalformedQuery
	}
	return nil
}

var _ Keyer = DefaultKeyer{}
