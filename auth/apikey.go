package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
	"time"
)

// DefaultAPIKeyHeader carries API keys unless configured otherwise.
const DefaultAPIKeyHeader = "X-API-Key"

// APIKey is a registered key. Only its hash is kept.
type APIKey struct {
	ID        string
	Hash      string
	Principal string
	Roles     []Role
	// ExpiresAt zero means never.
	ExpiresAt time.Time
}

// HashAPIKey returns the lowercase hex SHA-256 of key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// APIKeyAuthenticator accepts keys from a fixed set.
type APIKeyAuthenticator struct {
	header string
	keys   []APIKey
	now    func() time.Time
}

// NewAPIKeyAuthenticator reads keys from header, or DefaultAPIKeyHeader
// when header is empty.
func NewAPIKeyAuthenticator(header string, keys ...APIKey) *APIKeyAuthenticator {
	if header == "" {
		header = DefaultAPIKeyHeader
	}
	return &APIKeyAuthenticator{header: header, keys: keys, now: time.Now}
}

func (a *APIKeyAuthenticator) Name() string { return string(MethodAPIKey) }

func (a *APIKeyAuthenticator) Supports(r *http.Request) bool {
	return r.Header.Get(a.header) != ""
}

// Authenticate compares the hash of the presented key with every
// registered hash in constant time.
func (a *APIKeyAuthenticator) Authenticate(_ context.Context, r *http.Request) (*Identity, error) {
	presented := strings.TrimSpace(r.Header.Get(a.header))
	if presented == "" {
		return nil, ErrMissingCredentials
	}
	hash := []byte(HashAPIKey(presented))

	var match *APIKey
	for i := range a.keys {
		if subtle.ConstantTimeCompare(hash, []byte(strings.ToLower(a.keys[i].Hash))) == 1 {
			match = &a.keys[i]
		}
	}
	if match == nil {
		return nil, ErrInvalidCredentials
	}
	id := &Identity{
		Principal: match.Principal,
		Roles:     match.Roles,
		Method:    MethodAPIKey,
		KeyID:     match.ID,
		ExpiresAt: match.ExpiresAt,
	}
	if id.Principal == "" {
		id.Principal = "key:" + match.ID
	}
	if id.Expired(a.now()) {
		return nil, ErrTokenExpired
	}
	return id, nil
}

var _ Authenticator = (*APIKeyAuthenticator)(nil)
