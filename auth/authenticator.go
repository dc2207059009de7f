package auth

import (
	"context"
	"errors"
	"net/http"
)

// Authenticator turns request credentials into an Identity.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Supports must not do I/O; it only says whether the request carries
//     this authenticator's kind of credential.
//   - Authenticate returns an error matching ErrInvalidCredentials,
//     ErrTokenExpired or ErrTokenMalformed when the credential is
//     rejected. Any other error is an internal failure.
type Authenticator interface {
	Name() string
	Supports(r *http.Request) bool
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
}

// Chain tries authenticators in order.
type Chain []Authenticator

func (c Chain) Name() string { return "chain" }

// Supports reports whether any authenticator in c supports r.
func (c Chain) Supports(r *http.Request) bool {
	for _, a := range c {
		if a.Supports(r) {
			return true
		}
	}
	return false
}

// Authenticate returns the identity from the first authenticator that
// accepts r. If none supports r it returns ErrMissingCredentials; if all
// that support it reject it, the last rejection is returned. Internal
// errors stop the chain.
func (c Chain) Authenticate(ctx context.Context, r *http.Request) (*Identity, error) {
	err := ErrMissingCredentials
	for _, a := range c {
		if !a.Supports(r) {
			continue
		}
		id, aerr := a.Authenticate(ctx, r)
		if aerr == nil {
			return id, nil
		}
		if !isRejection(aerr) {
			return nil, aerr
		}
		err = aerr
	}
	return nil, err
}

func isRejection(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenMalformed) ||
		errors.Is(err, ErrMissingCredentials)
}

var _ Authenticator = Chain(nil)
