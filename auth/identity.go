package auth

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// Method says how an identity was authenticated.
type Method string

const (
	MethodAPIKey Method = "api_key"
	MethodJWT    Method = "jwt"
)

// Role grants access to a class of admin operations.
type Role string

const (
	// RoleReader may read stats and look up entries.
	RoleReader Role = "reader"
	// RoleAdmin may also mutate the cache. It implies RoleReader.
	RoleAdmin Role = "admin"
)

// ParseRole maps s to a Role.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleReader, RoleAdmin:
		return r, nil
	}
	return "", fmt.Errorf("auth: unknown role %q", s)
}

// Identity is an authenticated caller.
type Identity struct {
	Principal string
	Roles     []Role
	Method    Method

	// KeyID names the API key used, if any.
	KeyID     string
	ExpiresAt time.Time
}

// Has reports whether the identity holds role, directly or through
// RoleAdmin.
func (id *Identity) Has(role Role) bool {
	if id == nil {
		return false
	}
	return slices.Contains(id.Roles, role) || slices.Contains(id.Roles, RoleAdmin)
}

// Expired reports whether the identity has an expiry in the past.
func (id *Identity) Expired(now time.Time) bool {
	return !id.ExpiresAt.IsZero() && now.After(id.ExpiresAt)
}

// AccessError is returned when an identity lacks a role. It matches
// ErrForbidden.
type AccessError struct {
	Principal string
	Role      Role
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("auth: %q lacks role %q", e.Principal, e.Role)
}

func (e *AccessError) Is(target error) bool { return target == ErrForbidden }

// Require returns an *AccessError unless id holds role.
func Require(id *Identity, role Role) error {
	if id.Has(role) {
		return nil
	}
	p := ""
	if id != nil {
		p = id.Principal
	}
	return &AccessError{Principal: p, Role: role}
}

type contextKey struct{}

// WithIdentity attaches id to ctx.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// IdentityFromContext returns the identity attached by Middleware, or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(contextKey{}).(*Identity)
	return id
}
