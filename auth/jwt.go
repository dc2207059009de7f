package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig configures a JWTAuthenticator.
type JWTConfig struct {
	// Secret is the HMAC signing key. Required.
	Secret []byte

	// Issuer and Audience are checked when set.
	Issuer   string
	Audience string

	// RolesClaim names the claim listing roles. Default: "roles"
	RolesClaim string

	// Leeway tolerates clock skew on exp, nbf and iat.
	Leeway time.Duration
}

// JWTAuthenticator accepts HMAC-signed bearer tokens.
type JWTAuthenticator struct {
	cfg    JWTConfig
	parser *jwt.Parser
}

// NewJWTAuthenticator returns an error when cfg.Secret is empty.
func NewJWTAuthenticator(cfg JWTConfig) (*JWTAuthenticator, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("auth: jwt secret is empty")
	}
	if cfg.RolesClaim == "" {
		cfg.RolesClaim = "roles"
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &JWTAuthenticator{cfg: cfg, parser: jwt.NewParser(opts...)}, nil
}

func (a *JWTAuthenticator) Name() string { return string(MethodJWT) }

func (a *JWTAuthenticator) Supports(r *http.Request) bool {
	_, ok := bearer(r)
	return ok
}

func bearer(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(h[7:])
	return tok, tok != ""
}

func (a *JWTAuthenticator) Authenticate(_ context.Context, r *http.Request) (*Identity, error) {
	raw, ok := bearer(r)
	if !ok {
		return nil, ErrMissingCredentials
	}
	claims := jwt.MapClaims{}
	_, err := a.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.cfg.Secret, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenMalformed):
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	default:
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("%w: missing sub claim", ErrInvalidCredentials)
	}
	id := &Identity{Principal: sub, Method: MethodJWT, Roles: rolesClaim(claims[a.cfg.RolesClaim])}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		id.ExpiresAt = exp.Time
	}
	return id, nil
}

// rolesClaim accepts a JSON array of strings or a space-separated string.
// Unknown roles are ignored.
func rolesClaim(v any) []Role {
	var names []string
	switch val := v.(type) {
	case string:
		names = strings.Fields(val)
	case []any:
		for _, e := range val {
			if s, ok := e.(string); ok {
				names = append(names, s)
			}
		}
	}
	var roles []Role
	for _, n := range names {
		if r, err := ParseRole(n); err == nil {
			roles = append(roles, r)
		}
	}
	return roles
}

var _ Authenticator = (*JWTAuthenticator)(nil)
