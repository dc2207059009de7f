package auth

import "errors"

var (
	// ErrMissingCredentials means no authenticator recognised the request.
	ErrMissingCredentials = errors.New("auth: missing credentials")
	// ErrInvalidCredentials means the credentials were recognised but wrong.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrTokenExpired means the credentials were valid once.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenMalformed means the token could not be parsed.
	ErrTokenMalformed = errors.New("auth: token malformed")
	// ErrForbidden means the caller lacks the required role.
	ErrForbidden = errors.New("auth: access denied")
)
