// Package auth authenticates callers of the cache's admin HTTP surface.
//
// Two credentials are supported: static API keys, stored as SHA-256
// hashes, and HMAC-signed JWTs. A Chain tries each Authenticator that
// recognises the request. Middleware plugs a Chain into a gorilla/mux
// router and enforces a Role: RoleReader may read stats and run lookups,
// and RoleAdmin may also sweep, scrub, clear and invalidate.
package auth
