// Package admin serves the operator HTTP surface of a querycache process:
// health probes, Prometheus metrics, statistics, diagnostic lookups and
// maintenance (sweep, scrub, clear, invalidate).
//
// Reads require auth.RoleReader and maintenance requires auth.RoleAdmin.
// With no Authenticator configured every route is open, which is only
// appropriate when Addr is bound to loopback.
package admin
