// Package config loads querycache settings from YAML and the environment
// and builds the cache, store and admin components they describe.
//
// Precedence, lowest first: Default, the YAML file (after strict ${VAR}
// expansion), then QUERYCACHE_* environment variables. Secret-bearing
// fields may hold secretref: references, resolved last.
package config
