// Package observe carries the query cache's telemetry: a context-first
// structured logger backed by zap, and OpenTelemetry metrics and tracing
// for cache lookups, stores, evictions and embedding calls.
//
// It performs no I/O beyond log sinks and exporter setup. The cache
// manager and the admin server consume an Observer; libraries that only
// need logging accept a Logger and fall back to NopLogger.
package observe
