package observe

import "errors"

// Errors returned by Config.Validate and NewLogger.
var (
	ErrMissingServiceName     = errors.New("observe: service name is required")
	ErrInvalidSamplePct       = errors.New("observe: tracing sample_pct must be within [0, 1]")
	ErrInvalidTracingExporter = errors.New("observe: unknown tracing exporter")
	ErrInvalidMetricsExporter = errors.New("observe: unknown metrics exporter")
	ErrInvalidLogLevel        = errors.New("observe: unknown log level")

	// ErrInvalidLogOutput also covers a file output with no path.
	ErrInvalidLogOutput = errors.New("observe: unknown log output")
)

// Sampling bounds for TracingConfig.SamplePct.
const (
	MinSamplePct = 0.0
	MaxSamplePct = 1.0
)

// RedactedFields are field keys logged as "[REDACTED]". Cached payloads
// are included: they can be large and may carry user data.
var RedactedFields = []string{
	"api_key",
	"authorization",
	"dsn",
	"password",
	"payload",
	"secret",
	"token",
}
