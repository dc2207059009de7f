package health

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// CheckResponse is the JSON form of one Result.
type CheckResponse struct {
	Status   string         `json:"status"`
	Message  string         `json:"message,omitempty"`
	Duration string         `json:"duration,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// ReportResponse is the JSON form of a Report.
type ReportResponse struct {
	Status    string                   `json:"status"`
	Timestamp string                   `json:"timestamp"`
	Checks    map[string]CheckResponse `json:"checks,omitempty"`
}

func toResponse(r Result) CheckResponse {
	out := CheckResponse{
		Status:   r.Status.String(),
		Message:  r.Message,
		Duration: r.Duration.String(),
		Details:  r.Details,
	}
	if r.Error != nil {
		out.Error = r.Error.Error()
	}
	return out
}

// statusCode maps Unhealthy to 503. A degraded cache still serves.
func statusCode(s Status) int {
	if s == StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

// LivenessHandler answers 200 while the process runs.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

// ReadinessHandler runs every check and answers OK, DEGRADED or UNHEALTHY.
func ReadinessHandler(agg *Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep := agg.CheckAll(r.Context())
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(statusCode(rep.Status))
		switch rep.Status {
		case StatusHealthy:
			_, _ = w.Write([]byte("OK"))
		case StatusDegraded:
			_, _ = w.Write([]byte("DEGRADED"))
		default:
			_, _ = w.Write([]byte("UNHEALTHY"))
		}
	}
}

// DetailedHandler runs every check and answers a ReportResponse.
func DetailedHandler(agg *Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep := agg.CheckAll(r.Context())
		resp := ReportResponse{
			Status:    rep.Status.String(),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Checks:    make(map[string]CheckResponse, len(rep.Checks)),
		}
		for name, res := range rep.Checks {
			resp.Checks[name] = toResponse(res)
		}
		writeJSON(w, statusCode(rep.Status), resp)
	}
}

// SingleCheckHandler runs the check named by the {name} route variable.
func SingleCheckHandler(agg *Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := agg.Check(r.Context(), mux.Vars(r)["name"])
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, statusCode(res.Status), toResponse(res))
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// RegisterRoutes mounts /healthz, /readyz, /health and /health/{name} on r.
func RegisterRoutes(r *mux.Router, agg *Aggregator) {
	r.HandleFunc("/healthz", LivenessHandler()).Methods(http.MethodGet)
	r.HandleFunc("/readyz", ReadinessHandler(agg)).Methods(http.MethodGet)
	r.HandleFunc("/health", DetailedHandler(agg)).Methods(http.MethodGet)
	r.HandleFunc("/health/{name}", SingleCheckHandler(agg)).Methods(http.MethodGet)
}
