package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sightserver/querycache/auth"
	"github.com/sightserver/querycache/cache"
	"github.com/sightserver/querycache/observe"
	"github.com/sightserver/querycache/semantic"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// QueryRequest names a cached query. A missing context means
// cache.DefaultContext.
type QueryRequest struct {
	Query   string          `json:"query"`
	Context json.RawMessage `json:"context,omitempty"`
	Limit   int             `json:"limit,omitempty"`
}

// LookupResponse answers /v1/cache/lookup.
type LookupResponse struct {
	Hit bool `json:"hit"`
	*cache.Result
}

// CountResponse answers the maintenance routes.
type CountResponse struct {
	Removed int `json:"removed"`
}

func decodeQuery(w http.ResponseWriter, r *http.Request) (string, cache.QueryContext, QueryRequest, error) {
	var req QueryRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return "", cache.QueryContext{}, req, fmt.Errorf("%w: body: %v", cache.ErrInvalidInput, err)
	}
	qc, err := cache.ParseContext(req.Context)
	if err != nil {
		return "", cache.QueryContext{}, req, err
	}
	return req.Query, qc, req, nil
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.opts.Cache.Stats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	query, qc, _, err := decodeQuery(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, ok, err := s.opts.Cache.Get(r.Context(), query, qc)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := LookupResponse{Hit: ok}
	if ok {
		resp.Result = &res
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePeek(w http.ResponseWriter, r *http.Request) {
	query, qc, _, err := decodeQuery(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	row, ok, err := s.opts.Cache.Peek(r.Context(), query, qc)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"found": ok, "entry": row})
}

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	query, qc, req, err := decodeQuery(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 5
	}
	matches, err := s.opts.Cache.Similar(r.Context(), query, qc, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if matches == nil {
		matches = []semantic.Match{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	query, qc, _, err := decodeQuery(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	removed, err := s.opts.Cache.Invalidate(r.Context(), query, qc)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.audit(r, "invalidate", observe.Field{Key: "removed", Value: removed})
	n := 0
	if removed {
		n = 1
	}
	writeJSON(w, http.StatusOK, CountResponse{Removed: n})
}

func (s *Server) maintenance(op string, fn func(context.Context) (int, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := fn(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.audit(r, op, observe.Field{Key: "removed", Value: n})
		writeJSON(w, http.StatusOK, CountResponse{Removed: n})
	}
}

// audit logs a mutation with the caller's principal.
func (s *Server) audit(r *http.Request, op string, fields ...observe.Field) {
	principal := "anonymous"
	if id := auth.IdentityFromContext(r.Context()); id != nil {
		principal = id.Principal
	}
	fields = append(fields,
		observe.Field{Key: "op", Value: op},
		observe.Field{Key: "principal", Value: principal})
	s.log.Info(r.Context(), "admin: cache maintenance", fields...)
}

// fail maps err to a status code. Invalid input is the caller's fault, a
// closed cache or missing embeddings are temporary.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, cache.ErrInvalidInput):
		code = http.StatusBadRequest
	case errors.Is(err, cache.ErrClosed), errors.Is(err, semantic.ErrEmbeddingUnavailable):
		code = http.StatusServiceUnavailable
	}
	if code == http.StatusInternalServerError {
		s.log.Error(r.Context(), "admin: request failed",
			observe.Field{Key: "path", Value: r.URL.Path}, observe.Err(err))
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug(r.Context(), "admin: request",
			observe.Field{Key: "method", Value: r.Method},
			observe.Field{Key: "path", Value: r.URL.Path},
			observe.Field{Key: "status", Value: rec.status},
			observe.Field{Key: "duration_ms", Value: time.Since(start).Milliseconds()})
	})
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				s.log.Error(r.Context(), "admin: handler panic",
					observe.Field{Key: "path", Value: r.URL.Path},
					observe.Field{Key: "panic", Value: fmt.Sprint(v)})
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
