package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
)

func newProtected(role Role) *mux.Router {
	keys := NewAPIKeyAuthenticator("",
		APIKey{ID: "reader", Hash: HashAPIKey("r-key"), Roles: []Role{RoleReader}},
		APIKey{ID: "admin", Hash: HashAPIKey("a-key"), Roles: []Role{RoleAdmin}},
	)
	r := mux.NewRouter()
	r.Use(Middleware(Chain{keys}, role, nil))
	r.HandleFunc("/op", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(IdentityFromContext(r.Context()).KeyID))
	})
	return r
}

func TestMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		role     Role
		key      string
		wantCode int
		wantBody string
	}{
		{"no credentials", RoleReader, "", http.StatusUnauthorized, ""},
		{"bad key", RoleReader, "nope", http.StatusUnauthorized, ""},
		{"reader reads", RoleReader, "r-key", http.StatusOK, "reader"},
		{"reader cannot mutate", RoleAdmin, "r-key", http.StatusForbidden, ""},
		{"admin mutates", RoleAdmin, "a-key", http.StatusOK, "admin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/op", nil)
			if tt.key != "" {
				req.Header.Set(DefaultAPIKeyHeader, tt.key)
			}
			rec := httptest.NewRecorder()
			newProtected(tt.role).ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantBody != "" && rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
			if rec.Code == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("401 should carry WWW-Authenticate")
			}
		})
	}
}

func TestMiddleware_ErrorBody(t *testing.T) {
	rec := httptest.NewRecorder()
	newProtected(RoleReader).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/op", nil))
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "missing credentials" {
		t.Errorf("error = %q", body["error"])
	}
}
