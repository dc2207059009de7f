package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/sightserver/querycache/observe"
)

// Middleware authenticates every request with a and requires role. Rejected
// credentials get 401 and a missing role gets 403. The identity is
// attached to the request context.
func Middleware(a Authenticator, role Role, log observe.Logger) mux.MiddlewareFunc {
	if log == nil {
		log = observe.NopLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			id, err := a.Authenticate(ctx, r)
			if err != nil {
				if !isRejection(err) {
					log.Error(ctx, "auth: authenticator failed", observe.Err(err))
					deny(w, http.StatusInternalServerError, "authentication unavailable")
					return
				}
				log.Info(ctx, "auth: request rejected",
					observe.Field{Key: "path", Value: r.URL.Path},
					observe.Err(err))
				w.Header().Set("WWW-Authenticate", `Bearer realm="querycache"`)
				deny(w, http.StatusUnauthorized, publicReason(err))
				return
			}
			if err := Require(id, role); err != nil {
				log.Info(ctx, "auth: request forbidden",
					observe.Field{Key: "principal", Value: id.Principal},
					observe.Field{Key: "role", Value: string(role)},
					observe.Field{Key: "path", Value: r.URL.Path})
				deny(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, id)))
		})
	}
}

func publicReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingCredentials):
		return "missing credentials"
	case errors.Is(err, ErrTokenExpired):
		return "token expired"
	}
	return "invalid credentials"
}

func deny(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
