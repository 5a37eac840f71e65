package middleware

import (
	"context"
	"net/http"
)

type contextKey string

const ContextKeyActor contextKey = "actor"

// ActorFromContext returns the acting trainer/admin identity attached by
// the Actor middleware.
func ActorFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ContextKeyActor).(string)
	return v, ok && v != ""
}

// Actor attaches the X-Actor-ID header value to the request context. The
// platform gateway in front of this service authenticates the caller and
// forwards the identity; handlers that record review or override actions
// require it.
func Actor() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := r.Header.Get("X-Actor-ID")
			if actor != "" {
				r = r.WithContext(context.WithValue(r.Context(), ContextKeyActor, actor))
			}
			next.ServeHTTP(w, r)
		})
	}
}
