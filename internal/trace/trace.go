// Package trace propagates a per-request trace id through the control
// API for cross-component log correlation.
package trace

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// Header is the request header carrying the trace id.
const Header = "X-Trace-Id"

type ctxKey struct{}

// FromContext returns the trace id, or "" when none is set.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// WithID returns a context carrying the trace id.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// Middleware reads the trace id header, generating one when absent, puts
// it on the request context and echoes it on the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(Header)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(Header, id)
		next.ServeHTTP(w, r.WithContext(WithID(r.Context(), id)))
	})
}
