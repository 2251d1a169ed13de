// Package httputil holds small HTTP middleware shared by the Listener and
// the read-only API.
package httputil

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// RequestIDHeader is both the inbound header WithRequestID trusts from a
// caller and the header it echoes back on the response.
const RequestIDHeader = "X-Request-Id"

type requestIDKey struct{}

// WithRequestID wraps next so every request carries a correlation id: the
// caller-supplied X-Request-Id header if present, otherwise a freshly
// generated UUID. The id is echoed back on the response and reachable from
// the handler via RequestIDFromContext, so log lines on both sides of a
// guardnode/operator HTTP call can be joined.
func WithRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFromContext returns the correlation id attached by
// WithRequestID, or "" if none is present.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
