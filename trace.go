package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
)

// traceKey is the context key type for request trace IDs.
type traceKey struct{}

// newRequestID generates a short unique request ID, e.g. "req-a1b2c3".
func newRequestID() string {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		return "req-000000"
	}
	return fmt.Sprintf("req-%x", b)
}

func withTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// traceIDFromContext extracts the request ID from context, or "".
func traceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(traceKey{}).(string); ok {
		return v
	}
	return ""
}

// requestIDMiddleware tags each request with an ID carried through the
// context and echoed in the X-Request-Id response header.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := newRequestID()
		ctx := withTraceID(r.Context(), id)
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
