package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
)

// Tracing starts a server span per request. Chi fills the route pattern
// while routing, so the span is renamed after the handler returns.
func Tracing() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		named := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
			trace.SpanFromContext(r.Context()).SetName(spanName(r))
		})
		return otelhttp.NewHandler(named, "http.request")
	}
}

func spanName(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		return r.Method + " " + rctx.RoutePattern()
	}
	return r.Method + " " + r.URL.Path
}
