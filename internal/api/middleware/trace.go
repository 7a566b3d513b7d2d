package middleware

import (
	"log/slog"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/mailpipe/internal/api/shared"
	"github.com/phrazzld/mailpipe/internal/platform/logger"
)

// Trace assigns each request a trace ID, reusing chi's request ID when one
// is present, and stores a request-scoped logger carrying it as the
// correlation id. It should run early in the middleware chain.
func Trace(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := shared.SetTraceID(r.Context(), chimw.GetReqID(r.Context()))
			traceID := shared.GetTraceID(ctx)
			ctx = logger.WithCorrelationID(ctx, traceID)
			ctx = logger.WithContext(ctx, base)

			base.DebugContext(ctx, "request started",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
