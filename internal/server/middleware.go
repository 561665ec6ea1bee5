package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/attache-app/attache/internal/auth"
	"github.com/attache-app/attache/internal/instrumentation"
	"github.com/attache-app/attache/internal/logging"
)

type contextKey string

// uidContextKey carries the verified user id through the request context.
const uidContextKey contextKey = "uid"

// uidFromContext returns the verified user id set by requireAuth.
func uidFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(uidContextKey).(string)
	return uid
}

// requireAuth verifies the bearer identity token and stores the user id in
// the request context. Requests without a valid token never reach the
// wrapped handler.
func requireAuth(verifier *auth.Verifier, logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid, err := verifier.FromAuthorizationHeader(r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, logger, "http.auth", err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), uidContextKey, uid)))
	})
}

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// observe wraps a handler with request logging and HTTP metrics. route must
// be the registered pattern, not the raw path, to keep label cardinality
// bounded.
func observe(metrics *instrumentation.Metrics, logger *slog.Logger, route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		metrics.RecordHTTPRequest(r.Context(), r.Method, route, rec.status, duration)
		logger.Debug("request handled",
			logging.Operation("http.request"),
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.Int("http_status", rec.status),
			slog.Duration(logging.KeyDuration, duration))
	})
}
