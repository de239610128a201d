// ABOUTME: HTTP access logging middleware recording method, path, status and latency
// ABOUTME: Log level follows the response status so failures stand out

package middleware

import (
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/2389/cellular/internal/auth"
)

// statusRecorder wraps http.ResponseWriter to capture the status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.statusCode = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.statusCode = http.StatusOK
		sr.written = true
	}
	return sr.ResponseWriter.Write(b)
}

// Logging logs one line per request. The username is included when the
// request carried a verified token.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			// Handlers behind BearerMiddleware see a new request; capture the
			// identity through a holder set before the chain runs.
			holder := &identityHolder{}
			next.ServeHTTP(rec, r.WithContext(withIdentityHolder(r.Context(), holder)))

			args := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.statusCode,
				"duration_ms", float64(time.Since(start).Nanoseconds()) / float64(time.Millisecond),
			}
			if reqID := chimw.GetReqID(r.Context()); reqID != "" {
				args = append(args, "request_id", reqID)
			}
			if holder.username != "" {
				args = append(args, "username", holder.username)
			}

			level := slog.LevelInfo
			switch {
			case rec.statusCode >= 500:
				level = slog.LevelError
			case rec.statusCode >= 400:
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "http_request", args...)
		})
	}
}

// RecordIdentity copies the verified username into the access log. Mount it
// after BearerMiddleware.
func RecordIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if holder := identityHolderFrom(r.Context()); holder != nil {
			if a := auth.FromContext(r.Context()); a != nil {
				holder.username = a.Username
			}
		}
		next.ServeHTTP(w, r)
	})
}
