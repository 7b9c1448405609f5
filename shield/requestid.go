package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/vistoamigo/tutor/idgen"
	"github.com/vistoamigo/tutor/kit"
)

var requestID = idgen.Prefixed("req_", idgen.NanoID(8))

// RequestID assigns each request a short random ID and injects it into the
// context, the X-Request-ID response header, and a per-request structured
// logger stored under LoggerKey.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := requestID()

		ctx := kit.WithRequestID(r.Context(), id)
		w.Header().Set("X-Request-ID", id)

		logger := slog.Default().With(
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
		)
		ctx = context.WithValue(ctx, LoggerKey, logger)
		logger.Debug("request")

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
