package middleware

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/maincase/mdesign-backend/internal/infra/geoip"
)

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Logger logs one structured line per request. When a country resolver is
// provided, requests are annotated with the caller's country code; lookups
// are best-effort and failures only drop the field.
func Logger(l zerolog.Logger, countries geoip.CountryResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)

			evt := l.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rw.status).
				Dur("duration", time.Since(start)).
				Str("request_id", RequestIDFromContext(r.Context()))
			if countries != nil {
				if code, err := countries.CountryCode(ClientIP(r)); err == nil && code != "" {
					evt = evt.Str("country", code)
				}
			}
			evt.Msg("request")
		})
	}
}
