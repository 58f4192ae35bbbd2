package middleware

import (
	"net/http"
	"time"

	"github.com/safetyhub/internal/logger"
)

// RequestLog логирует каждый HTTP-запрос (асинхронно, не блокирует): медленные
// и неуспешные на info, остальные на debug.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := wrap(w)
		next.ServeHTTP(rw, r)

		elapsed := time.Since(start)
		if rw.status >= 400 || elapsed >= 100*time.Millisecond {
			logger.Event("http", map[string]any{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      rw.status,
				"duration_ms": elapsed.Milliseconds(),
			})
			return
		}
		logger.Debugf("http %s %s %d %s", r.Method, r.URL.Path, rw.status, elapsed)
	})
}

// SecureHeaders adds the usual hardening headers to every response.
func SecureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}
