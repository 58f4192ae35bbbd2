package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

const (
	rateLimitWindow = time.Minute
	rateLimitMaxIP  = 200
)

// RateLimiter считает запросы по ключу в фиксированном окне; счётчики живут в
// go-cache и истекают вместе с окном.
type RateLimiter struct {
	counts *cache.Cache
	max    int
	window time.Duration
}

func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	return &RateLimiter{counts: cache.New(window, 2*window), max: max, window: window}
}

func (l *RateLimiter) Allow(key string) bool {
	if err := l.counts.Add(key, 1, l.window); err == nil {
		return true
	}
	n, err := l.counts.IncrementInt(key, 1)
	if err != nil {
		// окно истекло между Add и Increment
		l.counts.Set(key, 1, l.window)
		return true
	}
	return n <= l.max
}

// Limit отвечает 429, когда клиент (по IP) превысил лимит. WebSocket upgrade не
// ограничивается: там свой лимит соединений.
func (l *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			next.ServeHTTP(w, r)
			return
		}
		if !l.Allow(clientIP(r)) {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

var apiRate = NewRateLimiter(rateLimitMaxIP, rateLimitWindow)

// RateLimitAPI ограничивает запросы по IP: rateLimitMaxIP в минуту.
func RateLimitAPI(next http.Handler) http.Handler {
	return apiRate.Limit(next)
}

func clientIP(r *http.Request) string {
	if x := r.Header.Get("X-Real-Ip"); x != "" {
		return x
	}
	if x := r.Header.Get("X-Forwarded-For"); x != "" {
		if i := strings.IndexByte(x, ','); i >= 0 {
			return strings.TrimSpace(x[:i])
		}
		return x
	}
	return r.RemoteAddr
}
