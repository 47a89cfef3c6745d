package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type clientLimiter struct {
	general   *rate.Limiter
	sensitive *rate.Limiter
	lastSeen  time.Time
}

// RateLimitMiddleware is a per-IP token bucket in front of the API. Requests
// that reach the permanent delete gate or the unlock endpoint draw from a
// smaller bucket. The gate keeps its own per-principal sliding window.
type RateLimitMiddleware struct {
	generalRPM   int
	sensitiveRPM int
	mu           sync.Mutex
	clients      map[string]*clientLimiter
	now          func() time.Time
}

// NewRateLimitMiddleware builds the limiter. A negative generalRPM disables
// the general bucket; zero values fall back to the defaults.
func NewRateLimitMiddleware(generalRPM int, sensitiveRPM int) *RateLimitMiddleware {
	if generalRPM == 0 {
		generalRPM = 100
	}
	if sensitiveRPM <= 0 {
		sensitiveRPM = 10
	}

	return &RateLimitMiddleware{
		generalRPM:   generalRPM,
		sensitiveRPM: sensitiveRPM,
		clients:      map[string]*clientLimiter{},
		now:          time.Now,
	}
}

func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		limiter := m.getLimiter(ClientIP(r))

		target := limiter.general
		if isSensitivePath(r.URL.Path) {
			target = limiter.sensitive
		}

		if target != nil && !target.Allow() {
			w.Header().Set("Retry-After", "60")
			writeJSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func isSensitivePath(path string) bool {
	path = strings.ToLower(path)
	return strings.HasSuffix(path, "/permanent-delete") || strings.Contains(path, "/security/unlock/")
}

func (m *RateLimitMiddleware) getLimiter(clientIP string) *clientLimiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if limiter, exists := m.clients[clientIP]; exists {
		limiter.lastSeen = now
		m.gcLocked(now)
		return limiter
	}

	created := &clientLimiter{
		sensitive: rate.NewLimiter(rate.Every(time.Minute/time.Duration(m.sensitiveRPM)), m.sensitiveRPM),
		lastSeen:  now,
	}
	if m.generalRPM > 0 {
		created.general = rate.NewLimiter(rate.Every(time.Minute/time.Duration(m.generalRPM)), m.generalRPM)
	}
	m.clients[clientIP] = created
	m.gcLocked(now)

	return created
}

func (m *RateLimitMiddleware) gcLocked(now time.Time) {
	if len(m.clients) < 1000 {
		return
	}

	cutoff := now.Add(-10 * time.Minute)
	for ip, limiter := range m.clients {
		if limiter.lastSeen.Before(cutoff) {
			delete(m.clients, ip)
		}
	}
}

// ClientIP resolves the caller address, preferring proxy headers.
func ClientIP(r *http.Request) string {
	forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	realIP := strings.TrimSpace(r.Header.Get("X-Real-IP"))
	if realIP != "" {
		return realIP
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}

	if strings.TrimSpace(r.RemoteAddr) == "" {
		return "unknown"
	}

	return r.RemoteAddr
}
