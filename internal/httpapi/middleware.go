package httpapi

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type contextKey string

const correlationIDKey contextKey = "correlationId"

// CorrelationMiddleware reads X-Correlation-ID, generating one if absent, and
// attaches it to both the response and the request-scoped logger — adapted
// from the teacher's internal/httpapi/middleware.go CorrelationMiddleware.
func CorrelationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		w.Header().Set("X-Correlation-ID", correlationID)

		ctx := context.WithValue(r.Context(), correlationIDKey, correlationID)
		logger := log.With().Str("correlation_id", correlationID).Logger()
		ctx = logger.WithContext(ctx)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetCorrelationID retrieves the correlation ID CorrelationMiddleware attached.
func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// tokenBucket is a per-key token bucket, adapted from the teacher's
// internal/httpapi/ratelimit.go TokenBucket for the OAuth endpoints, which
// have no authenticated user ID to key on and so rate-limit by client IP.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64
	lastRefill time.Time
}

func newTokenBucket(capacity int, refillRate float64) *tokenBucket {
	return &tokenBucket{tokens: float64(capacity), capacity: float64(capacity), refillRate: refillRate, lastRefill: time.Now()}
}

func (tb *tokenBucket) allow() (bool, time.Duration) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	tb.tokens += now.Sub(tb.lastRefill).Seconds() * tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now

	if tb.tokens >= 1.0 {
		tb.tokens--
		return true, 0
	}
	wait := time.Duration((1.0 - tb.tokens) / tb.refillRate * float64(time.Second))
	return false, wait
}

// OAuthRateLimitConfig configures OAuthRateLimitMiddleware.
type OAuthRateLimitConfig struct {
	WindowSeconds int
	MaxRequests   int
	Burst         int
}

// DefaultOAuthRateLimitConfig mirrors the teacher's stricter auth-endpoint
// default (DefaultAuthRateLimitConfig): 60 req/min, small burst.
var DefaultOAuthRateLimitConfig = OAuthRateLimitConfig{WindowSeconds: 60, MaxRequests: 60, Burst: 20}

// OAuthRateLimitMiddleware rate-limits requests per client IP, protecting
// the unauthenticated /oauth/* surface (token exchange, registration, login
// attempts) from brute-force and DCR abuse.
func OAuthRateLimitMiddleware(cfg OAuthRateLimitConfig) func(http.Handler) http.Handler {
	refillRate := float64(cfg.MaxRequests) / float64(cfg.WindowSeconds)

	var mu sync.Mutex
	buckets := make(map[string]*tokenBucket)

	getBucket := func(key string) *tokenBucket {
		mu.Lock()
		defer mu.Unlock()
		b, ok := buckets[key]
		if !ok {
			b = newTokenBucket(cfg.Burst, refillRate)
			buckets[key] = b
		}
		return b
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientIP(r)
			allowed, wait := getBucket(key).allow()
			if !allowed {
				retryAfter := int(wait.Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				log.Warn().Str("client_ip", key).Str("path", r.URL.Path).Msg("oauth endpoint rate limit exceeded")
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
