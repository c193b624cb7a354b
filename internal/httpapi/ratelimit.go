package httpapi

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Buckets idle this long are full again and can be dropped.
const idleBucketTTL = 10 * time.Minute

var rateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "queue_http_rate_limited_total",
	Help: "Requests rejected by the per-client limiter",
}, []string{"route"})

type RateLimitConfig struct {
	IPPerMinute int
	IPBurst     int
	// TrustForwardedFor keys clients by X-Forwarded-For. Only enable behind a proxy that sets it.
	TrustForwardedFor bool
}

// RateLimiter is a per-client token bucket in front of the whole mux.
// Probes and metric scrapes are never limited.
type RateLimiter struct {
	mu        sync.Mutex
	perSecond float64
	burst     float64
	clients   map[string]*tokenBucket
	lastSweep time.Time
	forwarded bool
	now       func() time.Time
}

type tokenBucket struct {
	tokens float64
	seen   time.Time
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	perMinute := cfg.IPPerMinute
	if perMinute <= 0 {
		perMinute = 60
	}
	burst := cfg.IPBurst
	if burst <= 0 {
		burst = 20
	}
	return &RateLimiter{
		perSecond: float64(perMinute) / 60,
		burst:     float64(burst),
		clients:   make(map[string]*tokenBucket),
		forwarded: cfg.TrustForwardedFor,
		now:       time.Now,
	}
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		key := l.clientKey(r)
		if wait, ok := l.take(key); !ok {
			rateLimitedTotal.WithLabelValues(routeLabel(r.URL.Path)).Inc()
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// take spends one token for key. When the bucket is empty it reports how
// long until the next token.
func (l *RateLimiter) take(key string) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	b, ok := l.clients[key]
	if !ok {
		b = &tokenBucket{tokens: l.burst, seen: now}
		l.clients[key] = b
	}
	b.tokens = math.Min(l.burst, b.tokens+now.Sub(b.seen).Seconds()*l.perSecond)
	b.seen = now
	if b.tokens < 1 {
		missing := (1 - b.tokens) / l.perSecond
		return time.Duration(missing * float64(time.Second)), false
	}
	b.tokens--
	return 0, true
}

func (l *RateLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < idleBucketTTL {
		return
	}
	l.lastSweep = now
	for key, b := range l.clients {
		if now.Sub(b.seen) >= idleBucketTTL {
			delete(l.clients, key)
		}
	}
}

func (l *RateLimiter) clientKey(r *http.Request) string {
	if l.forwarded {
		if first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ","); strings.TrimSpace(first) != "" {
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
