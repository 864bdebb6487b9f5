package httpx

import (
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/litimahmed/universal-hub/pkg/slogx"
)

// Limit describes a token bucket: Requests per Window with room for Burst.
type Limit struct {
	Requests int
	Window   time.Duration
	Burst    int
}

var (
	// StrictLimit guards credential endpoints.
	StrictLimit = Limit{Requests: 10, Window: time.Minute, Burst: 10}

	// LenientLimit guards health and read endpoints.
	LenientLimit = Limit{Requests: 300, Window: time.Minute, Burst: 100}
)

// LimitFromEnv overrides def with RATELIMIT_<PREFIX>_REQUESTS,
// RATELIMIT_<PREFIX>_WINDOW and RATELIMIT_<PREFIX>_BURST when set.
func LimitFromEnv(prefix string, def Limit) Limit {
	l := def
	env := func(field string) string { return os.Getenv("RATELIMIT_" + prefix + "_" + field) }

	if n, err := strconv.Atoi(env("REQUESTS")); err == nil && n > 0 {
		l.Requests = n
	}
	if d, err := time.ParseDuration(env("WINDOW")); err == nil && d > 0 {
		l.Window = d
	}
	if n, err := strconv.Atoi(env("BURST")); err == nil && n > 0 {
		l.Burst = n
	}
	return l
}

// KeyFunc groups requests into buckets. An empty key bypasses limiting.
type KeyFunc func(*http.Request) string

// ClientIP keys on the first X-Forwarded-For hop, X-Real-IP, then the peer
// address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type buckets struct {
	mu          sync.Mutex
	limiters    map[string]*rate.Limiter
	every       rate.Limit
	burst       int
	lastSweep   time.Time
	sweepPeriod time.Duration
}

func (b *buckets) get(key string) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()

	if now := time.Now(); now.Sub(b.lastSweep) > b.sweepPeriod {
		// A full bucket has been idle long enough to forget.
		for k, l := range b.limiters {
			if l.TokensAt(now) >= float64(b.burst) {
				delete(b.limiters, k)
			}
		}
		b.lastSweep = now
	}

	l, ok := b.limiters[key]
	if !ok {
		l = rate.NewLimiter(b.every, b.burst)
		b.limiters[key] = l
	}
	return l
}

// RateLimit answers 429 with Retry-After once a key exhausts its bucket.
func RateLimit(limit Limit, key KeyFunc) Middleware {
	b := &buckets{
		limiters:    make(map[string]*rate.Limiter),
		every:       rate.Limit(float64(limit.Requests) / limit.Window.Seconds()),
		burst:       limit.Burst,
		lastSweep:   time.Now(),
		sweepPeriod: 5 * time.Minute,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" {
				next.ServeHTTP(w, r)
				return
			}

			l := b.get(k)
			if l.Allow() {
				next.ServeHTTP(w, r)
				return
			}

			res := l.Reserve()
			retry := max(int(res.Delay().Seconds()), 1)
			res.Cancel()

			slogx.FromContext(r.Context()).Warn("rate limit exceeded", "key", k, "retry_after", retry)
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			WriteError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "too many requests, try again later")
		})
	}
}

// RateLimitByIP is RateLimit keyed on ClientIP.
func RateLimitByIP(limit Limit) Middleware {
	return RateLimit(limit, ClientIP)
}
