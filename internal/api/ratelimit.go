package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterPool hands out one token-bucket limiter per client IP. Stale
// entries are evicted lazily whenever the pool is consulted, so no
// background goroutine is needed.
type limiterPool struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	seen      map[string]time.Time
	rps       rate.Limit
	burst     int
	staleAge  time.Duration
	lastEvict time.Time
}

func newLimiterPool(rps int) *limiterPool {
	return &limiterPool{
		limiters: make(map[string]*rate.Limiter),
		seen:     make(map[string]time.Time),
		rps:      rate.Limit(rps),
		burst:    rps,
		staleAge: 5 * time.Minute,
	}
}

func (p *limiterPool) allow(ip string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if now.Sub(p.lastEvict) > p.staleAge {
		for k, last := range p.seen {
			if now.Sub(last) > p.staleAge {
				delete(p.limiters, k)
				delete(p.seen, k)
			}
		}
		p.lastEvict = now
	}

	l, ok := p.limiters[ip]
	if !ok {
		l = rate.NewLimiter(p.rps, p.burst)
		p.limiters[ip] = l
	}
	p.seen[ip] = now
	return l.Allow()
}

// RateLimit returns a Middleware limiting job submissions to rps requests
// per second per client IP, with a burst of the same size. Uploads are the
// expensive call; status polls are not throttled. An rps of 0 disables the
// limit.
func RateLimit(rps int) Middleware {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	pool := newLimiterPool(rps)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost && r.URL.Path == "/asr/async" {
				if !pool.allow(clientIP(r)) {
					writeError(w, http.StatusTooManyRequests, "rate limit exceeded, slow down")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP extracts the client IP, preferring X-Forwarded-For when the
// service sits behind a proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
