package httpapi

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var errTooManyRequests = errors.New("too many requests, please try again later")

// ipLimiter throttles requests per client IP. Entries are pruned lazily
// once the map grows past pruneThreshold.
type ipLimiter struct {
	mu      sync.Mutex
	clients map[string]*ipClient
	rate    rate.Limit
	burst   int
}

type ipClient struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const (
	pruneThreshold = 1000
	clientTTL      = 3 * time.Hour
)

func newIPLimiter(perHour, burst int) *ipLimiter {
	if perHour <= 0 {
		perHour = 30
	}
	if burst <= 0 {
		burst = 1
	}
	return &ipLimiter{
		clients: make(map[string]*ipClient),
		rate:    rate.Limit(float64(perHour) / 3600.0),
		burst:   burst,
	}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.clients) > pruneThreshold {
		cutoff := time.Now().Add(-clientTTL)
		for key, c := range l.clients {
			if c.lastSeen.Before(cutoff) {
				delete(l.clients, key)
			}
		}
	}

	c, ok := l.clients[ip]
	if !ok {
		c = &ipClient{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.clients[ip] = c
	}
	c.lastSeen = time.Now()
	return c.limiter.Allow()
}

// clientIP extracts the remote IP. middleware.RealIP has already rewritten
// RemoteAddr from X-Forwarded-For when behind a proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(clientIP(r)) {
			respondCode(w, http.StatusTooManyRequests, CodeRateLimited, errTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
