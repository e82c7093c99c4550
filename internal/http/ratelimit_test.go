package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"transcriptget/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIPLimiterBurst(t *testing.T) {
	l := newIPLimiter(30, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, l.allow("1.2.3.4"), "request %d within burst", i)
	}
	assert.False(t, l.allow("1.2.3.4"), "burst exhausted")

	// Other IPs keep their own bucket.
	assert.True(t, l.allow("5.6.7.8"))
}

func TestIPLimiterPrunesStaleClients(t *testing.T) {
	l := newIPLimiter(30, 1)

	l.allow("1.2.3.4")
	l.clients["1.2.3.4"].lastSeen = time.Now().Add(-4 * time.Hour)
	for i := 0; i <= pruneThreshold; i++ {
		l.clients[string(rune(i))+"stale"] = &ipClient{
			limiter:  l.clients["1.2.3.4"].limiter,
			lastSeen: time.Now().Add(-4 * time.Hour),
		}
	}

	l.allow("9.9.9.9")
	assert.NotContains(t, l.clients, "1.2.3.4")
	assert.Contains(t, l.clients, "9.9.9.9")
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:51234"
	assert.Equal(t, "10.0.0.1", clientIP(req))

	req.RemoteAddr = "10.0.0.2"
	assert.Equal(t, "10.0.0.2", clientIP(req))
}

func TestRateLimitMiddleware(t *testing.T) {
	s := newTestServer(config.Config{RateLimitPerHour: 30, RateLimitBurst: 2})
	handler := s.rateLimitMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/translate", nil)
	req.RemoteAddr = "1.2.3.4:1000"

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, CodeRateLimited, decodeError(t, rec).Code)
}
