package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type RateLimitConfig struct {
	IPPerMinute     int
	IPBurst         int
	DoctorPerMinute int
	DoctorBurst     int
}

// RateLimiter throttles per client IP and per doctor queue, so one busy
// front desk cannot starve the other doctors' dashboards.
type RateLimiter struct {
	ipLimiter     *tokenLimiter
	doctorLimiter *tokenLimiter
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		ipLimiter:     newTokenLimiter(cfg.IPPerMinute, cfg.IPBurst),
		doctorLimiter: newTokenLimiter(cfg.DoctorPerMinute, cfg.DoctorBurst),
	}
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if ip != "" && !l.ipLimiter.allow(ip) {
			writeError(w, "", http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}

		key := extractRateKey(r)
		if key.DoctorID != "" && !l.doctorLimiter.allow(key.DoctorID) {
			writeError(w, key.RequestID, http.StatusTooManyRequests, "rate_limited", "too many requests for this doctor")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// tokenLimiter keeps one bucket per key. Buckets that have refilled to
// burst carry no state worth keeping and are swept at most once per
// sweepEvery, so keys from past clinic days do not accumulate.
type tokenLimiter struct {
	mu        sync.Mutex
	rate      float64
	burst     float64
	bucket    map[string]*bucket
	now       func() time.Time
	lastSweep time.Time
}

const sweepEvery = time.Minute

type bucket struct {
	tokens float64
	last   time.Time
}

func newTokenLimiter(perMinute, burst int) *tokenLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	if burst <= 0 {
		burst = 20
	}
	return &tokenLimiter{
		rate:   float64(perMinute) / 60.0,
		burst:  float64(burst),
		bucket: make(map[string]*bucket),
		now:    time.Now,
	}
}

func (l *tokenLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)
	b, ok := l.bucket[key]
	if !ok {
		l.bucket[key] = &bucket{tokens: l.burst - 1, last: now}
		return true
	}
	elapsed := now.Sub(b.last).Seconds()
	b.tokens = min(l.burst, b.tokens+elapsed*l.rate)
	b.last = now
	if b.tokens < 1 {
		return false
	}
	b.tokens -= 1
	return true
}

func (l *tokenLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < sweepEvery {
		return
	}
	l.lastSweep = now
	full := time.Duration(l.burst / l.rate * float64(time.Second))
	for key, b := range l.bucket {
		if now.Sub(b.last) >= full {
			delete(l.bucket, key)
		}
	}
}

func (l *tokenLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.bucket)
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// rateKey is what the limiter reads from a request before the handler does:
// action bodies and the snapshot query both name doctor_id, and request_id is
// echoed in the 429 envelope the same way handler errors echo it.
type rateKey struct {
	DoctorID  string `json:"doctor_id"`
	RequestID string `json:"request_id"`
}

func extractRateKey(r *http.Request) rateKey {
	var key rateKey
	switch r.Method {
	case http.MethodGet:
		key.DoctorID = r.URL.Query().Get("doctor_id")
	case http.MethodPost:
		if r.Body != nil && strings.HasPrefix(r.URL.Path, "/api/") {
			if body, err := readBody(r); err == nil {
				_ = json.Unmarshal(body, &key)
			}
		}
	}
	key.DoctorID = strings.TrimSpace(key.DoctorID)
	key.RequestID = strings.TrimSpace(key.RequestID)
	// Requests the handler will reject anyway do not get a bucket.
	if _, err := uuid.Parse(key.DoctorID); err != nil {
		key.DoctorID = ""
	}
	if key.RequestID == "" {
		key.RequestID = strings.TrimSpace(r.Header.Get("X-Request-ID"))
	}
	return key
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}
