package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/httprate"
	"golang.org/x/time/rate"

	"github.com/kpmidhlaj/watchmate/pkg/httputil"
)

// RateLimitByIP caps every client IP at requests per window using a sliding
// window counter. Rejected requests get a JSON 429.
func RateLimitByIP(requests int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		requests,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(tooManyRequests),
	)
}

func tooManyRequests(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusTooManyRequests, httputil.Response{
		Error: &httputil.ErrorResponse{Code: "RATE_LIMITED", Message: "too many requests"},
	})
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// visitorStore holds one token bucket per key and forgets keys idle for
// longer than ttl.
type visitorStore struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	ttl      time.Duration
	now      func() time.Time
}

func newVisitorStore(rps float64, burst int, ttl time.Duration) *visitorStore {
	return &visitorStore{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(rps),
		burst:    burst,
		ttl:      ttl,
		now:      time.Now,
	}
}

func (s *visitorStore) limiter(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if v, ok := s.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	l := rate.NewLimiter(s.limit, s.burst)
	s.visitors[key] = &visitor{limiter: l, lastSeen: now}
	return l
}

func (s *visitorStore) evictStale() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, v := range s.visitors {
		if now.Sub(v.lastSeen) > s.ttl {
			delete(s.visitors, key)
		}
	}
}

func (s *visitorStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.visitors)
}

// UserThrottle is a token bucket per authenticated user, falling back to the
// client IP for anonymous requests. It must run after Auth. Idle buckets are
// dropped on the request path once per ttl, so no background goroutine is
// started.
func UserThrottle(rps float64, burst int) func(http.Handler) http.Handler {
	const ttl = 10 * time.Minute
	store := newVisitorStore(rps, burst, ttl)

	var (
		sweepMu   sync.Mutex
		lastSweep = store.now()
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sweepMu.Lock()
			if store.now().Sub(lastSweep) > ttl {
				lastSweep = store.now()
				sweepMu.Unlock()
				store.evictStale()
			} else {
				sweepMu.Unlock()
			}

			key := UserIDFromContext(r.Context())
			if key == "" {
				key = "ip:" + remoteHost(r)
			}

			if !store.limiter(key).Allow() {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(rps)))
				tooManyRequests(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func retryAfterSeconds(rps float64) int {
	if rps <= 0 || rps >= 1 {
		return 1
	}
	return int(1/rps + 0.5)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
