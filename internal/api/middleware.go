package api

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/punchamoorthee/paysettle/internal/domain"
	"golang.org/x/time/rate"
)

// Headers set by the authenticating gateway. The core trusts them.
const (
	HeaderAccountID = "X-Account-Id"
	HeaderEmail     = "X-Account-Email"
	HeaderUsername  = "X-Account-Username"
)

type principalKey struct{}

func principalFrom(ctx context.Context) domain.Principal {
	p, _ := ctx.Value(principalKey{}).(domain.Principal)
	return p
}

// Authenticated rejects requests that arrive without a caller identity and
// stores the principal in the request context.
func (h *Handler) Authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := domain.Principal{
			AccountID: strings.TrimSpace(r.Header.Get(HeaderAccountID)),
			Email:     domain.NormalizeEmail(r.Header.Get(HeaderEmail)),
			Username:  strings.TrimSpace(r.Header.Get(HeaderUsername)),
		}
		if p.AccountID == "" || p.Email == "" {
			h.respondError(w, http.StatusUnauthorized, "missing caller identity", r.Method, routeOf(r))
			return
		}
		p.Username = domain.DefaultUsername(p.Username, p.Email)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
	})
}

// RateLimiter keeps one token bucket per account. Buckets that have refilled
// are dropped by Sweep, so the map only holds recently active accounts.
type RateLimiter struct {
	rps   rate.Limit
	burst int
	now   func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		now:      time.Now,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *RateLimiter) Allow(accountID string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[accountID]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[accountID] = lim
	}
	l.mu.Unlock()
	return lim.AllowN(l.now(), 1)
}

// Sweep forgets every bucket that is full again and reports how many it
// removed. A full bucket behaves exactly like a fresh one.
func (l *RateLimiter) Sweep() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for accountID, lim := range l.limiters {
		if lim.TokensAt(now) >= float64(l.burst) {
			delete(l.limiters, accountID)
			removed++
		}
	}
	return removed
}

// Size is the number of buckets currently held.
func (l *RateLimiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// StartCleanup sweeps every interval until ctx is done.
func (l *RateLimiter) StartCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Sweep()
			}
		}
	}()
}

// Limited throttles settlement calls per caller. It must run after Authenticated.
func (h *Handler) Limited(l *RateLimiter, next http.Handler) http.Handler {
	if l == nil || l.rps <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(principalFrom(r.Context()).AccountID) {
			h.respondError(w, http.StatusTooManyRequests, "rate limit exceeded", r.Method, routeOf(r))
			return
		}
		next.ServeHTTP(w, r)
	})
}
