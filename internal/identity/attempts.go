package identity

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type attemptBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// attemptLimiter throttles failed sign-ins per email address with a token
// bucket. Each failure spends a token; a successful sign-in resets the
// bucket. Only emails that have failed at least once are tracked.
type attemptLimiter struct {
	mu      sync.Mutex
	every   time.Duration
	burst   int
	buckets map[string]*attemptBucket
	now     func() time.Time
}

func newAttemptLimiter(every time.Duration, burst int) *attemptLimiter {
	return &attemptLimiter{
		every:   every,
		burst:   burst,
		buckets: make(map[string]*attemptBucket),
		now:     time.Now,
	}
}

func attemptKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Blocked reports whether email has no attempts left. Unknown emails are
// never blocked and are not recorded.
func (a *attemptLimiter) Blocked(email string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.buckets[attemptKey(email)]
	if !ok {
		return false
	}
	return b.limiter.TokensAt(a.now()) < 1
}

func (a *attemptLimiter) Fail(email string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := attemptKey(email)
	now := a.now()
	b, ok := a.buckets[key]
	if !ok {
		b = &attemptBucket{limiter: rate.NewLimiter(rate.Every(a.every), a.burst)}
		a.buckets[key] = b
	}
	b.lastSeen = now
	b.limiter.AllowN(now, 1)
}

func (a *attemptLimiter) Reset(email string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.buckets, attemptKey(email))
}

// Cleanup forgets emails whose last failure is older than maxIdle.
func (a *attemptLimiter) Cleanup(maxIdle time.Duration) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	cutoff := a.now().Add(-maxIdle)
	removed := 0
	for key, b := range a.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(a.buckets, key)
			removed++
		}
	}
	return removed
}

func (a *attemptLimiter) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buckets)
}
