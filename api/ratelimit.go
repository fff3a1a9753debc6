package api

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jmcleod/terminguard/gate"
)

// The per-account lockout lives in the lockout package and keys on
// ip+username. This limiter sits in front of it and stops a single address
// from spraying many usernames.
const (
	ipMaxFailures = 20
	ipBaseLockout = 1 * time.Minute
	ipMaxLockout  = 30 * time.Minute

	// ipAttemptExpiry is how long a record survives its last failure.
	ipAttemptExpiry = 1 * time.Hour

	codeRateLimited = "RATE_LIMITED"
)

type ipFailures struct {
	count       int
	last        time.Time
	lockedUntil time.Time
}

func (f *ipFailures) expired(now time.Time) bool {
	return now.Sub(f.last) > ipAttemptExpiry
}

// ipBackoff doubles ipBaseLockout for every failure past ipMaxFailures,
// capped at ipMaxLockout.
func ipBackoff(count int) time.Duration {
	over := count - ipMaxFailures
	if over < 0 {
		return 0
	}
	if over >= 16 {
		return ipMaxLockout
	}
	return min(ipBaseLockout<<over, ipMaxLockout)
}

// ipRateLimiter counts failed logins per source address.
type ipRateLimiter struct {
	mu       sync.Mutex
	attempts map[string]*ipFailures
	now      func() time.Time
}

func newIPRateLimiter(now func() time.Time) *ipRateLimiter {
	if now == nil {
		now = time.Now
	}
	return &ipRateLimiter{attempts: make(map[string]*ipFailures), now: now}
}

// check reports whether ip is currently throttled and for how long.
func (rl *ipRateLimiter) check(ip string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	f := rl.attempts[ip]
	if f == nil {
		return false, 0
	}
	now := rl.now()
	switch {
	case f.expired(now):
		delete(rl.attempts, ip)
		return false, 0
	case now.Before(f.lockedUntil):
		return true, f.lockedUntil.Sub(now)
	default:
		return false, 0
	}
}

func (rl *ipRateLimiter) recordFailure(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	f := rl.attempts[ip]
	if f == nil {
		f = &ipFailures{}
		rl.attempts[ip] = f
	}
	f.count++
	f.last = rl.now()
	if d := ipBackoff(f.count); d > 0 {
		f.lockedUntil = f.last.Add(d)
	}
}

func (rl *ipRateLimiter) recordSuccess(ip string) {
	rl.mu.Lock()
	delete(rl.attempts, ip)
	rl.mu.Unlock()
}

// sweep drops expired records and returns how many were removed.
func (rl *ipRateLimiter) sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	n := 0
	for ip, f := range rl.attempts {
		if f.expired(now) {
			delete(rl.attempts, ip)
			n++
		}
	}
	return n
}

// writeLockedOut sends a 429 for a locked ip+username counter.
func writeLockedOut(w http.ResponseWriter, retryAfter time.Duration) {
	writeTooManyRequests(w, retryAfter, string(gate.ReasonLockedOut),
		"Account temporär gesperrt. Versuchen Sie es in %d Minuten erneut.")
}

// writeRateLimited sends a 429 for a throttled client address.
func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	writeTooManyRequests(w, retryAfter, codeRateLimited,
		"Zu viele Anmeldeversuche. Bitte in %d Minuten erneut versuchen.")
}

func writeTooManyRequests(w http.ResponseWriter, retryAfter time.Duration, code, format string) {
	w.Header().Set("Retry-After", retryAfterString(retryAfter))
	writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
		Message: fmt.Sprintf(format, retryAfterMinutes(retryAfter)),
		Code:    code,
	})
}

func retryAfterString(d time.Duration) string {
	return strconv.Itoa(max(int(d.Seconds()), 1))
}

func retryAfterMinutes(d time.Duration) int {
	return max(int(math.Ceil(d.Minutes())), 1)
}
