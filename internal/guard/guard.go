// ABOUTME: In-memory abuse guards: per-IP request rate limiting and PIN attempt lockout
// ABOUTME: Process-local fixed windows with lazy reset; safe under concurrent access

package guard

import (
	"sync"
	"time"
)

// Default limiter parameters.
const (
	DefaultWindow      = 60 * time.Second
	DefaultMaxRequests = 100 // per (IP, action) window
	DefaultMaxAttempts = 5   // PIN tries per (IP, token) window
	DefaultLockout     = 15 * time.Minute
)

// PinPrefixLen is how much of the token participates in the PIN limiter key.
// Scoping by token stops one shared token from draining an IP's whole budget;
// scoping by IP stops a stolen token from being brute-forced across many IPs.
const PinPrefixLen = 16

// Decision is the outcome of a PIN limiter check. LockedUntil is zero unless
// a lockout is active, in which case callers should surface it so UIs can
// communicate the wait.
type Decision struct {
	Allowed     bool
	LockedUntil time.Time
}

// PinChecker is the limiter interface the protocol handler depends on,
// so a shared backend can replace the in-memory one without touching call sites.
type PinChecker interface {
	Allow(ip, token string) Decision
}

// RequestChecker gates request volume per (IP, action).
type RequestChecker interface {
	Allow(ip, action string) bool
}

type windowEntry struct {
	count       int
	start       time.Time
	lockedUntil time.Time
}

// RequestLimiter caps requests per (IP, action) key in a fixed window.
// Entries reset lazily on the first request after the window elapses;
// there is no background sweep.
type RequestLimiter struct {
	mu      sync.Mutex
	entries map[string]*windowEntry
	window  time.Duration
	max     int
	now     func() time.Time
}

// NewRequestLimiter creates a request limiter. Zero values select the defaults.
func NewRequestLimiter(window time.Duration, max int) *RequestLimiter {
	if window <= 0 {
		window = DefaultWindow
	}
	if max <= 0 {
		max = DefaultMaxRequests
	}
	return &RequestLimiter{
		entries: make(map[string]*windowEntry),
		window:  window,
		max:     max,
		now:     time.Now,
	}
}

// Allow records one request under (ip, action) and reports whether it is
// within the window's budget.
func (l *RequestLimiter) Allow(ip, action string) bool {
	key := ip + ":" + action
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[key]
	if !ok || now.Sub(entry.start) > l.window {
		l.entries[key] = &windowEntry{count: 1, start: now}
		return true
	}
	if entry.count >= l.max {
		return false
	}
	entry.count++
	return true
}

// PinLimiter caps PIN attempts per (IP, token prefix) key and escalates to a
// time-boxed lockout when the cap is exceeded. An active lockout denies every
// attempt under the key regardless of PIN correctness.
type PinLimiter struct {
	mu      sync.Mutex
	entries map[string]*windowEntry
	window  time.Duration
	max     int
	lockout time.Duration
	now     func() time.Time
}

// NewPinLimiter creates a PIN attempt limiter. Zero values select the defaults.
func NewPinLimiter(window time.Duration, max int, lockout time.Duration) *PinLimiter {
	if window <= 0 {
		window = DefaultWindow
	}
	if max <= 0 {
		max = DefaultMaxAttempts
	}
	if lockout <= 0 {
		lockout = DefaultLockout
	}
	return &PinLimiter{
		entries: make(map[string]*windowEntry),
		window:  window,
		max:     max,
		lockout: lockout,
		now:     time.Now,
	}
}

func pinKey(ip, token string) string {
	if len(token) > PinPrefixLen {
		token = token[:PinPrefixLen]
	}
	return ip + ":" + token
}

// Allow records one PIN attempt under (ip, token) and reports whether it may
// proceed to PIN verification. Once set, the lockout is authoritative over the
// rolling window until it expires.
func (l *PinLimiter) Allow(ip, token string) Decision {
	key := pinKey(ip, token)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[key]
	if ok && !entry.lockedUntil.IsZero() && now.Before(entry.lockedUntil) {
		return Decision{Allowed: false, LockedUntil: entry.lockedUntil}
	}

	if !ok || now.Sub(entry.start) > l.window {
		l.entries[key] = &windowEntry{count: 1, start: now}
		return Decision{Allowed: true}
	}

	if entry.count >= l.max {
		entry.lockedUntil = now.Add(l.lockout)
		return Decision{Allowed: false, LockedUntil: entry.lockedUntil}
	}

	entry.count++
	return Decision{Allowed: true}
}

// Attempts reports the recorded attempt count under (ip, token).
// Used to verify that rejected-before-limiter paths leave no trace.
func (l *PinLimiter) Attempts(ip, token string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry, ok := l.entries[pinKey(ip, token)]; ok {
		return entry.count
	}
	return 0
}
