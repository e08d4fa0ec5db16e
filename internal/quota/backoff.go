package quota

import (
	"fmt"
	"sync"
	"time"
)

const (
	loginBackoffBase = time.Second
	loginBackoffMax  = 60 * time.Second
)

// LoginBackoff enforces exponential backoff after consecutive authentication
// failures: min(1s * 2^attempts, 60s). Repeated failures surface as a
// denial, not a crash.
type LoginBackoff struct {
	mu          sync.Mutex
	failures    int
	nextAllowed time.Time
	now         func() time.Time
}

// NewLoginBackoff creates a LoginBackoff.
func NewLoginBackoff() *LoginBackoff {
	return &LoginBackoff{now: time.Now}
}

// WithClock overrides the backoff's clock. Intended for tests.
func (b *LoginBackoff) WithClock(now func() time.Time) *LoginBackoff {
	b.now = now
	return b
}

// Attempt returns nil if a login attempt is allowed now, or an error stating
// how long to wait.
func (b *LoginBackoff) Attempt() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if now.Before(b.nextAllowed) {
		return fmt.Errorf("login backoff: retry in %.0fs", b.nextAllowed.Sub(now).Seconds())
	}
	return nil
}

// Failure records a failed authentication attempt and pushes out the next
// allowed attempt.
func (b *LoginBackoff) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	delay := loginBackoffBase << uint(b.failures)
	if delay > loginBackoffMax || delay <= 0 {
		delay = loginBackoffMax
	}
	b.nextAllowed = b.now().Add(delay)
}

// Success resets the backoff state.
func (b *LoginBackoff) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.nextAllowed = time.Time{}
}

// Failures returns the current consecutive-failure count.
func (b *LoginBackoff) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
