package room

import (
	"time"
)

// rateLimiter is a per-identity fixed-window counter. It is owned by a
// single actor and mutated only on its event loop, so no locking.
type rateLimiter struct {
	window     time.Duration
	limit      int
	identities map[string]*rateState
}

type rateState struct {
	count       int
	windowStart time.Time
}

func newRateLimiter(window time.Duration, limit int) *rateLimiter {
	return &rateLimiter{
		window:     window,
		limit:      limit,
		identities: make(map[string]*rateState),
	}
}

// allow reports whether the identity may send another message at the
// given instant, counting it when allowed.
func (rl *rateLimiter) allow(identity string, now time.Time) bool {
	state, exists := rl.identities[identity]
	if !exists {
		rl.identities[identity] = &rateState{count: 1, windowStart: now}
		return true
	}

	// Stale window resets the counter.
	if now.Sub(state.windowStart) >= rl.window {
		state.count = 1
		state.windowStart = now
		return true
	}

	if state.count >= rl.limit {
		return false
	}

	state.count++
	return true
}

// cleanup drops identities whose window has long expired.
func (rl *rateLimiter) cleanup(now time.Time) {
	for identity, state := range rl.identities {
		if now.Sub(state.windowStart) > 5*rl.window {
			delete(rl.identities, identity)
		}
	}
}
