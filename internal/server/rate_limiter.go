package server

import (
	"sync"
	"time"
)

// rateLimiter is a token bucket guarding one connection's inbound frames. It
// also counts the frames refused since the last accepted one, so a flooding
// client produces one log line per throttled run instead of one per frame.
type rateLimiter struct {
	mu       sync.Mutex
	burst    float64
	perToken time.Duration
	tokens   float64
	refilled time.Time
	refused  int
	now      func() time.Time
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	cfg.Burst = max(cfg.Burst, 1)
	if cfg.RefillInterval <= 0 {
		cfg.RefillInterval = time.Second
	}
	rl := &rateLimiter{
		burst:    float64(cfg.Burst),
		perToken: cfg.RefillInterval / time.Duration(cfg.Burst),
		tokens:   float64(cfg.Burst),
		now:      time.Now,
	}
	rl.refilled = rl.now()
	return rl
}

// take spends a token for one frame. When ok is false, refused counts the
// frames turned away in the current run, this one included. When ok is true,
// refused is the length of the run that just ended, zero if there was none.
func (rl *rateLimiter) take() (ok bool, refused int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if elapsed := now.Sub(rl.refilled); elapsed > 0 && rl.perToken > 0 {
		rl.tokens = min(rl.burst, rl.tokens+float64(elapsed)/float64(rl.perToken))
	}
	rl.refilled = now

	if rl.tokens < 1 {
		rl.refused++
		return false, rl.refused
	}
	rl.tokens--
	refused, rl.refused = rl.refused, 0
	return true, refused
}
