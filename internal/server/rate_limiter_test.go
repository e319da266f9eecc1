package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestLimiter(cfg RateLimitConfig) (*rateLimiter, func(time.Duration)) {
	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rl := newRateLimiter(cfg)
	rl.now = func() time.Time { return clock }
	rl.refilled = clock
	return rl, func(d time.Duration) { clock = clock.Add(d) }
}

func TestRateLimiter_Burst_Then_Refill(t *testing.T) {
	req := require.New(t)
	rl, advance := newTestLimiter(RateLimitConfig{Burst: 3, RefillInterval: 3 * time.Second})

	// The full burst is available at once
	for range 3 {
		ok, _ := rl.take()
		req.True(ok)
	}
	ok, _ := rl.take()
	req.False(ok)

	// One token per second comes back
	advance(time.Second)
	ok, _ = rl.take()
	req.True(ok)
	ok, _ = rl.take()
	req.False(ok)

	// Refill never exceeds the burst
	advance(time.Hour)
	for range 3 {
		ok, _ = rl.take()
		req.True(ok)
	}
	ok, _ = rl.take()
	req.False(ok)
}

func TestRateLimiter_Counts_Refused_Run(t *testing.T) {
	req := require.New(t)
	rl, advance := newTestLimiter(RateLimitConfig{Burst: 1, RefillInterval: time.Second})

	ok, refused := rl.take()
	req.True(ok)
	req.Zero(refused)

	// Given a flood, each refusal reports the length of the run so far
	for i := 1; i <= 4; i++ {
		ok, refused = rl.take()
		req.False(ok)
		req.Equal(i, refused)
	}

	// When a token comes back, the accepted frame reports the run that ended
	advance(time.Second)
	ok, refused = rl.take()
	req.True(ok)
	req.Equal(4, refused)

	// Then the counter starts over
	advance(time.Second)
	ok, refused = rl.take()
	req.True(ok)
	req.Zero(refused)
}

func TestRateLimiter_Sanitizes_Config(t *testing.T) {
	req := require.New(t)

	rl := newRateLimiter(RateLimitConfig{})

	req.Equal(float64(1), rl.burst)
	req.Equal(time.Second, rl.perToken)
}
