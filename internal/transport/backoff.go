package transport

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/danmuck/someipd/internal/endpoint"
	"github.com/danmuck/someipd/internal/reactor"
	"github.com/rs/zerolog/log"
)

// Backoff spaces out reconnect attempts.
type Backoff struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

func DefaultBackoff() Backoff {
	return Backoff{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       true,
	}
}

// Delay is the wait before attempt n (1-based). Jitter scales the delay into
// [0.5, 1.5) of its nominal value.
func (b Backoff) Delay(n int, rng *rand.Rand) time.Duration {
	if b.InitialDelay <= 0 {
		return 0
	}
	mult := b.Multiplier
	if mult < 1.0 {
		mult = 1.0
	}
	delay := float64(b.InitialDelay)
	if n > 1 {
		delay *= math.Pow(mult, float64(n-1))
	}
	if b.MaxDelay > 0 && delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}
	if b.Jitter && rng != nil {
		delay *= 0.5 + rng.Float64()
	}
	return time.Duration(delay)
}

// DialRetry dials until it succeeds, ctx ends, or attempts are used up.
func DialRetry(ctx context.Context, proto endpoint.Protocol, addr string, exec *reactor.Context, bufSize, attempts int, b Backoff) (*Conn, error) {
	if attempts < 1 {
		attempts = 1
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var lastErr error
	for n := 1; n <= attempts; n++ {
		conn, err := Dial(ctx, proto, addr, exec, bufSize)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if n == attempts {
			break
		}
		wait := b.Delay(n, rng)
		log.Debug().Err(err).Int("attempt", n).Dur("retry_in", wait).Str("addr", addr).Msg("dial failed")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, lastErr
}
