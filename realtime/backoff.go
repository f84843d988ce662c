package realtime

import (
	"math/rand/v2"
	"time"
)

const (
	defaultBaseDelay = 1 * time.Second
	defaultMaxDelay  = 30 * time.Second
	jitterPercent    = 20 // ±20% jitter
)

// backoff yields capped exponential reconnect delays. Not safe for
// concurrent use; the channel guards it with its own lock.
type backoff struct {
	base    time.Duration
	max     time.Duration
	attempt int
}

// next returns the delay for the upcoming attempt and advances.
func (b *backoff) next() time.Duration {
	delay := b.base
	for range b.attempt {
		delay *= 2
		if delay >= b.max {
			break
		}
	}
	if delay > b.max {
		delay = b.max
	}
	b.attempt++
	return withJitter(delay)
}

func (b *backoff) reset() {
	b.attempt = 0
}

func withJitter(delay time.Duration) time.Duration {
	span := int64(delay) * jitterPercent * 2 / 100
	if span <= 0 {
		return delay
	}
	return delay + time.Duration(rand.Int64N(span)) - time.Duration(span/2)
}
