package downloadables

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// backoffDelay returns how long to wait before automatic retry number
// attempt (zero based). An explicit schedule wins; its last entry repeats once
// the schedule runs out.
func (c Config) backoffDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	if n := len(c.RetryBackoff); n > 0 {
		if attempt >= n {
			return c.RetryBackoff[n-1]
		}

		return c.RetryBackoff[attempt]
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     c.BackoffInitial,
		RandomizationFactor: 0,
		Multiplier:          c.BackoffMultiplier,
		MaxInterval:         c.BackoffMax,
	}
	b.Reset()

	delay := b.NextBackOff()
	for i := 0; i < attempt; i++ {
		delay = b.NextBackOff()
	}

	return delay
}
