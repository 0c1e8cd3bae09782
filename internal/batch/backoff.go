package batch

import "time"

// linearBackOff waits base, 2*base, 3*base... capped at max between
// attempts. It satisfies backoff.BackOff.
type linearBackOff struct {
	base    time.Duration
	max     time.Duration
	attempt int
}

func newLinearBackOff(base, max time.Duration) *linearBackOff {
	return &linearBackOff{base: base, max: max}
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	wait := time.Duration(b.attempt) * b.base
	if b.max > 0 && wait > b.max {
		wait = b.max
	}
	return wait
}

func (b *linearBackOff) Reset() { b.attempt = 0 }
