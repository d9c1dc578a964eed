package retry

import (
	"math"
	"time"
)

// Backoff calculates the delay before a retry. Attempt is zero-indexed.
type Backoff interface {
	Delay(attempt uint) time.Duration
}

// ExpBackoff grows the delay as Base * Factor^attempt, clamped to [Base, Max].
type ExpBackoff struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
}

func (b ExpBackoff) Delay(attempt uint) time.Duration {
	d := time.Duration(float64(b.Base) * math.Pow(b.Factor, float64(attempt)))

	switch {
	case d < b.Base:
		return b.Base
	case b.Max > 0 && d > b.Max:
		return b.Max
	default:
		return d
	}
}

// ConstantBackoff always waits the same delay.
type ConstantBackoff time.Duration

func (b ConstantBackoff) Delay(uint) time.Duration {
	return time.Duration(b)
}
