package queue

import (
	"math/rand/v2"
	"time"
)

// backoffDelay returns the delay before retry attempt n (1-based):
// exponential in n, capped at max, with the upper half of the interval
// randomized so failing attachments do not retry in lockstep.
func backoffDelay(n int, base, max time.Duration, randInt64 func(int64) int64) time.Duration {
	if n < 1 {
		n = 1
	}

	d := base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= max {
			d = max
			break
		}
	}

	half := d / 2
	return half + time.Duration(randInt64(int64(half)+1))
}

func defaultRandInt64(n int64) int64 {
	return rand.Int64N(n)
}
