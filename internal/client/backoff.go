package client

import (
	"math/rand"
	"time"
)

const (
	baseReconnectDelay = 2000 * time.Millisecond
	maxReconnectDelay  = 30000 * time.Millisecond
	jitterFraction     = 0.3

	connectTimeout = 5000 * time.Millisecond
)

// ReconnectDelay returns the wait before reconnect attempt n (1-based):
// exponential from 2 s, capped at 30 s, plus up to 30% random jitter so
// a mass disconnect does not stampede the server.
func ReconnectDelay(attempt int, rng *rand.Rand) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := baseReconnectDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxReconnectDelay {
			d = maxReconnectDelay
			break
		}
	}
	jitter := time.Duration(rng.Float64() * jitterFraction * float64(d))
	return d + jitter
}
