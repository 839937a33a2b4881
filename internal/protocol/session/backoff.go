package session

import (
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// ReconnectDelay returns how long to wait before reconnect attempt n
// (1-based). The nominal delay grows by Multiplier per attempt and stops at
// MaxDelay. With Jitter set the result is spread over [0.5, 1.5) of the
// nominal delay.
func (b BackoffConfig) ReconnectDelay(attempt int, rng *rand.Rand) time.Duration {
	if b.InitialDelay <= 0 {
		return 0
	}
	growth := math.Max(b.Multiplier, 1.0)
	nominal := float64(b.InitialDelay)
	for n := 1; n < attempt && growth > 1.0; n++ {
		nominal *= growth
		if b.MaxDelay > 0 && nominal >= float64(b.MaxDelay) {
			nominal = float64(b.MaxDelay)
			break
		}
		if nominal >= math.MaxInt64/2 {
			nominal = math.MaxInt64 / 2
			break
		}
	}
	delay := time.Duration(nominal)
	if b.Jitter {
		spread := 0.5
		if rng != nil {
			spread += rng.Float64()
		}
		delay = time.Duration(nominal * spread)
	}
	log.Debug().
		Int("attempt", attempt).
		Dur("delay", delay).
		Bool("jitter", b.Jitter).
		Msg("session.BackoffConfig.ReconnectDelay")
	return delay
}
