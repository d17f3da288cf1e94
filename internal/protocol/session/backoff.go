package session

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/danmuck/homelink/internal/protocol"
)

// Delay returns the pause before reconnect attempt n (1-based). The result
// never exceeds MaxDelay; with Jitter it falls in [d/2, d].
func (b BackoffConfig) Delay(n int, rng *rand.Rand) time.Duration {
	if b.InitialDelay <= 0 {
		return 0
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(b.InitialDelay)
	for i := 1; i < n; i++ {
		d *= mult
		if b.MaxDelay > 0 && d >= float64(b.MaxDelay) {
			break
		}
	}
	if b.MaxDelay > 0 && d > float64(b.MaxDelay) {
		d = float64(b.MaxDelay)
	}
	if b.Jitter && rng != nil {
		d = d/2 + rng.Float64()*d/2
	}
	return time.Duration(d)
}

// Wait blocks for Delay(n) or until ctx ends. A cancelled wait is reported as
// a transport error so connect loops can return it unchanged.
func (b BackoffConfig) Wait(ctx context.Context, n int, rng *rand.Rand) error {
	t := time.NewTimer(b.Delay(n, rng))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: reconnect wait: %w", protocol.ErrTransport, ctx.Err())
	case <-t.C:
		return nil
	}
}
