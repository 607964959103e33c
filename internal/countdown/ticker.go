package countdown

import (
	"context"
	"time"
)

// Ticker streams countdown updates at a fixed cadence. The channel closes
// when the context ends or the countdown expires.
type Ticker struct {
	svc      *Service
	interval time.Duration
}

func NewTicker(svc *Service, interval time.Duration) *Ticker {
	if interval <= 0 {
		interval = time.Second
	}
	return &Ticker{svc: svc, interval: interval}
}

// Run emits the current remaining time immediately and then on every tick.
// A read error on a tick is skipped; the next tick retries.
func (t *Ticker) Run(ctx context.Context) <-chan Remaining {
	out := make(chan Remaining, 1)

	go func() {
		defer close(out)

		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()

		for {
			if r, err := t.svc.Remaining(ctx); err == nil {
				select {
				case out <- *r:
				case <-ctx.Done():
					return
				}
				if r.Expired {
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return out
}
