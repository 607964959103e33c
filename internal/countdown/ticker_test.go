package countdown

import (
	"context"
	"testing"
	"time"

	"github.com/swissgrant/platform/internal/grant"
	"github.com/swissgrant/platform/internal/storage/memory"
)

func tickerService(t *testing.T, target time.Time, now Clock) *Service {
	t.Helper()
	store := memory.New()
	if err := store.SetDisbursement(context.Background(), &grant.DisbursementSetting{
		DisbursementDate: target,
	}); err != nil {
		t.Fatalf("SetDisbursement: %v", err)
	}
	return NewService(store, now)
}

func TestTickerEmitsImmediately(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	svc := tickerService(t, now.Add(48*time.Hour), func() time.Time { return now })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A long interval proves the first value does not wait for a tick.
	ch := NewTicker(svc, time.Hour).Run(ctx)
	select {
	case r := <-ch:
		if r.Days != 2 || r.Expired {
			t.Fatalf("first emission = %+v, want 2 days", r)
		}
	case <-time.After(time.Second):
		t.Fatal("no emission before the first tick")
	}
}

func TestTickerClosesOnCancel(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	svc := tickerService(t, now.Add(48*time.Hour), func() time.Time { return now })

	ctx, cancel := context.WithCancel(context.Background())
	ch := NewTicker(svc, time.Millisecond).Run(ctx)
	<-ch
	cancel()

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel still open after cancel")
		}
	}
}

func TestTickerClosesOnExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	svc := tickerService(t, now.Add(-time.Minute), func() time.Time { return now })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := NewTicker(svc, time.Millisecond).Run(ctx)

	var last Remaining
	var got bool
	deadline := time.After(time.Second)
	for open := true; open; {
		select {
		case r, ok := <-ch:
			if !ok {
				open = false
				break
			}
			last, got = r, true
		case <-deadline:
			t.Fatal("channel did not close after expiry")
		}
	}
	if !got || !last.Expired || last.Total != 0 {
		t.Fatalf("final emission = %+v, want expired zero", last)
	}
}
