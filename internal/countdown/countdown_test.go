package countdown

import (
	"context"
	"testing"
	"time"

	apperr "github.com/swissgrant/platform/internal/errors"
	"github.com/swissgrant/platform/internal/grant"
	"github.com/swissgrant/platform/internal/storage/memory"
)

func TestUntilBreakdown(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	target := now.Add(2*24*time.Hour + 3*time.Hour + 4*time.Minute + 5*time.Second)

	r := Until(now, target)
	if r.Days != 2 || r.Hours != 3 || r.Minutes != 4 || r.Seconds != 5 {
		t.Fatalf("remaining = %+v, want 2d 3h 4m 5s", r)
	}
	if r.Expired {
		t.Fatal("future target reported expired")
	}
}

func TestUntilCountsDownToZero(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	target := start.Add(90 * time.Second)

	// Tick through the last 90 seconds: monotonically decreasing, then
	// clamped at zero.
	prev := int64(91)
	for i := 0; i <= 95; i++ {
		r := Until(start.Add(time.Duration(i)*time.Second), target)
		if r.Total > prev {
			t.Fatalf("t+%ds: total %d increased from %d", i, r.Total, prev)
		}
		if r.Total < 0 {
			t.Fatalf("t+%ds: total went negative", i)
		}
		if i >= 90 && (r.Total != 0 || !r.Expired) {
			t.Fatalf("t+%ds: remaining = %+v, want expired zero", i, r)
		}
		prev = r.Total
	}
}

func TestUntilPastTargetClamps(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := Until(now, now.Add(-time.Hour))
	if !r.Expired || r.Total != 0 || r.Days != 0 {
		t.Fatalf("remaining = %+v, want clamped zero", r)
	}
}

func TestServiceRemaining(t *testing.T) {
	store := memory.New()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := store.SetDisbursement(context.Background(), &grant.DisbursementSetting{
		DisbursementDate: now.Add(48 * time.Hour),
	}); err != nil {
		t.Fatalf("SetDisbursement: %v", err)
	}

	svc := NewService(store, func() time.Time { return now })
	r, err := svc.Remaining(context.Background())
	if err != nil {
		t.Fatalf("Remaining: %v", err)
	}
	if r.Days != 2 || r.Total != 2*86400 {
		t.Fatalf("remaining = %+v, want 2 days", r)
	}
}

func TestServiceRemainingUnconfigured(t *testing.T) {
	svc := NewService(memory.New(), nil)
	_, err := svc.Remaining(context.Background())
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}
