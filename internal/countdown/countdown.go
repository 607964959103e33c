// Package countdown computes the time remaining until disbursement for
// dashboard display.
package countdown

import (
	"context"
	"time"

	apperr "github.com/swissgrant/platform/internal/errors"
	"github.com/swissgrant/platform/internal/storage"
)

// Remaining is a broken-down non-negative duration.
type Remaining struct {
	Days    int   `json:"days"`
	Hours   int   `json:"hours"`
	Minutes int   `json:"minutes"`
	Seconds int   `json:"seconds"`
	Total   int64 `json:"total_seconds"`
	Expired bool  `json:"expired"`
}

// Until computes the remaining time from now to target, clamped at zero. A
// past target yields all zeros with Expired set; it never goes negative.
func Until(now, target time.Time) Remaining {
	d := target.Sub(now)
	if d <= 0 {
		return Remaining{Expired: true}
	}

	total := int64(d.Seconds())
	return Remaining{
		Days:    int(total / 86400),
		Hours:   int(total % 86400 / 3600),
		Minutes: int(total % 3600 / 60),
		Seconds: int(total % 60),
		Total:   total,
	}
}

// Clock abstracts time for tests.
type Clock func() time.Time

// Service answers countdown queries from the settings store.
type Service struct {
	settings storage.SettingsStore
	now      Clock
}

func NewService(settings storage.SettingsStore, now Clock) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{settings: settings, now: now}
}

// Remaining reads the configured disbursement date and computes the
// countdown. A missing date is a not-found error, not a zero countdown.
func (s *Service) Remaining(ctx context.Context) (*Remaining, error) {
	setting, err := s.settings.GetDisbursement(ctx)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, err
		}
		return nil, apperr.Backend("read disbursement date", err)
	}
	r := Until(s.now().UTC(), setting.DisbursementDate)
	return &r, nil
}
