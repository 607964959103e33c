// Package gate decides whether an identity may reach the dashboard. The
// decision is fail-closed: until a verified fee record is confirmed the
// answer is no.
package gate

import (
	"context"
	"net/http"

	apperr "github.com/swissgrant/platform/internal/errors"
	"github.com/swissgrant/platform/internal/grant"
	"github.com/swissgrant/platform/internal/storage"
	"github.com/swissgrant/platform/pkg/logger"
)

// Decision is the gate's answer for one identity.
type Decision string

const (
	// DecisionAllowed means a verified fee record exists.
	DecisionAllowed Decision = "allowed"
	// DecisionDenied means the check completed and found no verified fee.
	DecisionDenied Decision = "denied"
	// DecisionChecking means the check could not complete; treated as
	// denied by callers.
	DecisionChecking Decision = "checking"
)

// Allows reports whether the decision unlocks the dashboard.
func (d Decision) Allows() bool { return d == DecisionAllowed }

// Gate answers gating checks from the fee store. The verified ceo_gas_fee
// record is authoritative; users.has_paid is only a cache of it.
type Gate struct {
	fees     storage.GasFeeStore
	profiles storage.ProfileStore
	log      *logger.Logger
}

func New(fees storage.GasFeeStore, profiles storage.ProfileStore, log *logger.Logger) *Gate {
	if log == nil {
		log = logger.NewDefault("gate")
	}
	return &Gate{fees: fees, profiles: profiles, log: log}
}

// Check resolves the decision for one identity. Backend failures return
// DecisionChecking together with the error so callers can distinguish "not
// paid" from "could not find out", but both lock the dashboard.
func (g *Gate) Check(ctx context.Context, userID string) (Decision, error) {
	if userID == "" {
		return DecisionChecking, apperr.Auth("authentication required")
	}

	rec, err := g.fees.GetGasFee(ctx, userID, grant.FeeCEO, "")
	switch {
	case err == nil:
		if rec.Verified {
			g.repairCache(ctx, userID)
			return DecisionAllowed, nil
		}
		return DecisionDenied, nil
	case apperr.Is(err, apperr.KindNotFound):
		return DecisionDenied, nil
	default:
		g.log.Err(err, "gating check failed for user %s", userID)
		return DecisionChecking, err
	}
}

// repairCache re-aligns the has_paid flag with the authoritative record.
func (g *Gate) repairCache(ctx context.Context, userID string) {
	p, err := g.profiles.GetProfile(ctx, userID)
	if err != nil || p.HasPaid {
		return
	}
	if err := g.profiles.SetHasPaid(ctx, userID, true); err != nil {
		g.log.Err(err, "has_paid repair failed for user %s", userID)
	}
}

// Middleware locks an http route behind the gate. The authenticated user id
// is resolved through userID, matching the auth middleware's context key.
func (g *Gate) Middleware(userID func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision, _ := g.Check(r.Context(), userID(r))
			if !decision.Allows() {
				status := http.StatusForbidden
				if decision == DecisionChecking {
					status = http.StatusServiceUnavailable
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(status)
				w.Write([]byte(`{"error":"payment verification required","decision":"` + string(decision) + `"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
