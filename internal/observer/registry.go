// Package observer detects on-chain fee payments, either by polling the
// receiving wallet's token balance or by streaming transfer events, and
// hands confirmed payments to the ledger.
package observer

import (
	"strings"
	"sync"
	"time"

	"github.com/swissgrant/platform/internal/chain"
	"github.com/swissgrant/platform/internal/grant"
)

// Watch is one identity waiting for a payment to land.
type Watch struct {
	UserID         string
	FeeType        grant.FeeType
	BeneficiaryIDs []string
	// SenderWallet, when known, narrows transfer matching to this sender.
	SenderWallet string
	// Baseline is the receiving wallet balance when the watch started;
	// detection compares the growth since then.
	Baseline  grant.Amount
	StartedAt time.Time
}

func watchKey(userID string, t grant.FeeType) string {
	return userID + "|" + string(t)
}

// Registry tracks active watches. The API adds a watch when an identity
// opens the payment flow and both watchers consume it.
type Registry struct {
	mu      sync.Mutex
	watches map[string]*Watch
}

func NewRegistry() *Registry {
	return &Registry{watches: make(map[string]*Watch)}
}

// Add registers or replaces the watch for (user, fee type).
func (r *Registry) Add(w *Watch) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if w.StartedAt.IsZero() {
		w.StartedAt = time.Now().UTC()
	}
	w.SenderWallet = strings.ToLower(w.SenderWallet)
	r.watches[watchKey(w.UserID, w.FeeType)] = w
}

// Remove drops the watch for (user, fee type).
func (r *Registry) Remove(userID string, t grant.FeeType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.watches, watchKey(userID, t))
}

// Snapshot returns a copy of the active watches.
func (r *Registry) Snapshot() []*Watch {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Watch, 0, len(r.watches))
	for _, w := range r.watches {
		copied := *w
		out = append(out, &copied)
	}
	return out
}

// Len reports the number of active watches.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.watches)
}

// Rebase raises every watch's baseline to the given balance. Called after a
// settlement so the deposit that settled one watch cannot be counted toward
// any other.
func (r *Registry) Rebase(balance grant.Amount) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, w := range r.watches {
		if balance > w.Baseline {
			w.Baseline = balance
		}
	}
}

// matchWatch picks the watch a transfer settles: a sender-bound watch wins,
// otherwise the oldest watch the value covers. At most one watch matches.
func matchWatch(watches []*Watch, t chain.Transfer, required func(*Watch) grant.Amount) *Watch {
	from := strings.ToLower(t.From)

	var match *Watch
	for _, watch := range watches {
		if t.Value < required(watch) {
			continue
		}
		if watch.SenderWallet != "" {
			if watch.SenderWallet == from {
				return watch
			}
			continue
		}
		if match == nil || watch.StartedAt.Before(match.StartedAt) {
			match = watch
		}
	}
	return match
}
