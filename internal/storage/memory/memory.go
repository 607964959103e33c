// Package memory is the in-process store used by tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperr "github.com/swissgrant/platform/internal/errors"
	"github.com/swissgrant/platform/internal/grant"
	"github.com/swissgrant/platform/internal/storage"
)

// Store keeps everything in maps behind one mutex.
type Store struct {
	mu sync.RWMutex

	profiles      map[string]grant.Profile
	gasFees       map[string]grant.GasFeeRecord // keyed by user|type|beneficiary
	beneficiaries map[string]grant.Beneficiary
	transactions  []grant.Transaction
	submissions   map[string]grant.Submission // keyed by user|type|beneficiary|hash
	setting       *grant.DisbursementSetting
	notifications []grant.Notification
	credentials   map[string]grant.Credential
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		profiles:      make(map[string]grant.Profile),
		gasFees:       make(map[string]grant.GasFeeRecord),
		beneficiaries: make(map[string]grant.Beneficiary),
		submissions:   make(map[string]grant.Submission),
		credentials:   make(map[string]grant.Credential),
	}
}

func feeKey(userID string, t grant.FeeType, beneficiaryID string) string {
	return userID + "|" + string(t) + "|" + beneficiaryID
}

func submissionKey(s *grant.Submission) string {
	return s.UserID + "|" + string(s.FeeType) + "|" + s.BeneficiaryID + "|" + s.TxHash
}

// =============================================================================
// Profiles
// =============================================================================

func (s *Store) GetProfile(ctx context.Context, userID string) (*grant.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[userID]
	if !ok {
		return nil, apperr.NotFound("profile %s not found", userID)
	}
	return &p, nil
}

func (s *Store) UpsertProfile(ctx context.Context, p *grant.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.UserID == "" {
		return apperr.Validation("profile user id is required")
	}
	if existing, ok := s.profiles[p.UserID]; ok {
		p.CreatedAt = existing.CreatedAt
	} else if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	s.profiles[p.UserID] = *p
	return nil
}

func (s *Store) SetHasPaid(ctx context.Context, userID string, paid bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[userID]
	if !ok {
		return apperr.NotFound("profile %s not found", userID)
	}
	p.HasPaid = paid
	s.profiles[userID] = p
	return nil
}

// =============================================================================
// Gas fees
// =============================================================================

func (s *Store) GetGasFee(ctx context.Context, userID string, t grant.FeeType, beneficiaryID string) (*grant.GasFeeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.gasFees[feeKey(userID, t, beneficiaryID)]
	if !ok {
		return nil, apperr.NotFound("gas fee record not found")
	}
	return &rec, nil
}

func (s *Store) ListGasFees(ctx context.Context, userID string) ([]grant.GasFeeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []grant.GasFeeRecord
	for _, rec := range s.gasFees {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpsertGasFee(ctx context.Context, rec *grant.GasFeeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.UserID == "" || !rec.Type.Valid() {
		return apperr.Validation("gas fee record needs a user and a valid type")
	}

	key := feeKey(rec.UserID, rec.Type, rec.BeneficiaryID)
	now := time.Now().UTC()
	if existing, ok := s.gasFees[key]; ok {
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
		// Flags only move forward.
		rec.Deposited = rec.Deposited || existing.Deposited
		rec.Verified = rec.Verified || existing.Verified
	} else {
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		rec.CreatedAt = now
	}
	if rec.Verified {
		rec.Deposited = true
	}
	rec.UpdatedAt = now
	s.gasFees[key] = *rec
	return nil
}

// =============================================================================
// Beneficiaries
// =============================================================================

func (s *Store) GetBeneficiary(ctx context.Context, id string) (*grant.Beneficiary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.beneficiaries[id]
	if !ok {
		return nil, apperr.NotFound("beneficiary %s not found", id)
	}
	return &b, nil
}

func (s *Store) ListBeneficiaries(ctx context.Context, userID string) ([]grant.Beneficiary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []grant.Beneficiary
	for _, b := range s.beneficiaries {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CreateBeneficiaries(ctx context.Context, batch []grant.Beneficiary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for i := range batch {
		if batch[i].ID == "" {
			batch[i].ID = uuid.NewString()
		}
		batch[i].CreatedAt = now
		s.beneficiaries[batch[i].ID] = batch[i]
	}
	return nil
}

func (s *Store) MarkBeneficiariesVerified(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		b, ok := s.beneficiaries[id]
		if !ok {
			return apperr.NotFound("beneficiary %s not found", id)
		}
		b.PaymentVerified = true
		s.beneficiaries[id] = b
	}
	return nil
}

// =============================================================================
// Transactions
// =============================================================================

func (s *Store) CreateTransaction(ctx context.Context, tx *grant.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	s.transactions = append(s.transactions, *tx)
	return nil
}

func (s *Store) ListTransactions(ctx context.Context, userID string) ([]grant.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []grant.Transaction
	for _, tx := range s.transactions {
		if tx.UserID == userID {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// =============================================================================
// Submissions
// =============================================================================

func (s *Store) CreateSubmission(ctx context.Context, sub *grant.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := submissionKey(sub)
	if _, ok := s.submissions[key]; ok {
		return fmt.Errorf("submission for hash %s: %w", sub.TxHash, storage.ErrDuplicate)
	}
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	s.submissions[key] = *sub
	return nil
}

func (s *Store) DeleteSubmission(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, sub := range s.submissions {
		if sub.ID == id {
			delete(s.submissions, key)
			return nil
		}
	}
	return apperr.NotFound("submission %s not found", id)
}

func (s *Store) ListSubmissions(ctx context.Context, userID string) ([]grant.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []grant.Submission
	for _, sub := range s.submissions {
		if sub.UserID == userID {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// =============================================================================
// Settings
// =============================================================================

func (s *Store) GetDisbursement(ctx context.Context) (*grant.DisbursementSetting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.setting == nil {
		return nil, apperr.NotFound("disbursement date not configured")
	}
	out := *s.setting
	return &out, nil
}

func (s *Store) SetDisbursement(ctx context.Context, setting *grant.DisbursementSetting) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if setting.ID == "" {
		setting.ID = uuid.NewString()
	}
	setting.UpdatedAt = time.Now().UTC()
	copied := *setting
	s.setting = &copied
	return nil
}

// =============================================================================
// Notifications
// =============================================================================

func (s *Store) CreateNotification(ctx context.Context, n *grant.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	s.notifications = append(s.notifications, *n)
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, userID string, limit int) ([]grant.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []grant.Notification
	for _, n := range s.notifications {
		// Empty user id means broadcast.
		if n.UserID == "" || n.UserID == userID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// =============================================================================
// Stats
// =============================================================================

func (s *Store) CountProfiles(ctx context.Context, role string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, p := range s.profiles {
		if role == "" || p.Role == role {
			n++
		}
	}
	return n, nil
}

func (s *Store) CountBeneficiaries(ctx context.Context, verifiedOnly bool) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, b := range s.beneficiaries {
		if !verifiedOnly || b.PaymentVerified {
			n++
		}
	}
	return n, nil
}

// =============================================================================
// Credentials
// =============================================================================

func (s *Store) GetCredential(ctx context.Context, userID string) (*grant.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.credentials[userID]
	if !ok {
		return nil, apperr.NotFound("credentials for %s not found", userID)
	}
	return &c, nil
}

func (s *Store) UpsertCredential(ctx context.Context, c *grant.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.UserID == "" {
		return apperr.Validation("credential user id is required")
	}
	c.UpdatedAt = time.Now().UTC()
	s.credentials[c.UserID] = *c
	return nil
}
