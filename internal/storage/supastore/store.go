// Package supastore implements the storage interfaces over the hosted
// PostgREST backend.
package supastore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	apperr "github.com/swissgrant/platform/internal/errors"
	"github.com/swissgrant/platform/internal/grant"
	"github.com/swissgrant/platform/internal/storage"
	"github.com/swissgrant/platform/internal/supabase"
)

const (
	tableProfiles      = "users"
	tableGasFees       = "gas_fees"
	tableBeneficiaries = "beneficiaries"
	tableTransactions  = "transactions"
	tableSubmissions   = "payment_submissions"
	tableSettings      = "settings"
	tableNotifications = "notifications"
	tableCredentials   = "credentials"
)

// Store issues PostgREST queries under the service key.
type Store struct {
	client *supabase.Client
}

var _ storage.Store = (*Store)(nil)

func New(client *supabase.Client) *Store {
	return &Store{client: client}
}

// wrap maps client errors into the application taxonomy.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if supabase.IsNotFound(err) {
		return apperr.NotFound("%s: not found", op)
	}
	if supabase.IsConflict(err) {
		return fmt.Errorf("%s: %w", op, storage.ErrDuplicate)
	}
	return apperr.Backend(op, err)
}

// =============================================================================
// Profiles
// =============================================================================

func (s *Store) GetProfile(ctx context.Context, userID string) (*grant.Profile, error) {
	var p grant.Profile
	err := s.client.From(tableProfiles).
		Select("*").
		Eq("user_id", userID).
		Single().
		Get(ctx, &p)
	if err != nil {
		return nil, wrap("get profile", err)
	}
	return &p, nil
}

func (s *Store) UpsertProfile(ctx context.Context, p *grant.Profile) error {
	if p.UserID == "" {
		return apperr.Validation("profile user id is required")
	}
	err := s.client.From(tableProfiles).
		OnConflict("user_id").
		Upsert(ctx, p, nil)
	return wrap("upsert profile", err)
}

func (s *Store) SetHasPaid(ctx context.Context, userID string, paid bool) error {
	err := s.client.From(tableProfiles).
		Eq("user_id", userID).
		Update(ctx, map[string]any{"has_paid": paid}, nil)
	return wrap("set has_paid", err)
}

// =============================================================================
// Gas fees
// =============================================================================

func (s *Store) GetGasFee(ctx context.Context, userID string, t grant.FeeType, beneficiaryID string) (*grant.GasFeeRecord, error) {
	q := s.client.From(tableGasFees).
		Select("*").
		Eq("user_id", userID).
		Eq("type", string(t))
	if beneficiaryID == "" {
		q = q.Is("beneficiary_id", "null")
	} else {
		q = q.Eq("beneficiary_id", beneficiaryID)
	}

	var rec grant.GasFeeRecord
	if err := q.Single().Get(ctx, &rec); err != nil {
		return nil, wrap("get gas fee", err)
	}
	return &rec, nil
}

func (s *Store) ListGasFees(ctx context.Context, userID string) ([]grant.GasFeeRecord, error) {
	var out []grant.GasFeeRecord
	err := s.client.From(tableGasFees).
		Select("*").
		Eq("user_id", userID).
		Order("created_at", supabase.OrderAsc).
		Get(ctx, &out)
	if err != nil {
		return nil, wrap("list gas fees", err)
	}
	return out, nil
}

func (s *Store) UpsertGasFee(ctx context.Context, rec *grant.GasFeeRecord) error {
	if rec.UserID == "" || !rec.Type.Valid() {
		return apperr.Validation("gas fee record needs a user and a valid type")
	}

	// Fetch-then-write keeps the forward-only flag semantics; the unique
	// index on (user_id, type, beneficiary_id) backstops concurrent writers.
	existing, err := s.GetGasFee(ctx, rec.UserID, rec.Type, rec.BeneficiaryID)
	switch {
	case err == nil:
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
		rec.Deposited = rec.Deposited || existing.Deposited
		rec.Verified = rec.Verified || existing.Verified
	case apperr.Is(err, apperr.KindNotFound):
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		rec.CreatedAt = time.Now().UTC()
	default:
		return err
	}
	if rec.Verified {
		rec.Deposited = true
	}
	rec.UpdatedAt = time.Now().UTC()

	err = s.client.From(tableGasFees).
		OnConflict("user_id,type,beneficiary_id").
		Upsert(ctx, rec, nil)
	return wrap("upsert gas fee", err)
}

// =============================================================================
// Beneficiaries
// =============================================================================

func (s *Store) GetBeneficiary(ctx context.Context, id string) (*grant.Beneficiary, error) {
	var b grant.Beneficiary
	err := s.client.From(tableBeneficiaries).
		Select("*").
		Eq("id", id).
		Single().
		Get(ctx, &b)
	if err != nil {
		return nil, wrap("get beneficiary", err)
	}
	return &b, nil
}

func (s *Store) ListBeneficiaries(ctx context.Context, userID string) ([]grant.Beneficiary, error) {
	var out []grant.Beneficiary
	err := s.client.From(tableBeneficiaries).
		Select("*").
		Eq("user_id", userID).
		Order("created_at", supabase.OrderAsc).
		Get(ctx, &out)
	if err != nil {
		return nil, wrap("list beneficiaries", err)
	}
	return out, nil
}

func (s *Store) CreateBeneficiaries(ctx context.Context, batch []grant.Beneficiary) error {
	now := time.Now().UTC()
	for i := range batch {
		if batch[i].ID == "" {
			batch[i].ID = uuid.NewString()
		}
		batch[i].CreatedAt = now
	}
	err := s.client.From(tableBeneficiaries).Insert(ctx, batch, nil)
	return wrap("create beneficiaries", err)
}

func (s *Store) MarkBeneficiariesVerified(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	anyIDs := make([]any, len(ids))
	for i, id := range ids {
		anyIDs[i] = id
	}
	err := s.client.From(tableBeneficiaries).
		In("id", anyIDs...).
		Update(ctx, map[string]any{"payment_verified": true}, nil)
	return wrap("mark beneficiaries verified", err)
}

// =============================================================================
// Transactions
// =============================================================================

func (s *Store) CreateTransaction(ctx context.Context, tx *grant.Transaction) error {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	err := s.client.From(tableTransactions).Insert(ctx, tx, nil)
	return wrap("create transaction", err)
}

func (s *Store) ListTransactions(ctx context.Context, userID string) ([]grant.Transaction, error) {
	var out []grant.Transaction
	err := s.client.From(tableTransactions).
		Select("*").
		Eq("user_id", userID).
		Order("created_at", supabase.OrderDesc).
		Get(ctx, &out)
	if err != nil {
		return nil, wrap("list transactions", err)
	}
	return out, nil
}

// =============================================================================
// Submissions
// =============================================================================

func (s *Store) CreateSubmission(ctx context.Context, sub *grant.Submission) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	err := s.client.From(tableSubmissions).Insert(ctx, sub, nil)
	return wrap("create submission", err)
}

func (s *Store) DeleteSubmission(ctx context.Context, id string) error {
	err := s.client.From(tableSubmissions).
		Eq("id", id).
		Delete(ctx)
	return wrap("delete submission", err)
}

func (s *Store) ListSubmissions(ctx context.Context, userID string) ([]grant.Submission, error) {
	var out []grant.Submission
	err := s.client.From(tableSubmissions).
		Select("*").
		Eq("user_id", userID).
		Order("created_at", supabase.OrderAsc).
		Get(ctx, &out)
	if err != nil {
		return nil, wrap("list submissions", err)
	}
	return out, nil
}

// =============================================================================
// Settings
// =============================================================================

func (s *Store) GetDisbursement(ctx context.Context) (*grant.DisbursementSetting, error) {
	var out []grant.DisbursementSetting
	err := s.client.From(tableSettings).
		Select("*").
		Order("updated_at", supabase.OrderDesc).
		Limit(1).
		Get(ctx, &out)
	if err != nil {
		return nil, wrap("get disbursement", err)
	}
	if len(out) == 0 {
		return nil, apperr.NotFound("disbursement date not configured")
	}
	return &out[0], nil
}

func (s *Store) SetDisbursement(ctx context.Context, setting *grant.DisbursementSetting) error {
	if setting.ID == "" {
		setting.ID = uuid.NewString()
	}
	setting.UpdatedAt = time.Now().UTC()
	err := s.client.From(tableSettings).
		OnConflict("id").
		Upsert(ctx, setting, nil)
	return wrap("set disbursement", err)
}

// =============================================================================
// Notifications
// =============================================================================

func (s *Store) CreateNotification(ctx context.Context, n *grant.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	err := s.client.From(tableNotifications).Insert(ctx, n, nil)
	return wrap("create notification", err)
}

func (s *Store) ListNotifications(ctx context.Context, userID string, limit int) ([]grant.Notification, error) {
	q := s.client.From(tableNotifications).
		Select("*").
		Is("user_id", "null").
		Order("created_at", supabase.OrderDesc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	var broadcast []grant.Notification
	if err := q.Get(ctx, &broadcast); err != nil {
		return nil, wrap("list notifications", err)
	}

	var personal []grant.Notification
	err := s.client.From(tableNotifications).
		Select("*").
		Eq("user_id", userID).
		Order("created_at", supabase.OrderDesc).
		Get(ctx, &personal)
	if err != nil {
		return nil, wrap("list notifications", err)
	}

	// Two queries, one timeline.
	out := append(personal, broadcast...)
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
	q := s.client.From(tableProfiles)
	if role != "" {
		q = q.Eq("role", role)
	}
	n, err := q.CountRows(ctx)
	if err != nil {
		return 0, wrap("count profiles", err)
	}
	return n, nil
}

func (s *Store) CountBeneficiaries(ctx context.Context, verifiedOnly bool) (int, error) {
	q := s.client.From(tableBeneficiaries)
	if verifiedOnly {
		q = q.Is("payment_verified", "true")
	}
	n, err := q.CountRows(ctx)
	if err != nil {
		return 0, wrap("count beneficiaries", err)
	}
	return n, nil
}

// =============================================================================
// Credentials
// =============================================================================

func (s *Store) GetCredential(ctx context.Context, userID string) (*grant.Credential, error) {
	var c grant.Credential
	err := s.client.From(tableCredentials).
		Select("*").
		Eq("user_id", userID).
		Single().
		Get(ctx, &c)
	if err != nil {
		return nil, wrap("get credential", err)
	}
	return &c, nil
}

func (s *Store) UpsertCredential(ctx context.Context, c *grant.Credential) error {
	if c.UserID == "" {
		return apperr.Validation("credential user id is required")
	}
	c.UpdatedAt = time.Now().UTC()
	err := s.client.From(tableCredentials).
		OnConflict("user_id").
		Upsert(ctx, c, nil)
	return wrap("upsert credential", err)
}
