// Package postgres implements the storage interfaces on PostgreSQL for
// self-hosted deployments.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	apperr "github.com/swissgrant/platform/internal/errors"
	"github.com/swissgrant/platform/internal/grant"
	"github.com/swissgrant/platform/internal/storage"
)

// Store wraps an sqlx handle.
type Store struct {
	db *sqlx.DB
}

var _ storage.Store = (*Store)(nil)

// Open connects and verifies the database.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle; tests inject a mock through here.
func NewWithDB(db *sqlx.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// =============================================================================
// Profiles
// =============================================================================

func (s *Store) GetProfile(ctx context.Context, userID string) (*grant.Profile, error) {
	var p grant.Profile
	err := s.db.GetContext(ctx, &p,
		`SELECT user_id, full_name, role, COALESCE(wallet_address, '') AS wallet_address, has_paid, created_at
		 FROM users WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("profile %s not found", userID)
	}
	if err != nil {
		return nil, apperr.Backend("get profile", err)
	}
	return &p, nil
}

func (s *Store) UpsertProfile(ctx context.Context, p *grant.Profile) error {
	if p.UserID == "" {
		return apperr.Validation("profile user id is required")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (user_id, full_name, role, wallet_address, has_paid, created_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)
		 ON CONFLICT (user_id) DO UPDATE
		 SET full_name = EXCLUDED.full_name,
		     role = EXCLUDED.role,
		     wallet_address = EXCLUDED.wallet_address,
		     has_paid = EXCLUDED.has_paid`,
		p.UserID, p.FullName, p.Role, p.Wallet, p.HasPaid, p.CreatedAt)
	if err != nil {
		return apperr.Backend("upsert profile", err)
	}
	return nil
}

func (s *Store) SetHasPaid(ctx context.Context, userID string, paid bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET has_paid = $2 WHERE user_id = $1`, userID, paid)
	if err != nil {
		return apperr.Backend("set has_paid", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("profile %s not found", userID)
	}
	return nil
}

// =============================================================================
// Gas fees
// =============================================================================

func (s *Store) GetGasFee(ctx context.Context, userID string, t grant.FeeType, beneficiaryID string) (*grant.GasFeeRecord, error) {
	var rec grant.GasFeeRecord
	err := s.db.GetContext(ctx, &rec,
		`SELECT id, user_id, type, COALESCE(beneficiary_id::text, '') AS beneficiary_id,
		        deposited, verified, created_at, updated_at
		 FROM gas_fees
		 WHERE user_id = $1 AND type = $2 AND beneficiary_id IS NOT DISTINCT FROM NULLIF($3, '')::uuid`,
		userID, string(t), beneficiaryID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("gas fee record not found")
	}
	if err != nil {
		return nil, apperr.Backend("get gas fee", err)
	}
	return &rec, nil
}

func (s *Store) ListGasFees(ctx context.Context, userID string) ([]grant.GasFeeRecord, error) {
	var out []grant.GasFeeRecord
	err := s.db.SelectContext(ctx, &out,
		`SELECT id, user_id, type, COALESCE(beneficiary_id::text, '') AS beneficiary_id,
		        deposited, verified, created_at, updated_at
		 FROM gas_fees WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, apperr.Backend("list gas fees", err)
	}
	return out, nil
}

func (s *Store) UpsertGasFee(ctx context.Context, rec *grant.GasFeeRecord) error {
	if rec.UserID == "" || !rec.Type.Valid() {
		return apperr.Validation("gas fee record needs a user and a valid type")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rec.UpdatedAt = now
	if rec.Verified {
		rec.Deposited = true
	}

	// Flags only move forward; the expression index on
	// (user_id, type, coalesced beneficiary_id) keys the conflict.
	err := s.db.GetContext(ctx, rec,
		`INSERT INTO gas_fees (id, user_id, type, beneficiary_id, deposited, verified, created_at, updated_at)
		 VALUES ($1, $2, $3, NULLIF($4, '')::uuid, $5, $6, $7, $7)
		 ON CONFLICT (user_id, type, COALESCE(beneficiary_id, '00000000-0000-0000-0000-000000000000'::uuid)) DO UPDATE
		 SET deposited = gas_fees.deposited OR EXCLUDED.deposited,
		     verified = gas_fees.verified OR EXCLUDED.verified,
		     updated_at = EXCLUDED.updated_at
		 RETURNING id, user_id, type, COALESCE(beneficiary_id::text, '') AS beneficiary_id,
		           deposited, verified, created_at, updated_at`,
		rec.ID, rec.UserID, string(rec.Type), rec.BeneficiaryID, rec.Deposited, rec.Verified, now)
	if err != nil {
		return apperr.Backend("upsert gas fee", err)
	}
	return nil
}

// =============================================================================
// Beneficiaries
// =============================================================================

func (s *Store) GetBeneficiary(ctx context.Context, id string) (*grant.Beneficiary, error) {
	var b grant.Beneficiary
	err := s.db.GetContext(ctx, &b,
		`SELECT id, user_id, full_name, phone, state, city, zipcode, payment_verified, created_at
		 FROM beneficiaries WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("beneficiary %s not found", id)
	}
	if err != nil {
		return nil, apperr.Backend("get beneficiary", err)
	}
	return &b, nil
}

func (s *Store) ListBeneficiaries(ctx context.Context, userID string) ([]grant.Beneficiary, error) {
	var out []grant.Beneficiary
	err := s.db.SelectContext(ctx, &out,
		`SELECT id, user_id, full_name, phone, state, city, zipcode, payment_verified, created_at
		 FROM beneficiaries WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, apperr.Backend("list beneficiaries", err)
	}
	return out, nil
}

func (s *Store) CreateBeneficiaries(ctx context.Context, batch []grant.Beneficiary) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.Backend("begin tx", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for i := range batch {
		if batch[i].ID == "" {
			batch[i].ID = uuid.NewString()
		}
		batch[i].CreatedAt = now
		_, err := tx.ExecContext(ctx,
			`INSERT INTO beneficiaries (id, user_id, full_name, phone, state, city, zipcode, payment_verified, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			batch[i].ID, batch[i].UserID, batch[i].FullName, batch[i].Phone,
			batch[i].State, batch[i].City, batch[i].Zipcode, batch[i].PaymentVerified, now)
		if err != nil {
			return apperr.Backend("create beneficiary", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return apperr.Backend("commit beneficiaries", err)
	}
	return nil
}

func (s *Store) MarkBeneficiariesVerified(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE beneficiaries SET payment_verified = TRUE WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return apperr.Backend("mark beneficiaries verified", err)
	}
	return nil
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
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transactions (id, user_id, type, amount, currency, description, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tx.ID, tx.UserID, string(tx.Type), tx.Amount, tx.Currency, tx.Description, tx.CreatedAt)
	if err != nil {
		return apperr.Backend("create transaction", err)
	}
	return nil
}

func (s *Store) ListTransactions(ctx context.Context, userID string) ([]grant.Transaction, error) {
	var out []grant.Transaction
	err := s.db.SelectContext(ctx, &out,
		`SELECT id, user_id, type, amount, currency, description, created_at
		 FROM transactions WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, apperr.Backend("list transactions", err)
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
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO payment_submissions (id, user_id, fee_type, beneficiary_id, tx_hash, receipt_url, amount, created_at)
		 VALUES ($1, $2, $3, NULLIF($4, '')::uuid, $5, $6, $7, $8)`,
		sub.ID, sub.UserID, string(sub.FeeType), sub.BeneficiaryID,
		sub.TxHash, sub.ReceiptURL, sub.Amount, sub.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("submission for hash %s: %w", sub.TxHash, storage.ErrDuplicate)
	}
	if err != nil {
		return apperr.Backend("create submission", err)
	}
	return nil
}

func (s *Store) DeleteSubmission(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM payment_submissions WHERE id = $1`, id)
	if err != nil {
		return apperr.Backend("delete submission", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("submission %s not found", id)
	}
	return nil
}

func (s *Store) ListSubmissions(ctx context.Context, userID string) ([]grant.Submission, error) {
	var out []grant.Submission
	err := s.db.SelectContext(ctx, &out,
		`SELECT id, user_id, fee_type, COALESCE(beneficiary_id::text, '') AS beneficiary_id,
		        tx_hash, receipt_url, amount, created_at
		 FROM payment_submissions WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, apperr.Backend("list submissions", err)
	}
	return out, nil
}

// =============================================================================
// Settings
// =============================================================================

func (s *Store) GetDisbursement(ctx context.Context) (*grant.DisbursementSetting, error) {
	var setting grant.DisbursementSetting
	err := s.db.GetContext(ctx, &setting,
		`SELECT id, disbursement_date, updated_at FROM settings ORDER BY updated_at DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("disbursement date not configured")
	}
	if err != nil {
		return nil, apperr.Backend("get disbursement", err)
	}
	return &setting, nil
}

func (s *Store) SetDisbursement(ctx context.Context, setting *grant.DisbursementSetting) error {
	if setting.ID == "" {
		setting.ID = uuid.NewString()
	}
	setting.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (id, disbursement_date, updated_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE
		 SET disbursement_date = EXCLUDED.disbursement_date,
		     updated_at = EXCLUDED.updated_at`,
		setting.ID, setting.DisbursementDate, setting.UpdatedAt)
	if err != nil {
		return apperr.Backend("set disbursement", err)
	}
	return nil
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
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, message, created_at)
		 VALUES ($1, NULLIF($2, '')::uuid, $3, $4)`,
		n.ID, n.UserID, n.Message, n.CreatedAt)
	if err != nil {
		return apperr.Backend("create notification", err)
	}
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, userID string, limit int) ([]grant.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []grant.Notification
	err := s.db.SelectContext(ctx, &out,
		`SELECT id, COALESCE(user_id::text, '') AS user_id, message, created_at
		 FROM notifications
		 WHERE user_id IS NULL OR user_id = $1
		 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, apperr.Backend("list notifications", err)
	}
	return out, nil
}

// =============================================================================
// Stats
// =============================================================================

func (s *Store) CountProfiles(ctx context.Context, role string) (int, error) {
	var n int
	var err error
	if role == "" {
		err = s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM users`)
	} else {
		err = s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM users WHERE role = $1`, role)
	}
	if err != nil {
		return 0, apperr.Backend("count profiles", err)
	}
	return n, nil
}

func (s *Store) CountBeneficiaries(ctx context.Context, verifiedOnly bool) (int, error) {
	var n int
	var err error
	if verifiedOnly {
		err = s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM beneficiaries WHERE payment_verified`)
	} else {
		err = s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM beneficiaries`)
	}
	if err != nil {
		return 0, apperr.Backend("count beneficiaries", err)
	}
	return n, nil
}

// =============================================================================
// Credentials
// =============================================================================

func (s *Store) GetCredential(ctx context.Context, userID string) (*grant.Credential, error) {
	var c grant.Credential
	err := s.db.GetContext(ctx, &c,
		`SELECT user_id, ngo_name, ceo_name, phone, country, state, lga, home_address,
		        COALESCE(nin, '') AS nin, COALESCE(picture_url, '') AS picture_url,
		        COALESCE(cac_url, '') AS cac_url, updated_at
		 FROM credentials WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("credentials for %s not found", userID)
	}
	if err != nil {
		return nil, apperr.Backend("get credential", err)
	}
	return &c, nil
}

func (s *Store) UpsertCredential(ctx context.Context, c *grant.Credential) error {
	if c.UserID == "" {
		return apperr.Validation("credential user id is required")
	}
	c.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (user_id, ngo_name, ceo_name, phone, country, state, lga, home_address, nin, picture_url, cac_url, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, ''), $12)
		 ON CONFLICT (user_id) DO UPDATE
		 SET ngo_name = EXCLUDED.ngo_name,
		     ceo_name = EXCLUDED.ceo_name,
		     phone = EXCLUDED.phone,
		     country = EXCLUDED.country,
		     state = EXCLUDED.state,
		     lga = EXCLUDED.lga,
		     home_address = EXCLUDED.home_address,
		     nin = COALESCE(EXCLUDED.nin, credentials.nin),
		     picture_url = COALESCE(EXCLUDED.picture_url, credentials.picture_url),
		     cac_url = COALESCE(EXCLUDED.cac_url, credentials.cac_url),
		     updated_at = EXCLUDED.updated_at`,
		c.UserID, c.NGOName, c.CEOName, c.Phone, c.Country, c.State, c.LGA,
		c.HomeAddress, c.NIN, c.PictureURL, c.CACURL, c.UpdatedAt)
	if err != nil {
		return apperr.Backend("upsert credential", err)
	}
	return nil
}
