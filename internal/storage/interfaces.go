// Package storage defines the persistence interfaces for the grant domain
// and reports duplicate and missing rows through the shared error taxonomy.
package storage

import (
	"context"
	"errors"

	"github.com/swissgrant/platform/internal/grant"
)

// ErrDuplicate is wrapped by stores when an insert violates a uniqueness
// constraint, notably resubmitted payment proofs.
var ErrDuplicate = errors.New("storage: duplicate record")

// IsDuplicate reports whether err is a uniqueness violation.
func IsDuplicate(err error) bool { return errors.Is(err, ErrDuplicate) }

// ProfileStore persists application profiles keyed by auth user id.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*grant.Profile, error)
	UpsertProfile(ctx context.Context, p *grant.Profile) error
	SetHasPaid(ctx context.Context, userID string, paid bool) error
}

// GasFeeStore persists fee records. Upsert keys on
// (user, type, beneficiary) and must never clear a set flag.
type GasFeeStore interface {
	GetGasFee(ctx context.Context, userID string, t grant.FeeType, beneficiaryID string) (*grant.GasFeeRecord, error)
	ListGasFees(ctx context.Context, userID string) ([]grant.GasFeeRecord, error)
	UpsertGasFee(ctx context.Context, rec *grant.GasFeeRecord) error
}

// BeneficiaryStore persists nominated beneficiaries.
type BeneficiaryStore interface {
	GetBeneficiary(ctx context.Context, id string) (*grant.Beneficiary, error)
	ListBeneficiaries(ctx context.Context, userID string) ([]grant.Beneficiary, error)
	CreateBeneficiaries(ctx context.Context, batch []grant.Beneficiary) error
	MarkBeneficiariesVerified(ctx context.Context, ids []string) error
}

// TransactionStore is the append-only ledger.
type TransactionStore interface {
	CreateTransaction(ctx context.Context, tx *grant.Transaction) error
	ListTransactions(ctx context.Context, userID string) ([]grant.Transaction, error)
}

// SubmissionStore persists manual payment proofs. CreateSubmission returns
// a duplicate error when (user, fee type, beneficiary, hash) already exists;
// DeleteSubmission releases a proof whose settlement failed.
type SubmissionStore interface {
	CreateSubmission(ctx context.Context, sub *grant.Submission) error
	DeleteSubmission(ctx context.Context, id string) error
	ListSubmissions(ctx context.Context, userID string) ([]grant.Submission, error)
}

// SettingsStore holds the disbursement-date singleton.
type SettingsStore interface {
	GetDisbursement(ctx context.Context) (*grant.DisbursementSetting, error)
	SetDisbursement(ctx context.Context, s *grant.DisbursementSetting) error
}

// NotificationStore persists dashboard notifications.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *grant.Notification) error
	ListNotifications(ctx context.Context, userID string, limit int) ([]grant.Notification, error)
}

// CredentialStore persists the one KYC record per user.
type CredentialStore interface {
	GetCredential(ctx context.Context, userID string) (*grant.Credential, error)
	UpsertCredential(ctx context.Context, c *grant.Credential) error
}

// StatsStore answers the admin dashboard aggregates. An empty role counts
// every profile; verifiedOnly false counts every beneficiary.
type StatsStore interface {
	CountProfiles(ctx context.Context, role string) (int, error)
	CountBeneficiaries(ctx context.Context, verifiedOnly bool) (int, error)
}

// Store aggregates every persistence concern behind one handle.
type Store interface {
	ProfileStore
	GasFeeStore
	BeneficiaryStore
	TransactionStore
	SubmissionStore
	SettingsStore
	NotificationStore
	CredentialStore
	StatsStore
}
