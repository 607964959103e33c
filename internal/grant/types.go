// Package grant holds the domain records for the grant platform: fee
// records, beneficiaries, ledger transactions and payment verification
// submissions. Field layout mirrors the backing tables.
package grant

import (
	"regexp"
	"strings"
	"time"

	"github.com/swissgrant/platform/internal/errors"
)

// FeeType classifies a required payment.
type FeeType string

const (
	FeeCEO         FeeType = "ceo_gas_fee"
	FeeBeneficiary FeeType = "beneficiary_gas_fee"
)

// Valid reports whether the fee type is one of the known classifications.
func (t FeeType) Valid() bool {
	return t == FeeCEO || t == FeeBeneficiary
}

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	TxGasFeePaid        TransactionType = "gas_fee_paid"
	TxGrant             TransactionType = "grant"
	TxWithdrawalRequest TransactionType = "withdrawal_request"
)

// Profile is the application-level record for an authenticated identity.
type Profile struct {
	UserID    string    `json:"user_id" db:"user_id"`
	FullName  string    `json:"full_name" db:"full_name"`
	Role      string    `json:"role" db:"role"`
	Wallet    string    `json:"wallet_address,omitempty" db:"wallet_address"`
	HasPaid   bool      `json:"has_paid" db:"has_paid"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// GasFeeRecord tracks a required fee for an identity. Keyed by
// (user, fee type, optional beneficiary). Invariant: Verified implies
// Deposited.
type GasFeeRecord struct {
	ID            string    `json:"id" db:"id"`
	UserID        string    `json:"user_id" db:"user_id"`
	Type          FeeType   `json:"type" db:"type"`
	BeneficiaryID string    `json:"beneficiary_id,omitempty" db:"beneficiary_id"`
	Deposited     bool      `json:"deposited" db:"deposited"`
	Verified      bool      `json:"verified" db:"verified"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// Beneficiary is a person nominated by a CEO-role identity, subject to its
// own fee before disbursement.
type Beneficiary struct {
	ID              string    `json:"id" db:"id"`
	UserID          string    `json:"user_id" db:"user_id"`
	FullName        string    `json:"full_name" db:"full_name"`
	Phone           string    `json:"phone" db:"phone"`
	State           string    `json:"state" db:"state"`
	City            string    `json:"city" db:"city"`
	Zipcode         string    `json:"zipcode" db:"zipcode"`
	PaymentVerified bool      `json:"payment_verified" db:"payment_verified"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// Transaction is an append-only ledger entry. Never mutated or deleted.
type Transaction struct {
	ID          string          `json:"id" db:"id"`
	UserID      string          `json:"user_id" db:"user_id"`
	Type        TransactionType `json:"type" db:"type"`
	Amount      string          `json:"amount" db:"amount"`
	Currency    string          `json:"currency" db:"currency"`
	Description string          `json:"description" db:"description"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// Submission is a manually submitted proof of payment: a transaction hash
// plus an uploaded receipt. One row per (user, fee type, beneficiary, hash);
// duplicates are rejected so a resubmitted hash cannot double-credit.
type Submission struct {
	ID            string    `json:"id" db:"id"`
	UserID        string    `json:"user_id" db:"user_id"`
	FeeType       FeeType   `json:"fee_type" db:"fee_type"`
	BeneficiaryID string    `json:"beneficiary_id,omitempty" db:"beneficiary_id"`
	TxHash        string    `json:"tx_hash" db:"tx_hash"`
	ReceiptURL    string    `json:"receipt_url" db:"receipt_url"`
	Amount        string    `json:"amount" db:"amount"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// DisbursementSetting is the singleton settings row read by countdown
// displays and written by an admin actor.
type DisbursementSetting struct {
	ID               string    `json:"id" db:"id"`
	DisbursementDate time.Time `json:"disbursement_date" db:"disbursement_date"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// Notification is a broadcast or per-user message shown on the dashboard.
type Notification struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id,omitempty" db:"user_id"`
	Message   string    `json:"message" db:"message"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Credential is the KYC record a CEO uploads once.
type Credential struct {
	UserID      string    `json:"user_id" db:"user_id"`
	NGOName     string    `json:"ngo_name" db:"ngo_name"`
	CEOName     string    `json:"ceo_name" db:"ceo_name"`
	Phone       string    `json:"phone" db:"phone"`
	Country     string    `json:"country" db:"country"`
	State       string    `json:"state" db:"state"`
	LGA         string    `json:"lga" db:"lga"`
	HomeAddress string    `json:"home_address" db:"home_address"`
	NIN         string    `json:"nin,omitempty" db:"nin"`
	PictureURL  string    `json:"picture_url,omitempty" db:"picture_url"`
	CACURL      string    `json:"cac_url,omitempty" db:"cac_url"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// MaxBatchBeneficiaries caps how many beneficiaries one pending batch may
// hold.
const MaxBatchBeneficiaries = 5

var (
	txHashPattern  = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
	phonePattern   = regexp.MustCompile(`^\+?\d{10,14}$`)
	zipcodePattern = regexp.MustCompile(`^\d{5,6}$`)
)

// ValidateTxHash checks the strict on-chain hash format for the target
// chain: 0x followed by 64 hex characters.
func ValidateTxHash(hash string) error {
	if !txHashPattern.MatchString(hash) {
		return errors.Validation("transaction hash must be 0x followed by 64 hex characters")
	}
	return nil
}

// Validate checks the fields a beneficiary row must carry before it can
// join a batch.
func (b Beneficiary) Validate() error {
	if strings.TrimSpace(b.FullName) == "" {
		return errors.Validation("full name is required")
	}
	if !phonePattern.MatchString(b.Phone) {
		return errors.Validation("valid phone number is required")
	}
	if strings.TrimSpace(b.State) == "" {
		return errors.Validation("state is required")
	}
	if strings.TrimSpace(b.City) == "" {
		return errors.Validation("city is required")
	}
	if !zipcodePattern.MatchString(b.Zipcode) {
		return errors.Validation("valid zip code is required")
	}
	return nil
}

// ValidateBatch validates every row and enforces the batch cap.
func ValidateBatch(batch []Beneficiary) error {
	if len(batch) == 0 {
		return errors.Validation("at least one beneficiary is required")
	}
	if len(batch) > MaxBatchBeneficiaries {
		return errors.Validation("you can only add up to %d beneficiaries at a time", MaxBatchBeneficiaries)
	}
	for i, b := range batch {
		if err := b.Validate(); err != nil {
			return errors.Validation("beneficiary %d: %s", i+1, errors.UserMessage(err))
		}
	}
	return nil
}
