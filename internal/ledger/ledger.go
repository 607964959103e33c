// Package ledger reconciles fee payments: it records submitted proofs,
// flips fee records to verified and books the resulting grant entries.
package ledger

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/swissgrant/platform/internal/chain"
	"github.com/swissgrant/platform/internal/config"
	apperr "github.com/swissgrant/platform/internal/errors"
	"github.com/swissgrant/platform/internal/grant"
	"github.com/swissgrant/platform/internal/storage"
	"github.com/swissgrant/platform/internal/supabase"
	"github.com/swissgrant/platform/pkg/logger"
)

// ReceiptBucket is the slice of object storage the reconciler needs.
// *supabase.BucketClient satisfies it.
type ReceiptBucket interface {
	Upload(ctx context.Context, path string, data []byte, opts supabase.UploadOptions) error
	PublicURL(path string) string
}

var _ ReceiptBucket = (*supabase.BucketClient)(nil)

// TxChecker confirms a submitted hash on chain. *chain.Client satisfies it;
// a nil checker skips the check.
type TxChecker interface {
	TransactionConfirmed(ctx context.Context, txHash string) (bool, error)
}

var _ TxChecker = (*chain.Client)(nil)

// ManualVerification is a user-submitted proof of payment.
type ManualVerification struct {
	UserID         string
	FeeType        grant.FeeType
	BeneficiaryIDs []string
	TxHash         string
	ReceiptName    string
	Receipt        []byte
	ContentType    string
}

// Result reports what the reconciler did for a proof.
type Result struct {
	FeeType         grant.FeeType `json:"fee_type"`
	TxHash          string        `json:"tx_hash"`
	ReceiptURL      string        `json:"receipt_url,omitempty"`
	AlreadyVerified bool          `json:"already_verified"`
	GrantAmount     string        `json:"grant_amount,omitempty"`
	GrantCurrency   string        `json:"grant_currency,omitempty"`
}

// Reconciler drives fee verification against the store and receipt bucket.
type Reconciler struct {
	store    storage.Store
	receipts ReceiptBucket
	chain    TxChecker
	fees     config.FeeSchedule
	log      *logger.Logger
	now      func() time.Time
}

func NewReconciler(store storage.Store, receipts ReceiptBucket, chain TxChecker, fees config.FeeSchedule, log *logger.Logger) *Reconciler {
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	return &Reconciler{
		store:    store,
		receipts: receipts,
		chain:    chain,
		fees:     fees,
		log:      log,
		now:      time.Now,
	}
}

// VerifyManual handles the hash-plus-receipt flow. A fee that is already
// verified short-circuits before any write so resubmission cannot credit
// twice; a duplicate hash for an unverified fee is rejected.
func (r *Reconciler) VerifyManual(ctx context.Context, req ManualVerification) (*Result, error) {
	if err := r.validate(req.UserID, req.FeeType, req.BeneficiaryIDs); err != nil {
		return nil, err
	}
	if err := grant.ValidateTxHash(req.TxHash); err != nil {
		return nil, err
	}
	if len(req.Receipt) == 0 {
		return nil, apperr.Validation("a payment receipt is required")
	}

	if done, err := r.alreadyVerified(ctx, req.UserID, req.FeeType, req.BeneficiaryIDs); err != nil {
		return nil, err
	} else if done {
		return &Result{FeeType: req.FeeType, TxHash: req.TxHash, AlreadyVerified: true}, nil
	}

	// The receipt alone proves nothing; the hash must point at a mined,
	// successful transaction.
	if r.chain != nil {
		confirmed, err := r.chain.TransactionConfirmed(ctx, req.TxHash)
		if err != nil {
			return nil, err
		}
		if !confirmed {
			return nil, apperr.Validation("transaction %s is not confirmed on chain", req.TxHash)
		}
	}

	receiptURL, err := r.uploadReceipt(ctx, req)
	if err != nil {
		return nil, err
	}

	return r.settle(ctx, req.UserID, req.FeeType, req.BeneficiaryIDs, req.TxHash, receiptURL)
}

// VerifyDetected handles on-chain detection: the observer saw the payment,
// so there is no receipt to upload.
func (r *Reconciler) VerifyDetected(ctx context.Context, userID string, feeType grant.FeeType, beneficiaryIDs []string, txHash string) (*Result, error) {
	if err := r.validate(userID, feeType, beneficiaryIDs); err != nil {
		return nil, err
	}

	if done, err := r.alreadyVerified(ctx, userID, feeType, beneficiaryIDs); err != nil {
		return nil, err
	} else if done {
		return &Result{FeeType: feeType, TxHash: txHash, AlreadyVerified: true}, nil
	}

	return r.settle(ctx, userID, feeType, beneficiaryIDs, txHash, "")
}

func (r *Reconciler) validate(userID string, feeType grant.FeeType, beneficiaryIDs []string) error {
	if userID == "" {
		return apperr.Auth("authentication required")
	}
	if !feeType.Valid() {
		return apperr.Validation("unknown fee type %q", feeType)
	}
	if feeType == grant.FeeBeneficiary {
		if len(beneficiaryIDs) == 0 {
			return apperr.Validation("at least one beneficiary is required")
		}
		if len(beneficiaryIDs) > grant.MaxBatchBeneficiaries {
			return apperr.Validation("you can only add up to %d beneficiaries at a time", grant.MaxBatchBeneficiaries)
		}
	}
	return nil
}

// alreadyVerified reports whether every fee record the proof would touch is
// verified already.
func (r *Reconciler) alreadyVerified(ctx context.Context, userID string, feeType grant.FeeType, beneficiaryIDs []string) (bool, error) {
	targets := []string{""}
	if feeType == grant.FeeBeneficiary {
		targets = beneficiaryIDs
	}
	for _, id := range targets {
		rec, err := r.store.GetGasFee(ctx, userID, feeType, id)
		if apperr.Is(err, apperr.KindNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if !rec.Verified {
			return false, nil
		}
	}
	return true, nil
}

func (r *Reconciler) uploadReceipt(ctx context.Context, req ManualVerification) (string, error) {
	ext := path.Ext(req.ReceiptName)
	objectPath := fmt.Sprintf("receipts/%s/%s%s", req.UserID, uuid.NewString(), ext)
	err := r.receipts.Upload(ctx, objectPath, req.Receipt, supabase.UploadOptions{
		ContentType: req.ContentType,
	})
	if err != nil {
		return "", apperr.Backend("upload receipt", err)
	}
	return r.receipts.PublicURL(objectPath), nil
}

// settle records the submission, flips the fee records and books the grant.
func (r *Reconciler) settle(ctx context.Context, userID string, feeType grant.FeeType, beneficiaryIDs []string, txHash, receiptURL string) (*Result, error) {
	amount := r.fees.FeeAmount(feeType, len(beneficiaryIDs))

	beneficiaryKey := ""
	if feeType == grant.FeeBeneficiary {
		beneficiaryKey = beneficiaryIDs[0]
	}
	sub := &grant.Submission{
		UserID:        userID,
		FeeType:       feeType,
		BeneficiaryID: beneficiaryKey,
		TxHash:        txHash,
		ReceiptURL:    receiptURL,
		Amount:        amount.String(),
	}
	if err := r.store.CreateSubmission(ctx, sub); err != nil {
		if storage.IsDuplicate(err) {
			return nil, apperr.Validation("this transaction hash has already been submitted")
		}
		return nil, err
	}

	var res *Result
	var err error
	switch feeType {
	case grant.FeeCEO:
		res, err = r.settleCEO(ctx, userID, txHash, receiptURL)
	default:
		res, err = r.settleBeneficiaries(ctx, userID, beneficiaryIDs, txHash, receiptURL)
	}
	if err != nil {
		// Release the hash so a retry is not rejected as a duplicate while
		// the fee is still unverified.
		if delErr := r.store.DeleteSubmission(ctx, sub.ID); delErr != nil {
			r.log.Err(delErr, "submission %s stuck after settle failure", sub.ID)
		}
		return nil, err
	}
	return res, nil
}

func (r *Reconciler) settleCEO(ctx context.Context, userID, txHash, receiptURL string) (*Result, error) {
	err := r.store.UpsertGasFee(ctx, &grant.GasFeeRecord{
		UserID:    userID,
		Type:      grant.FeeCEO,
		Deposited: true,
		Verified:  true,
	})
	if err != nil {
		return nil, err
	}

	commission := r.fees.CEOCommissionBTC
	tx := &grant.Transaction{
		UserID:      userID,
		Type:        grant.TxGrant,
		Amount:      commission.String(),
		Currency:    "BTC",
		Description: "Grant commission credited after gas fee verification",
	}
	if err := r.store.CreateTransaction(ctx, tx); err != nil {
		return nil, err
	}
	if err := r.store.CreateNotification(ctx, &grant.Notification{
		UserID:  userID,
		Message: fmt.Sprintf("Your gas fee payment was verified. %s BTC has been credited to your grant balance.", commission),
	}); err != nil {
		r.log.Err(err, "notification write failed for user %s", userID)
	}

	// has_paid is a denormalized cache of the verified fee record.
	if err := r.store.SetHasPaid(ctx, userID, true); err != nil {
		r.log.Err(err, "has_paid cache update failed for user %s", userID)
	}

	r.log.Info("ceo gas fee verified for user %s (tx %s)", userID, txHash)
	return &Result{
		FeeType:       grant.FeeCEO,
		TxHash:        txHash,
		ReceiptURL:    receiptURL,
		GrantAmount:   commission.String(),
		GrantCurrency: "BTC",
	}, nil
}

func (r *Reconciler) settleBeneficiaries(ctx context.Context, userID string, ids []string, txHash, receiptURL string) (*Result, error) {
	for _, id := range ids {
		if _, err := r.store.GetBeneficiary(ctx, id); err != nil {
			return nil, err
		}
	}

	for _, id := range ids {
		err := r.store.UpsertGasFee(ctx, &grant.GasFeeRecord{
			UserID:        userID,
			Type:          grant.FeeBeneficiary,
			BeneficiaryID: id,
			Deposited:     true,
			Verified:      true,
		})
		if err != nil {
			return nil, err
		}
	}
	if err := r.store.MarkBeneficiariesVerified(ctx, ids); err != nil {
		return nil, err
	}

	perHead := r.fees.BeneficiaryCommissionBTC
	total := grant.AmountFromUnits(perHead.Units() * int64(len(ids)))
	tx := &grant.Transaction{
		UserID:      userID,
		Type:        grant.TxGrant,
		Amount:      total.String(),
		Currency:    "BTC",
		Description: fmt.Sprintf("Beneficiary grant allocation for %d verified beneficiaries", len(ids)),
	}
	if err := r.store.CreateTransaction(ctx, tx); err != nil {
		return nil, err
	}
	if err := r.store.CreateNotification(ctx, &grant.Notification{
		UserID:  userID,
		Message: fmt.Sprintf("Beneficiary gas fee verified for %d beneficiaries. %s BTC allocated.", len(ids), total),
	}); err != nil {
		r.log.Err(err, "notification write failed for user %s", userID)
	}

	r.log.Info("beneficiary gas fee verified for user %s, %d beneficiaries (tx %s)", userID, len(ids), txHash)
	return &Result{
		FeeType:       grant.FeeBeneficiary,
		TxHash:        txHash,
		ReceiptURL:    receiptURL,
		GrantAmount:   total.String(),
		GrantCurrency: "BTC",
	}, nil
}
