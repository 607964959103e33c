package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	apperr "github.com/swissgrant/platform/internal/errors"
	"github.com/swissgrant/platform/internal/grant"
	"github.com/swissgrant/platform/internal/ledger"
	"github.com/swissgrant/platform/internal/middleware"
	"github.com/swissgrant/platform/internal/observer"
)

// maxReceiptBytes caps uploaded receipt size.
const maxReceiptBytes = 5 << 20

func (h *Handler) handleFeeSchedule(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"threshold":       h.fees.Threshold.String(),
		"ceo_fee":         h.fees.CEOFee.String(),
		"beneficiary_fee": h.fees.BeneficiaryFee.String(),
		"currency":        "USDT",
		"receiving_wallet": h.cfg.Chain.ReceivingWallet,
		"token_contract":   h.cfg.Chain.TokenContract,
	})
}

type watchRequest struct {
	FeeType        grant.FeeType `json:"fee_type"`
	BeneficiaryIDs []string      `json:"beneficiary_ids,omitempty"`
	SenderWallet   string        `json:"sender_wallet,omitempty"`
}

// handleStartWatch begins on-chain observation for the caller's pending
// payment. The current receiving-wallet balance becomes the baseline.
func (h *Handler) handleStartWatch(w http.ResponseWriter, r *http.Request) {
	var req watchRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if !req.FeeType.Valid() {
		h.writeError(w, apperr.Validation("unknown fee type %q", req.FeeType))
		return
	}
	if req.FeeType == grant.FeeBeneficiary && len(req.BeneficiaryIDs) == 0 {
		h.writeError(w, apperr.Validation("at least one beneficiary is required"))
		return
	}

	baseline, err := h.chain.TokenBalance(r.Context(), h.cfg.Chain.TokenContract, h.cfg.Chain.ReceivingWallet)
	if err != nil {
		// Fail closed: without a baseline a later balance read could
		// credit a payment that never happened.
		h.writeError(w, err)
		return
	}

	h.registry.Add(&observer.Watch{
		UserID:         middleware.UserID(r.Context()),
		FeeType:        req.FeeType,
		BeneficiaryIDs: req.BeneficiaryIDs,
		SenderWallet:   req.SenderWallet,
		Baseline:       baseline,
	})
	if h.metrics != nil {
		h.metrics.ActiveWatches.Set(float64(h.registry.Len()))
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":        "watching",
		"poll_interval": h.cfg.Chain.PollInterval.String(),
	})
}

func (h *Handler) handleStopWatch(w http.ResponseWriter, r *http.Request) {
	feeType := grant.FeeType(r.URL.Query().Get("fee_type"))
	if !feeType.Valid() {
		h.writeError(w, apperr.Validation("unknown fee type %q", feeType))
		return
	}
	h.registry.Remove(middleware.UserID(r.Context()), feeType)
	if h.metrics != nil {
		h.metrics.ActiveWatches.Set(float64(h.registry.Len()))
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// handleSubmitProof is the manual path: multipart form with the transaction
// hash and the receipt file.
func (h *Handler) handleSubmitProof(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxReceiptBytes)
	if err := r.ParseMultipartForm(maxReceiptBytes); err != nil {
		h.writeError(w, apperr.Validation("multipart form with a receipt file is required"))
		return
	}

	feeType := grant.FeeType(r.FormValue("fee_type"))
	txHash := strings.TrimSpace(r.FormValue("tx_hash"))

	var beneficiaryIDs []string
	if raw := r.FormValue("beneficiary_ids"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &beneficiaryIDs); err != nil {
			h.writeError(w, apperr.Validation("beneficiary_ids must be a JSON array of ids"))
			return
		}
	}

	file, header, err := r.FormFile("receipt")
	if err != nil {
		h.writeError(w, apperr.Validation("a payment receipt is required"))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		h.writeError(w, apperr.Validation("could not read receipt upload"))
		return
	}

	result, err := h.reconciler.VerifyManual(r.Context(), ledger.ManualVerification{
		UserID:         middleware.UserID(r.Context()),
		FeeType:        feeType,
		BeneficiaryIDs: beneficiaryIDs,
		TxHash:         txHash,
		ReceiptName:    header.Filename,
		Receipt:        data,
		ContentType:    header.Header.Get("Content-Type"),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	if h.metrics != nil && !result.AlreadyVerified {
		h.metrics.PaymentsVerified.WithLabelValues(string(result.FeeType), "manual").Inc()
	}
	h.registry.Remove(middleware.UserID(r.Context()), feeType)

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.store.ListSubmissions(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"submissions": subs})
}
