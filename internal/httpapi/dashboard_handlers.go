package httpapi

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	apperr "github.com/swissgrant/platform/internal/errors"
	"github.com/swissgrant/platform/internal/grant"
	"github.com/swissgrant/platform/internal/middleware"
	"github.com/swissgrant/platform/internal/supabase"
)

func (h *Handler) handleListBeneficiaries(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListBeneficiaries(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"beneficiaries": list})
}

type createBeneficiariesRequest struct {
	Beneficiaries []grant.Beneficiary `json:"beneficiaries"`
}

func (h *Handler) handleCreateBeneficiaries(w http.ResponseWriter, r *http.Request) {
	var req createBeneficiariesRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if err := grant.ValidateBatch(req.Beneficiaries); err != nil {
		h.writeError(w, err)
		return
	}

	userID := middleware.UserID(r.Context())
	for i := range req.Beneficiaries {
		req.Beneficiaries[i].UserID = userID
		req.Beneficiaries[i].PaymentVerified = false
	}
	if err := h.store.CreateBeneficiaries(r.Context(), req.Beneficiaries); err != nil {
		h.writeError(w, err)
		return
	}

	// Each nominated beneficiary owes its own fee before disbursement.
	for i := range req.Beneficiaries {
		err := h.store.UpsertGasFee(r.Context(), &grant.GasFeeRecord{
			UserID:        userID,
			Type:          grant.FeeBeneficiary,
			BeneficiaryID: req.Beneficiaries[i].ID,
		})
		if err != nil {
			h.writeError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusCreated, map[string]any{"beneficiaries": req.Beneficiaries})
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())

	profile, err := h.store.GetProfile(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	fees, err := h.store.ListGasFees(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	txs, err := h.store.ListTransactions(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	// Grant balance is the sum of BTC ledger entries, displayed alongside
	// the cached quote when one is available.
	var balance grant.Amount
	for _, tx := range txs {
		if tx.Currency != "BTC" || tx.Type != grant.TxGrant {
			continue
		}
		if a, err := grant.ParseAmount(tx.Amount); err == nil {
			balance += a
		}
	}

	resp := map[string]any{
		"profile":      profile,
		"gas_fees":     fees,
		"transactions": txs,
		"balance_btc":  balance.String(),
	}
	if h.prices != nil {
		if price, ok := h.prices.Get(r.Context()); ok {
			resp["btc_usd"] = price
			resp["balance_usd"] = balance.Float64() * price
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.store.ListTransactions(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

type withdrawalRequest struct {
	Amount string `json:"amount"`
	Wallet string `json:"wallet"`
}

// handleRequestWithdrawal books a withdrawal request into the ledger and
// notifies the user. Actual disbursement happens off-platform.
func (h *Handler) handleRequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req withdrawalRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	amount, err := grant.ParseAmount(req.Amount)
	if err != nil || amount <= 0 {
		h.writeError(w, apperr.Validation("a positive amount is required"))
		return
	}
	if strings.TrimSpace(req.Wallet) == "" {
		h.writeError(w, apperr.Validation("a destination wallet is required"))
		return
	}

	userID := middleware.UserID(r.Context())
	tx := &grant.Transaction{
		UserID:      userID,
		Type:        grant.TxWithdrawalRequest,
		Amount:      amount.String(),
		Currency:    "BTC",
		Description: "Withdrawal requested to " + req.Wallet,
	}
	if err := h.store.CreateTransaction(r.Context(), tx); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.store.CreateNotification(r.Context(), &grant.Notification{
		UserID:  userID,
		Message: "Your withdrawal request of " + amount.String() + " BTC was received and is being processed.",
	}); err != nil {
		h.log.Err(err, "withdrawal notification failed for user %s", userID)
	}

	writeJSON(w, http.StatusCreated, tx)
}

func (h *Handler) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	list, err := h.store.ListNotifications(r.Context(), middleware.UserID(r.Context()), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": list})
}

// =============================================================================
// Credentials (KYC)
// =============================================================================

func (h *Handler) handleGetCredential(w http.ResponseWriter, r *http.Request) {
	cred, err := h.store.GetCredential(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cred)
}

// handleUpsertCredential accepts the KYC form: text fields plus optional
// picture and CAC certificate uploads.
func (h *Handler) handleUpsertCredential(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 2*maxReceiptBytes)
	if err := r.ParseMultipartForm(2 * maxReceiptBytes); err != nil {
		h.writeError(w, apperr.Validation("multipart form is required"))
		return
	}

	userID := middleware.UserID(r.Context())
	cred := &grant.Credential{
		UserID:      userID,
		NGOName:     strings.TrimSpace(r.FormValue("ngo_name")),
		CEOName:     strings.TrimSpace(r.FormValue("ceo_name")),
		Phone:       strings.TrimSpace(r.FormValue("phone")),
		Country:     strings.TrimSpace(r.FormValue("country")),
		State:       strings.TrimSpace(r.FormValue("state")),
		LGA:         strings.TrimSpace(r.FormValue("lga")),
		HomeAddress: strings.TrimSpace(r.FormValue("home_address")),
		NIN:         strings.TrimSpace(r.FormValue("nin")),
	}
	for _, field := range []string{cred.NGOName, cred.CEOName, cred.Phone, cred.Country, cred.State, cred.LGA, cred.HomeAddress} {
		if field == "" {
			h.writeError(w, apperr.Validation("all credential fields are required"))
			return
		}
	}

	for form, target := range map[string]*string{"picture": &cred.PictureURL, "cac": &cred.CACURL} {
		url, err := h.uploadFormFile(r, form, userID)
		if err != nil {
			h.writeError(w, err)
			return
		}
		*target = url
	}

	if err := h.store.UpsertCredential(r.Context(), cred); err != nil {
		h.writeError(w, err)
		return
	}

	// Mirror the organization onto the auth user so support tooling sees it
	// without a store lookup. Best effort.
	if h.auth != nil {
		_, err := h.auth.UpdateUserMetadata(r.Context(), middleware.Token(r.Context()), map[string]interface{}{
			"ngo_name": cred.NGOName,
			"ceo_name": cred.CEOName,
		})
		if err != nil {
			h.log.Warn("auth metadata sync failed for user %s: %v", userID, err)
		}
	}

	writeJSON(w, http.StatusOK, cred)
}

// uploadFormFile stores an optional multipart file and returns its public
// URL, or "" when the field is absent.
func (h *Handler) uploadFormFile(r *http.Request, field, userID string) (string, error) {
	file, header, err := r.FormFile(field)
	if err == http.ErrMissingFile {
		return "", nil
	}
	if err != nil {
		return "", apperr.Validation("could not read %s upload", field)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return "", apperr.Validation("could not read %s upload", field)
	}

	objectPath := "credentials/" + userID + "/" + field + pathExt(header.Filename)
	err = h.bucket.Upload(r.Context(), objectPath, data, supabase.UploadOptions{
		ContentType: header.Header.Get("Content-Type"),
		Upsert:      true,
	})
	if err != nil {
		return "", apperr.Backend("upload "+field, err)
	}
	return h.bucket.PublicURL(objectPath), nil
}

func pathExt(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i:]
	}
	return ""
}
