package httpapi

import (
	"net/http"
	"strings"
	"time"

	apperr "github.com/swissgrant/platform/internal/errors"
	"github.com/swissgrant/platform/internal/grant"
)

type setDisbursementRequest struct {
	DisbursementDate time.Time `json:"disbursement_date"`
}

func (h *Handler) handleSetDisbursement(w http.ResponseWriter, r *http.Request) {
	var req setDisbursementRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.DisbursementDate.IsZero() {
		h.writeError(w, apperr.Validation("disbursement_date is required"))
		return
	}

	// Keep the singleton: reuse the existing row's id when there is one.
	setting := &grant.DisbursementSetting{DisbursementDate: req.DisbursementDate.UTC()}
	if existing, err := h.store.GetDisbursement(r.Context()); err == nil {
		setting.ID = existing.ID
	}
	if err := h.store.SetDisbursement(r.Context(), setting); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, setting)
}

type broadcastRequest struct {
	Message string `json:"message"`
	UserID  string `json:"user_id,omitempty"`
}

// handleBroadcast posts a notification, either to everyone or to one user.
func (h *Handler) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		h.writeError(w, apperr.Validation("message is required"))
		return
	}

	n := &grant.Notification{UserID: req.UserID, Message: req.Message}
	if err := h.store.CreateNotification(r.Context(), n); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

// handleAdminStats reports the enrollment counters for the admin dashboard.
func (h *Handler) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.CountProfiles(r.Context(), "")
	if err != nil {
		h.writeError(w, err)
		return
	}
	ceos, err := h.store.CountProfiles(r.Context(), "ceo")
	if err != nil {
		h.writeError(w, err)
		return
	}
	beneficiaries, err := h.store.CountBeneficiaries(r.Context(), false)
	if err != nil {
		h.writeError(w, err)
		return
	}
	verified, err := h.store.CountBeneficiaries(r.Context(), true)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{
		"users":                  users,
		"ceos":                   ceos,
		"beneficiaries":          beneficiaries,
		"verified_beneficiaries": verified,
	})
}
