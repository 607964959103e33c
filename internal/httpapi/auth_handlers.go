package httpapi

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	apperr "github.com/swissgrant/platform/internal/errors"
	"github.com/swissgrant/platform/internal/grant"
	"github.com/swissgrant/platform/internal/middleware"
	"github.com/swissgrant/platform/internal/supabase"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
	Role     string `json:"role"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if !emailPattern.MatchString(req.Email) {
		h.writeError(w, apperr.Validation("a valid email is required"))
		return
	}
	if len(req.Password) < 8 {
		h.writeError(w, apperr.Validation("password must be at least 8 characters"))
		return
	}
	if strings.TrimSpace(req.FullName) == "" {
		h.writeError(w, apperr.Validation("full name is required"))
		return
	}
	switch req.Role {
	case "", "individual":
		req.Role = "individual"
	case "ceo":
	default:
		h.writeError(w, apperr.Validation("role must be individual or ceo"))
		return
	}

	session, err := h.auth.SignUp(r.Context(), supabase.SignUpRequest{
		Email:    req.Email,
		Password: req.Password,
		Data: map[string]interface{}{
			"full_name": req.FullName,
			"phone":     req.Phone,
			"role":      req.Role,
		},
	})
	if err != nil {
		h.writeError(w, apperr.Backend("registration failed", err))
		return
	}
	if session.User == nil {
		h.writeError(w, apperr.Backend("registration failed", nil))
		return
	}

	profile := &grant.Profile{
		UserID:   session.User.ID,
		FullName: req.FullName,
		Role:     req.Role,
	}
	if err := h.store.UpsertProfile(r.Context(), profile); err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"session": session,
		"profile": profile,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	session, err := h.auth.SignInWithPassword(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)), req.Password)
	if err != nil {
		h.writeError(w, apperr.Auth("invalid email or password"))
		return
	}
	writeJSON(w, http.StatusOK, session)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.RefreshToken == "" {
		h.writeError(w, apperr.Validation("refresh token is required"))
		return
	}

	session, err := h.auth.RefreshSession(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeError(w, apperr.Auth("session expired, sign in again"))
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.SignOut(r.Context(), middleware.Token(r.Context())); err != nil {
		h.writeError(w, apperr.Backend("logout failed", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "signed_out"})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())

	profile, err := h.store.GetProfile(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	decision, _ := h.gate.Check(r.Context(), userID)
	if h.metrics != nil {
		h.metrics.GateDecisions.WithLabelValues(string(decision)).Inc()
	}

	resp := map[string]any{
		"profile":  profile,
		"decision": decision,
	}
	// The email lives with the auth provider, not the profile row.
	if h.auth != nil {
		if u, err := h.auth.GetUser(r.Context(), middleware.Token(r.Context())); err == nil {
			resp["email"] = u.Email
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGate(w http.ResponseWriter, r *http.Request) {
	decision, err := h.gate.Check(r.Context(), middleware.UserID(r.Context()))
	if h.metrics != nil {
		h.metrics.GateDecisions.WithLabelValues(string(decision)).Inc()
	}
	resp := map[string]any{"decision": decision, "allowed": decision.Allows()}
	if err != nil {
		resp["error"] = apperr.UserMessage(err)
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// Admin auth
// =============================================================================

type adminLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// handleAdminLogin checks the configured admin credentials and mints a
// short-lived admin token signed with the same secret as user tokens.
func (h *Handler) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req adminLoginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	cfg := h.cfg.Admin
	if cfg.Email == "" || cfg.PasswordHash == "" {
		h.writeError(w, apperr.Auth("admin access is not configured"))
		return
	}
	if !strings.EqualFold(req.Email, cfg.Email) {
		h.writeError(w, apperr.Auth("invalid admin credentials"))
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cfg.PasswordHash), []byte(req.Password)); err != nil {
		h.writeError(w, apperr.Auth("invalid admin credentials"))
		return
	}

	now := time.Now()
	claims := middleware.Claims{
		Email: cfg.Email,
		Role:  "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(2 * time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(h.cfg.Supabase.JWTSecret))
	if err != nil {
		h.writeError(w, apperr.Backend("mint admin token", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "bearer",
		"expires_in":   int((2 * time.Hour).Seconds()),
	})
}

// requireAdmin guards the admin subrouter.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if middleware.Role(r.Context()) != "admin" {
			h.writeError(w, apperr.Auth("admin access required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
