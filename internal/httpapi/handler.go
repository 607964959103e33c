// Package httpapi exposes the gateway's REST surface.
package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/swissgrant/platform/internal/chain"
	"github.com/swissgrant/platform/internal/config"
	"github.com/swissgrant/platform/internal/countdown"
	"github.com/swissgrant/platform/internal/gate"
	"github.com/swissgrant/platform/internal/ledger"
	"github.com/swissgrant/platform/internal/metrics"
	"github.com/swissgrant/platform/internal/middleware"
	"github.com/swissgrant/platform/internal/observer"
	"github.com/swissgrant/platform/internal/pricefeed"
	"github.com/swissgrant/platform/internal/storage"
	"github.com/swissgrant/platform/internal/supabase"
	"github.com/swissgrant/platform/pkg/logger"
)

// Handler wires the REST routes over the domain services.
type Handler struct {
	cfg        *config.Config
	fees       config.FeeSchedule
	store      storage.Store
	auth       *supabase.AuthClient
	bucket     ledger.ReceiptBucket
	gate       *gate.Gate
	reconciler *ledger.Reconciler
	registry   *observer.Registry
	chain      *chain.Client
	countdown  *countdown.Service
	prices     *pricefeed.Cache
	metrics    *metrics.Metrics
	log        *logger.Logger
}

// Deps carries everything the handler needs.
type Deps struct {
	Config     *config.Config
	Store      storage.Store
	Auth       *supabase.AuthClient
	Bucket     ledger.ReceiptBucket
	Gate       *gate.Gate
	Reconciler *ledger.Reconciler
	Registry   *observer.Registry
	Chain      *chain.Client
	Countdown  *countdown.Service
	Prices     *pricefeed.Cache
	Metrics    *metrics.Metrics
	Log        *logger.Logger
}

func New(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	return &Handler{
		cfg:        d.Config,
		fees:       d.Config.Schedule(),
		store:      d.Store,
		auth:       d.Auth,
		bucket:     d.Bucket,
		gate:       d.Gate,
		reconciler: d.Reconciler,
		registry:   d.Registry,
		chain:      d.Chain,
		countdown:  d.Countdown,
		prices:     d.Prices,
		metrics:    d.Metrics,
		log:        log,
	}
}

// Router builds the full route tree with middleware applied.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.CORS(h.cfg.Server.AllowedOrigins))
	r.Use(middleware.Observe(h.metrics, h.log))

	limiter := middleware.NewRateLimiter(h.cfg.Server.RateLimitPerSec, h.cfg.Server.RateLimitBurst)
	r.Use(limiter.Handler)

	// Unauthenticated surface.
	r.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", h.metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/api/auth/register", h.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/login", h.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/refresh", h.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/api/admin/login", h.handleAdminLogin).Methods(http.MethodPost)
	r.HandleFunc("/api/countdown", h.handleCountdown).Methods(http.MethodGet)
	r.HandleFunc("/api/countdown/stream", h.handleCountdownStream).Methods(http.MethodGet)
	r.HandleFunc("/api/price/btc", h.handleBTCPrice).Methods(http.MethodGet)

	// Authenticated surface.
	authMW := middleware.NewAuth(h.cfg.Supabase.JWTSecret, h.log)
	api := r.PathPrefix("/api").Subrouter()
	api.Use(authMW.Handler)

	api.HandleFunc("/auth/logout", h.handleLogout).Methods(http.MethodPost)
	api.HandleFunc("/me", h.handleMe).Methods(http.MethodGet)
	api.HandleFunc("/gate", h.handleGate).Methods(http.MethodGet)

	api.HandleFunc("/payments/fees", h.handleFeeSchedule).Methods(http.MethodGet)
	api.HandleFunc("/payments/watch", h.handleStartWatch).Methods(http.MethodPost)
	api.HandleFunc("/payments/watch", h.handleStopWatch).Methods(http.MethodDelete)
	api.HandleFunc("/payments/submit", h.handleSubmitProof).Methods(http.MethodPost)
	api.HandleFunc("/payments/submissions", h.handleListSubmissions).Methods(http.MethodGet)

	api.HandleFunc("/beneficiaries", h.handleListBeneficiaries).Methods(http.MethodGet)
	api.HandleFunc("/beneficiaries", h.handleCreateBeneficiaries).Methods(http.MethodPost)

	api.HandleFunc("/credentials", h.handleGetCredential).Methods(http.MethodGet)
	api.HandleFunc("/credentials", h.handleUpsertCredential).Methods(http.MethodPost)

	api.HandleFunc("/notifications", h.handleListNotifications).Methods(http.MethodGet)

	// Dashboard surface, locked behind the payment gate.
	gated := api.NewRoute().Subrouter()
	gated.Use(h.gate.Middleware(func(r *http.Request) string {
		return middleware.UserID(r.Context())
	}))
	gated.HandleFunc("/dashboard", h.handleDashboard).Methods(http.MethodGet)
	gated.HandleFunc("/transactions", h.handleListTransactions).Methods(http.MethodGet)
	gated.HandleFunc("/withdrawals", h.handleRequestWithdrawal).Methods(http.MethodPost)

	// Admin surface.
	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(h.requireAdmin)
	admin.HandleFunc("/disbursement", h.handleSetDisbursement).Methods(http.MethodPut)
	admin.HandleFunc("/notifications", h.handleBroadcast).Methods(http.MethodPost)
	admin.HandleFunc("/stats", h.handleAdminStats).Methods(http.MethodGet)

	return r
}
