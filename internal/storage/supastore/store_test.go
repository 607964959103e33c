package supastore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "github.com/swissgrant/platform/internal/errors"
	"github.com/swissgrant/platform/internal/grant"
	"github.com/swissgrant/platform/internal/storage"
	"github.com/swissgrant/platform/internal/supabase"
)

const testUser = "11111111-1111-1111-1111-111111111111"

// route matches one PostgREST call by method and table path.
type route struct {
	method       string
	status       int
	body         any
	contentRange string
}

func newTestStore(t *testing.T, routes map[string][]route) *Store {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		pending := routes[key]
		require.NotEmptyf(t, pending, "unexpected request %s", key)
		next := pending[0]
		routes[key] = pending[1:]

		w.Header().Set("Content-Type", "application/json")
		if next.contentRange != "" {
			w.Header().Set("Content-Range", next.contentRange)
		}
		w.WriteHeader(next.status)
		if next.body != nil {
			json.NewEncoder(w).Encode(next.body)
		}
	}))
	t.Cleanup(srv.Close)

	client, err := supabase.NewClient(supabase.Config{
		ProjectURL: srv.URL,
		AnonKey:    "anon",
		ServiceKey: "service",
		Timeout:    time.Second,
	})
	require.NoError(t, err)
	return New(client)
}

func TestGetProfileMapsNotFound(t *testing.T) {
	s := newTestStore(t, map[string][]route{
		"GET /rest/v1/users": {{
			status: http.StatusNotAcceptable,
			body:   map[string]string{"code": "PGRST116", "message": "no rows"},
		}},
	})

	_, err := s.GetProfile(context.Background(), testUser)
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "err = %v", err)
}

func TestCreateSubmissionMapsConflict(t *testing.T) {
	s := newTestStore(t, map[string][]route{
		"POST /rest/v1/payment_submissions": {{
			status: http.StatusConflict,
			body:   map[string]string{"code": "23505", "message": "duplicate key"},
		}},
	})

	err := s.CreateSubmission(context.Background(), &grant.Submission{
		UserID:  testUser,
		FeeType: grant.FeeCEO,
		TxHash:  "0xabc",
	})
	assert.True(t, storage.IsDuplicate(err), "err = %v", err)
}

func TestUpsertGasFeePreservesForwardFlags(t *testing.T) {
	existing := grant.GasFeeRecord{
		ID:        "fee-1",
		UserID:    testUser,
		Type:      grant.FeeCEO,
		Deposited: true,
		Verified:  true,
		CreatedAt: time.Now().Add(-time.Hour),
	}
	s := newTestStore(t, map[string][]route{
		"GET /rest/v1/gas_fees":  {{status: http.StatusOK, body: existing}},
		"POST /rest/v1/gas_fees": {{status: http.StatusCreated}},
	})

	// The incoming record clears both flags; the stored state must win.
	rec := &grant.GasFeeRecord{UserID: testUser, Type: grant.FeeCEO}
	require.NoError(t, s.UpsertGasFee(context.Background(), rec))
	assert.Equal(t, "fee-1", rec.ID)
	assert.True(t, rec.Deposited)
	assert.True(t, rec.Verified)
}

func TestUpsertGasFeeCreatesWhenMissing(t *testing.T) {
	s := newTestStore(t, map[string][]route{
		"GET /rest/v1/gas_fees": {{
			status: http.StatusNotAcceptable,
			body:   map[string]string{"code": "PGRST116", "message": "no rows"},
		}},
		"POST /rest/v1/gas_fees": {{status: http.StatusCreated}},
	})

	rec := &grant.GasFeeRecord{UserID: testUser, Type: grant.FeeCEO, Verified: true}
	require.NoError(t, s.UpsertGasFee(context.Background(), rec))
	assert.NotEmpty(t, rec.ID)
	assert.True(t, rec.Deposited, "verified must imply deposited")
}

func TestUpsertGasFeeValidatesInput(t *testing.T) {
	s := newTestStore(t, nil)

	err := s.UpsertGasFee(context.Background(), &grant.GasFeeRecord{Type: grant.FeeCEO})
	assert.True(t, apperr.Is(err, apperr.KindValidation), "err = %v", err)
}

func TestGetDisbursementEmptyTable(t *testing.T) {
	s := newTestStore(t, map[string][]route{
		"GET /rest/v1/settings": {{status: http.StatusOK, body: []grant.DisbursementSetting{}}},
	})

	_, err := s.GetDisbursement(context.Background())
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "err = %v", err)
}

func TestListNotificationsMergesBroadcastAndPersonal(t *testing.T) {
	s := newTestStore(t, map[string][]route{
		"GET /rest/v1/notifications": {
			{status: http.StatusOK, body: []grant.Notification{{ID: "b1", Message: "welcome"}}},
			{status: http.StatusOK, body: []grant.Notification{{ID: "p1", UserID: testUser, Message: "posted"}}},
		},
	})

	out, err := s.ListNotifications(context.Background(), testUser, 10)
	require.NoError(t, err)
	require.Len(t, out, 2)
}

func TestListNotificationsOrdersMergedTimeline(t *testing.T) {
	now := time.Now().UTC()
	s := newTestStore(t, map[string][]route{
		"GET /rest/v1/notifications": {
			// Broadcast rows are older than the newest personal row but newer
			// than the oldest one, so a naive concatenation is out of order.
			{status: http.StatusOK, body: []grant.Notification{
				{ID: "b1", Message: "welcome", CreatedAt: now.Add(-30 * time.Minute)},
			}},
			{status: http.StatusOK, body: []grant.Notification{
				{ID: "p2", UserID: testUser, Message: "fee verified", CreatedAt: now},
				{ID: "p1", UserID: testUser, Message: "fee pending", CreatedAt: now.Add(-time.Hour)},
			}},
		},
	})

	out, err := s.ListNotifications(context.Background(), testUser, 10)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, []string{"p2", "b1", "p1"}, []string{out[0].ID, out[1].ID, out[2].ID},
		"merged feed must be newest first")
}

func TestListNotificationsLimitAfterMerge(t *testing.T) {
	now := time.Now().UTC()
	s := newTestStore(t, map[string][]route{
		"GET /rest/v1/notifications": {
			{status: http.StatusOK, body: []grant.Notification{
				{ID: "b1", Message: "welcome", CreatedAt: now},
			}},
			{status: http.StatusOK, body: []grant.Notification{
				{ID: "p1", UserID: testUser, Message: "posted", CreatedAt: now.Add(-time.Minute)},
			}},
		},
	})

	out, err := s.ListNotifications(context.Background(), testUser, 1)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "b1", out[0].ID)
}

func TestCountProfiles(t *testing.T) {
	s := newTestStore(t, map[string][]route{
		"GET /rest/v1/users": {
			{status: http.StatusOK, contentRange: "0-0/42", body: []grant.Profile{}},
			{status: http.StatusOK, contentRange: "0-0/7", body: []grant.Profile{}},
		},
	})

	n, err := s.CountProfiles(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	n, err = s.CountProfiles(context.Background(), "ceo")
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestCountBeneficiariesVerifiedOnly(t *testing.T) {
	s := newTestStore(t, map[string][]route{
		"GET /rest/v1/beneficiaries": {
			{status: http.StatusOK, contentRange: "0-0/5", body: []grant.Beneficiary{}},
		},
	})

	n, err := s.CountBeneficiaries(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestDeleteSubmission(t *testing.T) {
	s := newTestStore(t, map[string][]route{
		"DELETE /rest/v1/payment_submissions": {{status: http.StatusNoContent}},
	})

	require.NoError(t, s.DeleteSubmission(context.Background(), "sub-1"))
}
