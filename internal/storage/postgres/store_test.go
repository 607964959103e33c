package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	apperr "github.com/swissgrant/platform/internal/errors"
	"github.com/swissgrant/platform/internal/grant"
	"github.com/swissgrant/platform/internal/storage"
)

const testUser = "11111111-1111-1111-1111-111111111111"

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	store := NewWithDB(sqlx.NewDb(db, "postgres"))
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		store.Close()
	})
	return store, mock
}

func TestGetProfile(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"user_id", "full_name", "role", "wallet_address", "has_paid", "created_at"}).
		AddRow(testUser, "Ada Obi", "ceo", "", true, time.Now())
	mock.ExpectQuery(`(?s)SELECT .+ FROM users WHERE user_id = \$1`).
		WithArgs(testUser).
		WillReturnRows(rows)

	p, err := store.GetProfile(context.Background(), testUser)
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if p.FullName != "Ada Obi" || !p.HasPaid {
		t.Fatalf("profile = %+v", p)
	}
}

func TestGetProfileNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`(?s)SELECT .+ FROM users WHERE user_id = \$1`).
		WithArgs(testUser).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}))

	_, err := store.GetProfile(context.Background(), testUser)
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestUpsertGasFeeConflictTarget(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "user_id", "type", "beneficiary_id", "deposited", "verified", "created_at", "updated_at"}).
		AddRow("fee-1", testUser, "ceo_gas_fee", "", true, true, now, now)
	// The conflict target must match the expression unique index.
	mock.ExpectQuery(`(?s)INSERT INTO gas_fees .+ ON CONFLICT \(user_id, type, COALESCE\(beneficiary_id, '00000000-0000-0000-0000-000000000000'::uuid\)\) DO UPDATE`).
		WithArgs(sqlmock.AnyArg(), testUser, "ceo_gas_fee", "", true, true, sqlmock.AnyArg()).
		WillReturnRows(rows)

	rec := &grant.GasFeeRecord{UserID: testUser, Type: grant.FeeCEO, Verified: true}
	if err := store.UpsertGasFee(context.Background(), rec); err != nil {
		t.Fatalf("UpsertGasFee: %v", err)
	}
	if !rec.Deposited || !rec.Verified {
		t.Fatalf("record = %+v, want flags from returned row", rec)
	}
}

func TestUpsertGasFeeRejectsInvalid(t *testing.T) {
	store, _ := newMockStore(t)

	err := store.UpsertGasFee(context.Background(), &grant.GasFeeRecord{Type: grant.FeeCEO})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
	err = store.UpsertGasFee(context.Background(), &grant.GasFeeRecord{UserID: testUser, Type: "other"})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
}

func TestCreateSubmissionDuplicate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO payment_submissions`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "uq_payment_submissions_key"})

	err := store.CreateSubmission(context.Background(), &grant.Submission{
		UserID:  testUser,
		FeeType: grant.FeeCEO,
		TxHash:  "0xabc",
	})
	if !storage.IsDuplicate(err) {
		t.Fatalf("err = %v, want duplicate", err)
	}
}

func TestDeleteSubmission(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`DELETE FROM payment_submissions WHERE id = \$1`).
		WithArgs("sub-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.DeleteSubmission(context.Background(), "sub-1"); err != nil {
		t.Fatalf("DeleteSubmission: %v", err)
	}
}

func TestDeleteSubmissionNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`DELETE FROM payment_submissions WHERE id = \$1`).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.DeleteSubmission(context.Background(), "missing")
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestCounts(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM users$`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM users WHERE role = \$1`).
		WithArgs("ceo").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM beneficiaries$`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM beneficiaries WHERE payment_verified`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	if n, err := store.CountProfiles(ctx, ""); err != nil || n != 7 {
		t.Fatalf("CountProfiles(all) = %d, %v", n, err)
	}
	if n, err := store.CountProfiles(ctx, "ceo"); err != nil || n != 3 {
		t.Fatalf("CountProfiles(ceo) = %d, %v", n, err)
	}
	if n, err := store.CountBeneficiaries(ctx, false); err != nil || n != 12 {
		t.Fatalf("CountBeneficiaries(all) = %d, %v", n, err)
	}
	if n, err := store.CountBeneficiaries(ctx, true); err != nil || n != 5 {
		t.Fatalf("CountBeneficiaries(verified) = %d, %v", n, err)
	}
}

func TestCreateBeneficiariesTransaction(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO beneficiaries`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO beneficiaries`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	batch := []grant.Beneficiary{
		{UserID: testUser, FullName: "A"},
		{UserID: testUser, FullName: "B"},
	}
	if err := store.CreateBeneficiaries(context.Background(), batch); err != nil {
		t.Fatalf("CreateBeneficiaries: %v", err)
	}
	if batch[0].ID == "" || batch[1].ID == "" {
		t.Fatal("ids not assigned")
	}
}

func TestCreateBeneficiariesRollsBack(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO beneficiaries`).
		WillReturnError(&pq.Error{Code: "23502"})
	mock.ExpectRollback()

	err := store.CreateBeneficiaries(context.Background(), []grant.Beneficiary{{UserID: testUser}})
	if !apperr.Is(err, apperr.KindBackend) {
		t.Fatalf("err = %v, want backend", err)
	}
}

func TestMarkBeneficiariesVerified(t *testing.T) {
	store, mock := newMockStore(t)

	ids := []string{"ben-1", "ben-2"}
	mock.ExpectExec(`UPDATE beneficiaries SET payment_verified = TRUE WHERE id = ANY\(\$1\)`).
		WithArgs(pq.Array(ids)).
		WillReturnResult(sqlmock.NewResult(0, 2))

	if err := store.MarkBeneficiariesVerified(context.Background(), ids); err != nil {
		t.Fatalf("MarkBeneficiariesVerified: %v", err)
	}

	// Empty input issues no query at all.
	if err := store.MarkBeneficiariesVerified(context.Background(), nil); err != nil {
		t.Fatalf("MarkBeneficiariesVerified(nil): %v", err)
	}
}

func TestSetHasPaidNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE users SET has_paid = \$2 WHERE user_id = \$1`).
		WithArgs(testUser, true).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.SetHasPaid(context.Background(), testUser, true)
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestListNotificationsIncludesBroadcast(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "user_id", "message", "created_at"}).
		AddRow("n1", "", "welcome", time.Now()).
		AddRow("n2", testUser, "payment posted", time.Now())
	mock.ExpectQuery(`FROM notifications\s+WHERE user_id IS NULL OR user_id = \$1`).
		WithArgs(testUser, 50).
		WillReturnRows(rows)

	// A non-positive limit falls back to the default page size.
	out, err := store.ListNotifications(context.Background(), testUser, 0)
	if err != nil {
		t.Fatalf("ListNotifications: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d notifications", len(out))
	}
}
