package memory

import (
	"context"
	"testing"

	apperr "github.com/swissgrant/platform/internal/errors"
	"github.com/swissgrant/platform/internal/grant"
	"github.com/swissgrant/platform/internal/storage"
)

const testUser = "11111111-1111-1111-1111-111111111111"

func TestUpsertGasFeeFlagsOnlyMoveForward(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.UpsertGasFee(ctx, &grant.GasFeeRecord{
		UserID: testUser, Type: grant.FeeCEO, Deposited: true, Verified: true,
	}); err != nil {
		t.Fatalf("UpsertGasFee: %v", err)
	}

	// A later upsert with cleared flags must not regress the record.
	if err := s.UpsertGasFee(ctx, &grant.GasFeeRecord{
		UserID: testUser, Type: grant.FeeCEO,
	}); err != nil {
		t.Fatalf("UpsertGasFee: %v", err)
	}

	rec, err := s.GetGasFee(ctx, testUser, grant.FeeCEO, "")
	if err != nil {
		t.Fatalf("GetGasFee: %v", err)
	}
	if !rec.Deposited || !rec.Verified {
		t.Fatalf("record regressed: %+v", rec)
	}
}

func TestUpsertGasFeeVerifiedImpliesDeposited(t *testing.T) {
	s := New()
	if err := s.UpsertGasFee(context.Background(), &grant.GasFeeRecord{
		UserID: testUser, Type: grant.FeeCEO, Verified: true,
	}); err != nil {
		t.Fatalf("UpsertGasFee: %v", err)
	}
	rec, _ := s.GetGasFee(context.Background(), testUser, grant.FeeCEO, "")
	if !rec.Deposited {
		t.Fatal("verified record not marked deposited")
	}
}

func TestGasFeeKeyedPerBeneficiary(t *testing.T) {
	s := New()
	ctx := context.Background()

	for _, id := range []string{"", "ben-1", "ben-2"} {
		if err := s.UpsertGasFee(ctx, &grant.GasFeeRecord{
			UserID: testUser, Type: grant.FeeBeneficiary, BeneficiaryID: id,
		}); err != nil {
			t.Fatalf("UpsertGasFee(%q): %v", id, err)
		}
	}

	fees, err := s.ListGasFees(ctx, testUser)
	if err != nil {
		t.Fatalf("ListGasFees: %v", err)
	}
	if len(fees) != 3 {
		t.Fatalf("got %d fee rows, want 3 distinct keys", len(fees))
	}
}

func TestCreateSubmissionRejectsDuplicate(t *testing.T) {
	s := New()
	ctx := context.Background()
	hash := "0x" + "ab"

	sub := grant.Submission{UserID: testUser, FeeType: grant.FeeCEO, TxHash: hash}
	if err := s.CreateSubmission(ctx, &sub); err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}

	dup := grant.Submission{UserID: testUser, FeeType: grant.FeeCEO, TxHash: hash}
	if err := s.CreateSubmission(ctx, &dup); !storage.IsDuplicate(err) {
		t.Fatalf("err = %v, want duplicate", err)
	}

	// The same hash against a different fee key is a distinct row.
	other := grant.Submission{UserID: testUser, FeeType: grant.FeeBeneficiary, BeneficiaryID: "ben-1", TxHash: hash}
	if err := s.CreateSubmission(ctx, &other); err != nil {
		t.Fatalf("CreateSubmission distinct key: %v", err)
	}
}

func TestDeleteSubmissionReleasesHash(t *testing.T) {
	s := New()
	ctx := context.Background()
	hash := "0x" + "cd"

	sub := grant.Submission{UserID: testUser, FeeType: grant.FeeCEO, TxHash: hash}
	if err := s.CreateSubmission(ctx, &sub); err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}
	if err := s.DeleteSubmission(ctx, sub.ID); err != nil {
		t.Fatalf("DeleteSubmission: %v", err)
	}

	// The tuple is free again after deletion.
	again := grant.Submission{UserID: testUser, FeeType: grant.FeeCEO, TxHash: hash}
	if err := s.CreateSubmission(ctx, &again); err != nil {
		t.Fatalf("CreateSubmission after delete: %v", err)
	}

	if err := s.DeleteSubmission(ctx, "missing"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestCounts(t *testing.T) {
	s := New()
	ctx := context.Background()

	for _, p := range []grant.Profile{
		{UserID: "u1", Role: "ceo"},
		{UserID: "u2", Role: "ceo"},
		{UserID: "u3", Role: "individual"},
	} {
		p := p
		if err := s.UpsertProfile(ctx, &p); err != nil {
			t.Fatalf("UpsertProfile: %v", err)
		}
	}
	batch := []grant.Beneficiary{
		{UserID: "u1", FullName: "A"},
		{UserID: "u1", FullName: "B"},
	}
	if err := s.CreateBeneficiaries(ctx, batch); err != nil {
		t.Fatalf("CreateBeneficiaries: %v", err)
	}
	if err := s.MarkBeneficiariesVerified(ctx, []string{batch[0].ID}); err != nil {
		t.Fatalf("MarkBeneficiariesVerified: %v", err)
	}

	cases := []struct {
		name string
		got  func() (int, error)
		want int
	}{
		{"all profiles", func() (int, error) { return s.CountProfiles(ctx, "") }, 3},
		{"ceo profiles", func() (int, error) { return s.CountProfiles(ctx, "ceo") }, 2},
		{"all beneficiaries", func() (int, error) { return s.CountBeneficiaries(ctx, false) }, 2},
		{"verified beneficiaries", func() (int, error) { return s.CountBeneficiaries(ctx, true) }, 1},
	}
	for _, tc := range cases {
		n, err := tc.got()
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if n != tc.want {
			t.Errorf("%s = %d, want %d", tc.name, n, tc.want)
		}
	}
}

func TestSetHasPaid(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.SetHasPaid(ctx, testUser, true); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("err = %v, want not found without profile", err)
	}

	if err := s.UpsertProfile(ctx, &grant.Profile{UserID: testUser}); err != nil {
		t.Fatalf("UpsertProfile: %v", err)
	}
	if err := s.SetHasPaid(ctx, testUser, true); err != nil {
		t.Fatalf("SetHasPaid: %v", err)
	}
	p, _ := s.GetProfile(ctx, testUser)
	if !p.HasPaid {
		t.Fatal("has_paid not set")
	}
}

func TestMarkBeneficiariesVerified(t *testing.T) {
	s := New()
	ctx := context.Background()

	batch := []grant.Beneficiary{
		{UserID: testUser, FullName: "A"},
		{UserID: testUser, FullName: "B"},
	}
	if err := s.CreateBeneficiaries(ctx, batch); err != nil {
		t.Fatalf("CreateBeneficiaries: %v", err)
	}

	listed, _ := s.ListBeneficiaries(ctx, testUser)
	if len(listed) != 2 {
		t.Fatalf("got %d beneficiaries", len(listed))
	}

	ids := []string{listed[0].ID, listed[1].ID}
	if err := s.MarkBeneficiariesVerified(ctx, ids); err != nil {
		t.Fatalf("MarkBeneficiariesVerified: %v", err)
	}
	for _, id := range ids {
		b, _ := s.GetBeneficiary(ctx, id)
		if !b.PaymentVerified {
			t.Fatalf("beneficiary %s not verified", id)
		}
	}

	if err := s.MarkBeneficiariesVerified(ctx, []string{"missing"}); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestListNotificationsMergesBroadcast(t *testing.T) {
	s := New()
	ctx := context.Background()

	for _, n := range []grant.Notification{
		{Message: "welcome"},                          // broadcast
		{UserID: testUser, Message: "payment posted"}, // personal
		{UserID: "someone-else", Message: "private"},
	} {
		n := n
		if err := s.CreateNotification(ctx, &n); err != nil {
			t.Fatalf("CreateNotification: %v", err)
		}
	}

	out, err := s.ListNotifications(ctx, testUser, 10)
	if err != nil {
		t.Fatalf("ListNotifications: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d notifications, want broadcast plus personal", len(out))
	}
	for _, n := range out {
		if n.Message == "private" {
			t.Fatal("leaked another user's notification")
		}
	}

	limited, _ := s.ListNotifications(ctx, testUser, 1)
	if len(limited) != 1 {
		t.Fatalf("limit ignored: %d", len(limited))
	}
}
