package observer

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/swissgrant/platform/internal/chain"
	"github.com/swissgrant/platform/internal/config"
	apperr "github.com/swissgrant/platform/internal/errors"
	"github.com/swissgrant/platform/internal/grant"
	"github.com/swissgrant/platform/internal/ledger"
	"github.com/swissgrant/platform/internal/metrics"
	"github.com/swissgrant/platform/internal/storage/memory"
	"github.com/swissgrant/platform/internal/supabase"
)

const (
	testUser  = "33333333-3333-3333-3333-333333333333"
	otherUser = "55555555-5555-5555-5555-555555555555"
)

type stubChain struct {
	balance    grant.Amount
	balanceErr error
	block      uint64
	blockErr   error
	logs       []chain.Transfer
	logsErr    error
	calls      int
}

func (s *stubChain) TokenBalance(ctx context.Context, token, holder string) (grant.Amount, error) {
	s.calls++
	return s.balance, s.balanceErr
}

func (s *stubChain) BlockNumber(ctx context.Context) (uint64, error) {
	return s.block, s.blockErr
}

func (s *stubChain) TransferLogs(ctx context.Context, token, to string, fromBlock, toBlock uint64) ([]chain.Transfer, error) {
	return s.logs, s.logsErr
}

type nopBucket struct{}

func (nopBucket) Upload(ctx context.Context, path string, data []byte, opts supabase.UploadOptions) error {
	return nil
}
func (nopBucket) PublicURL(path string) string { return "https://cdn.example.com/" + path }

func testSchedule() config.FeeSchedule {
	return config.FeeSchedule{
		Threshold:                grant.MustAmount("6.2"),
		CEOFee:                   grant.MustAmount("6.70"),
		BeneficiaryFee:           grant.MustAmount("2.00"),
		CEOCommissionBTC:         grant.MustAmount("0.4"),
		BeneficiaryCommissionBTC: grant.MustAmount("0.14"),
	}
}

func newWatcher(t *testing.T, stub *stubChain) (*BalanceWatcher, *memory.Store, *Registry) {
	t.Helper()
	store := memory.New()
	for _, id := range []string{testUser, otherUser} {
		if err := store.UpsertProfile(context.Background(), &grant.Profile{UserID: id}); err != nil {
			t.Fatalf("seed profile: %v", err)
		}
	}
	reconciler := ledger.NewReconciler(store, nopBucket{}, nil, testSchedule(), nil)
	registry := NewRegistry()
	cfg := config.ChainConfig{
		TokenContract:   "0xdac17f958d2ee523a2206206994597c13d831ec7",
		ReceivingWallet: "0x1111111111111111111111111111111111111111",
		PollInterval:    15 * time.Second,
	}
	return NewBalanceWatcher(stub, registry, reconciler, cfg, testSchedule(), nil, nil), store, registry
}

func TestPollSettlesAtThreshold(t *testing.T) {
	stub := &stubChain{balance: grant.MustAmount("6.2")}
	w, store, registry := newWatcher(t, stub)
	registry.Add(&Watch{UserID: testUser, FeeType: grant.FeeCEO, Baseline: 0})

	w.poll(context.Background())

	fee, err := store.GetGasFee(context.Background(), testUser, grant.FeeCEO, "")
	if err != nil {
		t.Fatalf("GetGasFee: %v", err)
	}
	if !fee.Verified {
		t.Fatal("fee not verified at exact threshold")
	}
	if registry.Len() != 0 {
		t.Fatal("watch not removed after settlement")
	}
}

func TestPollIgnoresBelowThreshold(t *testing.T) {
	// One micro-unit under the threshold must not settle.
	stub := &stubChain{balance: grant.MustAmount("6.199999")}
	w, store, registry := newWatcher(t, stub)
	registry.Add(&Watch{UserID: testUser, FeeType: grant.FeeCEO, Baseline: 0})

	w.poll(context.Background())

	if _, err := store.GetGasFee(context.Background(), testUser, grant.FeeCEO, ""); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("fee record created below threshold: %v", err)
	}
	if registry.Len() != 1 {
		t.Fatal("watch dropped without settlement")
	}
}

func TestPollUsesBaseline(t *testing.T) {
	// The wallet held funds before the watch started; only growth counts.
	stub := &stubChain{balance: grant.MustAmount("106.0")}
	w, store, registry := newWatcher(t, stub)
	registry.Add(&Watch{UserID: testUser, FeeType: grant.FeeCEO, Baseline: grant.MustAmount("100.0")})

	w.poll(context.Background())
	if _, err := store.GetGasFee(context.Background(), testUser, grant.FeeCEO, ""); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatal("settled on 6.0 growth, below the 6.2 threshold")
	}

	stub.balance = grant.MustAmount("106.2")
	w.poll(context.Background())
	fee, err := store.GetGasFee(context.Background(), testUser, grant.FeeCEO, "")
	if err != nil || !fee.Verified {
		t.Fatalf("not settled at 6.2 growth: %v", err)
	}
}

func TestPollSettlesOneWatchPerDeposit(t *testing.T) {
	// Two identities watch the shared receiving wallet; one 6.2 payment
	// lands. Only the older watch may settle.
	stub := &stubChain{balance: grant.MustAmount("6.2")}
	w, store, registry := newWatcher(t, stub)

	registry.Add(&Watch{
		UserID: testUser, FeeType: grant.FeeCEO, Baseline: 0,
		StartedAt: time.Now().Add(-time.Minute),
	})
	registry.Add(&Watch{UserID: otherUser, FeeType: grant.FeeCEO, Baseline: 0})

	w.poll(context.Background())

	fee, err := store.GetGasFee(context.Background(), testUser, grant.FeeCEO, "")
	if err != nil || !fee.Verified {
		t.Fatalf("oldest watch not settled: %v", err)
	}
	if _, err := store.GetGasFee(context.Background(), otherUser, grant.FeeCEO, ""); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatal("one deposit verified a second identity's fee")
	}
	if registry.Len() != 1 {
		t.Fatalf("watches left = %d, want the unpaid one", registry.Len())
	}

	// The same balance on later polls must not settle the survivor.
	w.poll(context.Background())
	w.poll(context.Background())
	if _, err := store.GetGasFee(context.Background(), otherUser, grant.FeeCEO, ""); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatal("rebased watch settled without new growth")
	}
}

func TestPollSettlesRebasedWatchOnNewGrowth(t *testing.T) {
	stub := &stubChain{balance: grant.MustAmount("6.2")}
	w, store, registry := newWatcher(t, stub)

	registry.Add(&Watch{
		UserID: testUser, FeeType: grant.FeeCEO, Baseline: 0,
		StartedAt: time.Now().Add(-time.Minute),
	})
	registry.Add(&Watch{UserID: otherUser, FeeType: grant.FeeCEO, Baseline: 0})

	w.poll(context.Background())

	// The second payment arrives on top of the rebased baseline.
	stub.balance = grant.MustAmount("12.4")
	w.poll(context.Background())

	fee, err := store.GetGasFee(context.Background(), otherUser, grant.FeeCEO, "")
	if err != nil || !fee.Verified {
		t.Fatalf("second deposit did not settle the remaining watch: %v", err)
	}
	if registry.Len() != 0 {
		t.Fatal("watch not removed after settlement")
	}
}

func TestPollAttributesBySenderThroughLogs(t *testing.T) {
	// Transfer logs name the payer, so a sender-bound watch settles even
	// when another watch is older.
	txHash := "0x" + "9999999999999999999999999999999999999999999999999999999999999999"
	stub := &stubChain{
		balance: grant.MustAmount("6.2"),
		block:   120,
		logs: []chain.Transfer{{
			TxHash:      txHash,
			From:        "0x2222222222222222222222222222222222222222",
			Value:       grant.MustAmount("6.2"),
			BlockNumber: 118,
		}},
	}
	w, store, registry := newWatcher(t, stub)

	registry.Add(&Watch{
		UserID: testUser, FeeType: grant.FeeCEO, Baseline: 0,
		StartedAt: time.Now().Add(-time.Minute),
	})
	registry.Add(&Watch{
		UserID: otherUser, FeeType: grant.FeeCEO, Baseline: 0,
		SenderWallet: "0x2222222222222222222222222222222222222222",
	})

	w.poll(context.Background())

	fee, err := store.GetGasFee(context.Background(), otherUser, grant.FeeCEO, "")
	if err != nil || !fee.Verified {
		t.Fatalf("sender-bound watch not settled from logs: %v", err)
	}
	if _, err := store.GetGasFee(context.Background(), testUser, grant.FeeCEO, ""); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatal("older watch settled despite log attribution to another sender")
	}

	subs, _ := store.ListSubmissions(context.Background(), otherUser)
	if len(subs) != 1 || subs[0].TxHash != txHash {
		t.Fatalf("submissions = %+v, want one carrying the log's hash", subs)
	}
}

func TestPollFallsBackWhenLogsUnavailable(t *testing.T) {
	stub := &stubChain{
		balance: grant.MustAmount("6.2"),
		logsErr: apperr.Chain("eth_getLogs", context.DeadlineExceeded),
	}
	w, store, registry := newWatcher(t, stub)
	registry.Add(&Watch{UserID: testUser, FeeType: grant.FeeCEO, Baseline: 0})

	w.poll(context.Background())

	fee, err := store.GetGasFee(context.Background(), testUser, grant.FeeCEO, "")
	if err != nil || !fee.Verified {
		t.Fatalf("not settled when logs are unavailable: %v", err)
	}
	if registry.Len() != 0 {
		t.Fatal("watch not removed")
	}
}

func TestPollRetriesAfterRPCError(t *testing.T) {
	stub := &stubChain{balanceErr: apperr.Chain("eth_call", context.DeadlineExceeded)}
	w, store, registry := newWatcher(t, stub)
	registry.Add(&Watch{UserID: testUser, FeeType: grant.FeeCEO, Baseline: 0})

	w.poll(context.Background())

	// Failure leaves the watch in place and settles nothing.
	if registry.Len() != 1 {
		t.Fatal("watch dropped on RPC failure")
	}
	if _, err := store.GetGasFee(context.Background(), testUser, grant.FeeCEO, ""); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatal("fee record written on RPC failure")
	}

	// Recovery on a later tick settles normally.
	stub.balanceErr = nil
	stub.balance = grant.MustAmount("6.2")
	w.poll(context.Background())
	fee, err := store.GetGasFee(context.Background(), testUser, grant.FeeCEO, "")
	if err != nil || !fee.Verified {
		t.Fatalf("not settled after recovery: %v", err)
	}
}

func TestPollCountsRPCErrors(t *testing.T) {
	stub := &stubChain{balanceErr: apperr.Chain("eth_call", context.DeadlineExceeded)}
	w, _, registry := newWatcher(t, stub)
	w.metrics = metrics.New()
	registry.Add(&Watch{UserID: testUser, FeeType: grant.FeeCEO, Baseline: 0})

	w.poll(context.Background())
	w.poll(context.Background())

	if got := testutil.ToFloat64(w.metrics.ChainPollErrors); got != 2 {
		t.Fatalf("chain_poll_errors_total = %v, want 2", got)
	}
}

func TestPollSkipsChainCallWithoutWatches(t *testing.T) {
	stub := &stubChain{balance: grant.MustAmount("100")}
	w, _, _ := newWatcher(t, stub)

	w.poll(context.Background())
	if stub.calls != 0 {
		t.Fatalf("balance polled %d times with no watches, want 0", stub.calls)
	}
}
