package observer

import (
	"context"
	"sync"
	"time"

	"github.com/swissgrant/platform/internal/chain"
	"github.com/swissgrant/platform/internal/config"
	"github.com/swissgrant/platform/internal/grant"
	"github.com/swissgrant/platform/internal/ledger"
	"github.com/swissgrant/platform/internal/metrics"
	"github.com/swissgrant/platform/pkg/logger"
)

// logLookback bounds the first log scan when no previous poll height is
// known (~10 minutes of blocks).
const logLookback = 40

// ChainReader is the slice of the chain client the poller needs.
type ChainReader interface {
	TokenBalance(ctx context.Context, token, holder string) (grant.Amount, error)
	BlockNumber(ctx context.Context) (uint64, error)
	TransferLogs(ctx context.Context, token, to string, fromBlock, toBlock uint64) ([]chain.Transfer, error)
}

var _ ChainReader = (*chain.Client)(nil)

// BalanceWatcher polls the receiving wallet's token balance. A balance that
// grew by at least one watch's required amount triggers settlement, but a
// single deposit settles at most one watch: transfer logs attribute the
// payment to its sender when possible, otherwise the oldest covering watch
// wins and every remaining watch is rebased to the new balance. RPC failures
// log and retry on the next tick; they never settle anything.
type BalanceWatcher struct {
	chain      ChainReader
	registry   *Registry
	reconciler *ledger.Reconciler
	fees       config.FeeSchedule
	metrics    *metrics.Metrics

	token     string
	wallet    string
	interval  time.Duration
	lastBlock uint64
	log       *logger.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewBalanceWatcher(chain ChainReader, registry *Registry, reconciler *ledger.Reconciler, cfg config.ChainConfig, fees config.FeeSchedule, m *metrics.Metrics, log *logger.Logger) *BalanceWatcher {
	if log == nil {
		log = logger.NewDefault("observer.balance")
	}
	return &BalanceWatcher{
		chain:      chain,
		registry:   registry,
		reconciler: reconciler,
		fees:       fees,
		metrics:    m,
		token:      cfg.TokenContract,
		wallet:     cfg.ReceivingWallet,
		interval:   cfg.PollInterval,
		log:        log,
	}
}

func (w *BalanceWatcher) Name() string { return "balance-watcher" }

func (w *BalanceWatcher) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	w.wg.Add(1)
	go w.run(runCtx)
	return nil
}

func (w *BalanceWatcher) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *BalanceWatcher) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

// required returns the balance growth that settles a watch: the payment
// threshold for the CEO fee, the batch fee for beneficiaries.
func (w *BalanceWatcher) required(watch *Watch) grant.Amount {
	if watch.FeeType == grant.FeeCEO {
		return w.fees.Threshold
	}
	return w.fees.FeeAmount(watch.FeeType, len(watch.BeneficiaryIDs))
}

func (w *BalanceWatcher) poll(ctx context.Context) {
	if w.registry.Len() == 0 {
		return
	}

	balance, err := w.chain.TokenBalance(ctx, w.token, w.wallet)
	if err != nil {
		if w.metrics != nil {
			w.metrics.ChainPollErrors.Inc()
		}
		w.log.Err(err, "balance poll failed, retrying next tick")
		return
	}

	covered := false
	for _, watch := range w.registry.Snapshot() {
		if balance-watch.Baseline >= w.required(watch) {
			covered = true
			break
		}
	}
	if !covered {
		return
	}

	if !w.settleByLogs(ctx) {
		w.settleOldest(ctx, balance)
	}

	// The deposit is spent; the survivors start over from the new balance.
	w.registry.Rebase(balance)
}

// settleByLogs attributes the growth through transfer logs, settling each
// matched event's watch with its transaction hash. Reports whether anything
// settled.
func (w *BalanceWatcher) settleByLogs(ctx context.Context) bool {
	latest, err := w.chain.BlockNumber(ctx)
	if err != nil {
		w.log.Err(err, "block height unavailable, settling without attribution")
		return false
	}
	from := w.lastBlock + 1
	if w.lastBlock == 0 && latest > logLookback {
		from = latest - logLookback
	}

	logs, err := w.chain.TransferLogs(ctx, w.token, w.wallet, from, latest)
	if err != nil {
		w.log.Err(err, "transfer logs unavailable, settling without attribution")
		return false
	}
	w.lastBlock = latest

	settled := false
	for _, t := range logs {
		match := matchWatch(w.registry.Snapshot(), t, w.required)
		if match == nil {
			continue
		}
		res, err := w.reconciler.VerifyDetected(ctx, match.UserID, match.FeeType, match.BeneficiaryIDs, t.TxHash)
		if err != nil {
			w.log.Err(err, "settle failed for user %s (tx %s)", match.UserID, t.TxHash)
			continue
		}
		w.registry.Remove(match.UserID, match.FeeType)
		settled = true
		if !res.AlreadyVerified {
			w.log.Info("payment detected by transfer log %s for user %s (%s)",
				t.TxHash, match.UserID, match.FeeType)
		}
	}
	return settled
}

// settleOldest is the fallback when logs cannot attribute the deposit: the
// oldest watch the growth covers settles, without a transaction hash.
func (w *BalanceWatcher) settleOldest(ctx context.Context, balance grant.Amount) {
	var match *Watch
	for _, watch := range w.registry.Snapshot() {
		if balance-watch.Baseline < w.required(watch) {
			continue
		}
		if match == nil || watch.StartedAt.Before(match.StartedAt) {
			match = watch
		}
	}
	if match == nil {
		return
	}

	res, err := w.reconciler.VerifyDetected(ctx, match.UserID, match.FeeType, match.BeneficiaryIDs, "")
	if err != nil {
		w.log.Err(err, "settle failed for user %s", match.UserID)
		return
	}
	w.registry.Remove(match.UserID, match.FeeType)
	if !res.AlreadyVerified {
		w.log.Info("payment detected by balance growth %s for user %s (%s)",
			balance-match.Baseline, match.UserID, match.FeeType)
	}
}
