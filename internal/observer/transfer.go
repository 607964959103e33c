package observer

import (
	"context"
	"sync"

	"github.com/swissgrant/platform/internal/chain"
	"github.com/swissgrant/platform/internal/config"
	"github.com/swissgrant/platform/internal/grant"
	"github.com/swissgrant/platform/internal/ledger"
	"github.com/swissgrant/platform/pkg/logger"
)

// TransferSource is the slice of the chain subscription the watcher needs.
type TransferSource interface {
	Connect(ctx context.Context) error
	Events() <-chan chain.Transfer
	Close() error
}

var _ TransferSource = (*chain.Subscription)(nil)

// TransferWatcher settles watches from streamed transfer events into the
// receiving wallet. It complements the balance poller: a matched event
// carries the transaction hash, a balance match does not.
type TransferWatcher struct {
	source     TransferSource
	registry   *Registry
	reconciler *ledger.Reconciler
	fees       config.FeeSchedule
	log        *logger.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewTransferWatcher(source TransferSource, registry *Registry, reconciler *ledger.Reconciler, fees config.FeeSchedule, log *logger.Logger) *TransferWatcher {
	if log == nil {
		log = logger.NewDefault("observer.transfer")
	}
	return &TransferWatcher{
		source:     source,
		registry:   registry,
		reconciler: reconciler,
		fees:       fees,
		log:        log,
	}
}

func (w *TransferWatcher) Name() string { return "transfer-watcher" }

func (w *TransferWatcher) Start(ctx context.Context) error {
	if err := w.source.Connect(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	w.wg.Add(1)
	go w.run(runCtx)
	return nil
}

func (w *TransferWatcher) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}
	err := w.source.Close()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

func (w *TransferWatcher) run(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-w.source.Events():
			if !ok {
				w.log.Warn("transfer subscription closed; balance polling continues")
				return
			}
			w.handle(ctx, t)
		}
	}
}

func (w *TransferWatcher) required(watch *Watch) grant.Amount {
	if watch.FeeType == grant.FeeCEO {
		return w.fees.Threshold
	}
	return w.fees.FeeAmount(watch.FeeType, len(watch.BeneficiaryIDs))
}

// handle matches the event to at most one watch.
func (w *TransferWatcher) handle(ctx context.Context, t chain.Transfer) {
	match := matchWatch(w.registry.Snapshot(), t, w.required)
	if match == nil {
		return
	}

	res, err := w.reconciler.VerifyDetected(ctx, match.UserID, match.FeeType, match.BeneficiaryIDs, t.TxHash)
	if err != nil {
		w.log.Err(err, "settle failed for user %s (tx %s)", match.UserID, t.TxHash)
		return
	}
	w.registry.Remove(match.UserID, match.FeeType)
	if !res.AlreadyVerified {
		w.log.Info("payment detected by transfer %s for user %s (%s)", t.TxHash, match.UserID, match.FeeType)
	}
}
