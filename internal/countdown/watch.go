package countdown

import (
	"context"
	"time"

	"github.com/tidwall/gjson"

	"github.com/swissgrant/platform/internal/supabase"
	"github.com/swissgrant/platform/pkg/logger"
)

// ChangeFeed is the slice of the realtime client the watcher needs.
type ChangeFeed interface {
	Connect(ctx context.Context) error
	Subscribe(table string, handler supabase.ChangeHandler) error
	Close() error
}

var _ ChangeFeed = (*supabase.RealtimeClient)(nil)

// Watcher follows settings changes over the realtime feed so a disbursement
// date edited directly in the backend is picked up without a restart.
type Watcher struct {
	feed ChangeFeed
	log  *logger.Logger
}

func NewWatcher(feed ChangeFeed, log *logger.Logger) *Watcher {
	if log == nil {
		log = logger.NewDefault("countdown.watch")
	}
	return &Watcher{feed: feed, log: log}
}

func (w *Watcher) Name() string { return "countdown-watcher" }

func (w *Watcher) Start(ctx context.Context) error {
	if err := w.feed.Connect(ctx); err != nil {
		return err
	}
	return w.feed.Subscribe("settings", w.handle)
}

func (w *Watcher) Stop(ctx context.Context) error {
	return w.feed.Close()
}

func (w *Watcher) handle(e supabase.ChangeEvent) {
	date := gjson.GetBytes(e.Record, "disbursement_date").String()
	if date == "" {
		return
	}
	if _, err := time.Parse(time.RFC3339, date); err != nil {
		w.log.Warn("settings change carried an unparseable disbursement date %q", date)
		return
	}
	w.log.Info("disbursement date changed to %s (%s)", date, e.Type)
}
