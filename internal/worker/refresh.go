package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/lakshmishasr24-hub/Smart-Queue/internal/feed"
)

const DefaultRefreshInterval = 10 * time.Second

// Refresher publishes queue.refresh on a schedule so time-based estimates
// re-render without clients polling the store.
type Refresher struct {
	cron     *cron.Cron
	feed     feed.Publisher
	logger   *zap.Logger
	interval time.Duration
	now      func() time.Time
}

func NewRefresher(publisher feed.Publisher, interval time.Duration, logger *zap.Logger) *Refresher {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refresher{
		cron:     cron.New(),
		feed:     publisher,
		logger:   logger,
		interval: interval,
		now:      time.Now,
	}
}

func (r *Refresher) Spec() string {
	return fmt.Sprintf("@every %s", r.interval)
}

func (r *Refresher) Start() error {
	if _, err := r.cron.AddFunc(r.Spec(), r.Tick); err != nil {
		return err
	}
	r.cron.Start()
	r.logger.Info("refresh scheduler started", zap.Duration("interval", r.interval))
	return nil
}

// Stop halts the schedule and waits for a running tick to finish.
func (r *Refresher) Stop() {
	<-r.cron.Stop().Done()
}

func (r *Refresher) Tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.feed.Publish(ctx, feed.RefreshEvent(r.now())); err != nil {
		r.logger.Warn("publish refresh failed", zap.Error(err))
	}
}
