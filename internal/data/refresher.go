package data

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// GuideRefresher refreshes the guide with the currently applied settings.
type GuideRefresher interface {
	RefreshGuide(ctx context.Context) error
}

// Refresher periodically refreshes the guide.
type Refresher struct {
	log      logrus.FieldLogger
	target   GuideRefresher
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRefresher creates a new guide refresher.
func NewRefresher(log logrus.FieldLogger, target GuideRefresher, interval time.Duration) *Refresher {
	return &Refresher{
		log:      log.WithField("component", "refresher"),
		target:   target,
		interval: interval,
	}
}

// Start begins the refresh loop. A non-positive interval disables it.
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil || r.interval <= 0 {
		return nil
	}

	refreshCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.run(refreshCtx, r.done)

	r.log.WithField("interval", r.interval).Info("Guide refresher started")

	return nil
}

// Stop stops the refresh loop.
func (r *Refresher) Stop() error {
	r.mu.Lock()
	cancel := r.cancel
	done := r.done
	r.cancel = nil
	r.done = nil
	r.mu.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()

	if done != nil {
		<-done
	}

	r.log.Info("Guide refresher stopped")

	return nil
}

func (r *Refresher) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

func (r *Refresher) refresh(ctx context.Context) {
	r.log.Debug("Refreshing guide")

	if err := r.target.RefreshGuide(ctx); err != nil {
		r.log.WithError(err).Error("Failed to refresh guide")

		return
	}

	r.log.Debug("Guide refreshed")
}
