package worker

import (
	"context"
	"sync"
	"time"

	"access-reconciler/internal/util"

	"go.uber.org/zap"
)

// Refresher recomputes the snapshot
type Refresher interface {
	Refresh(ctx context.Context) error
}

// RefreshWorker runs Refresh on start, on every tick and on demand. Runs are
// serial; triggers arriving during a run collapse into one follow-up run.
type RefreshWorker struct {
	refresher Refresher
	interval  time.Duration
	triggers  chan struct{}
	logger    *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewRefreshWorker creates a new refresh worker
func NewRefreshWorker(refresher Refresher, interval time.Duration) *RefreshWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &RefreshWorker{
		refresher: refresher,
		interval:  interval,
		triggers:  make(chan struct{}, 1),
		logger:    util.GetLogger(),
	}
}

// Trigger requests a refresh without blocking
func (w *RefreshWorker) Trigger() {
	select {
	case w.triggers <- struct{}{}:
	default:
	}
}

// Start runs the loop until ctx is cancelled or Stop is called
func (w *RefreshWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running = true
	done := w.done
	w.mu.Unlock()

	defer close(done)
	defer cancel()

	w.logger.Info("Starting refresh worker", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.run(ctx, "startup")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Refresh worker stopped")
			return ctx.Err()
		case <-ticker.C:
			w.run(ctx, "interval")
		case <-w.triggers:
			w.run(ctx, "trigger")
		}
	}
}

func (w *RefreshWorker) run(ctx context.Context, reason string) {
	if err := w.refresher.Refresh(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		w.logger.Error("Refresh failed", zap.String("reason", reason), zap.Error(err))
	}
}

// Stop stops the loop and waits for the current run to finish
func (w *RefreshWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	w.logger.Info("Stopping refresh worker...")
	cancel()
	<-done
	return nil
}
