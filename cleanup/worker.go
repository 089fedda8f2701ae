// Package cleanup runs the background sweep that expires idle sessions and
// reclaims their assets.
package cleanup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/creastat/craftbot/session"
)

const (
	// DefaultInterval is the default interval between sweeps.
	DefaultInterval = 1 * time.Minute
	// DefaultBatchSize caps how many overdue sessions one sweep handles.
	DefaultBatchSize = 100
)

// Worker periodically expires overdue sessions through the session Lifecycle.
type Worker struct {
	lifecycle *session.Lifecycle
	interval  time.Duration
	batchSize int
	logger    *slog.Logger

	cancel  context.CancelFunc
	done    chan struct{}
	mu      sync.Mutex
	running bool
}

// Option configures a Worker.
type Option func(*Worker)

// WithInterval sets the sweep interval. Non-positive values keep the default.
func WithInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithBatchSize sets the per-sweep batch size. Non-positive values keep the default.
func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWorker creates a sweep worker for lifecycle.
func NewWorker(lifecycle *session.Lifecycle, opts ...Option) *Worker {
	w := &Worker{
		lifecycle: lifecycle,
		interval:  DefaultInterval,
		batchSize: DefaultBatchSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(slog.String("component", "cleanup"))
	return w
}

// Start begins the periodic sweep. Calling Start on a running worker is a no-op.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	sweepCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running = true

	go w.run(sweepCtx)

	return nil
}

// Stop cancels the sweep loop and waits for it to exit.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}

	cancel := w.cancel
	done := w.done
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// IsRunning returns whether the sweep loop is active.
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Worker) run(ctx context.Context) {
	defer func() {
		w.mu.Lock()
		w.running = false
		if w.done != nil {
			close(w.done)
		}
		w.mu.Unlock()
	}()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.InfoContext(ctx, "Cleanup worker stopping")
			return

		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	start := time.Now()
	expired, err := w.SweepOnce(ctx)
	if err != nil {
		w.logger.WarnContext(ctx, "Sweep failed", slog.Any("error", err))
		return
	}
	if expired > 0 {
		w.logger.InfoContext(ctx, "Expired idle sessions",
			slog.Int("expired", expired),
			slog.Duration("duration", time.Since(start)),
		)
	}
}

// SweepOnce expires every overdue active session in one batch and returns how
// many this call transitioned. A failure on one session is logged and the
// sweep moves on; only a failed candidate query is returned.
func (w *Worker) SweepOnce(ctx context.Context) (int, error) {
	store := w.lifecycle.Store()
	candidates, err := store.ListExpired(ctx, w.lifecycle.Now(), w.batchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, candidate := range candidates {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		if w.expire(ctx, candidate.ID) {
			expired++
		}
	}
	return expired, nil
}

// expire transitions one session if it is still overdue. Sessions held by a
// request are skipped; the request touches them anyway.
func (w *Worker) expire(ctx context.Context, id string) bool {
	unlock, ok := w.lifecycle.Locks().TryLock(id)
	if !ok {
		w.logger.DebugContext(ctx, "Skipping busy session", slog.String("session_id", id))
		return false
	}
	defer unlock()

	current, err := w.lifecycle.Store().Get(ctx, id)
	if err != nil {
		w.logger.WarnContext(ctx, "Failed to reload session",
			slog.String("session_id", id),
			slog.Any("error", err),
		)
		return false
	}
	if current == nil || !current.IsActive() || current.ExpiresAt.After(w.lifecycle.Now()) {
		return false
	}

	done, err := w.lifecycle.Expire(ctx, current)
	if err != nil {
		w.logger.WarnContext(ctx, "Failed to expire session",
			slog.String("session_id", id),
			slog.Any("error", err),
		)
		return false
	}
	return done
}
