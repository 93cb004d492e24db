package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/deliveryload/internal/loadtest"
	"github.com/wesleyorama2/deliveryload/internal/loadtest/metrics"
)

// base holds the state every executor shares: config, timing, the VU pool
// and the cancellation plumbing behind Stop.
type base struct {
	kind   Type
	config *Config

	startTime time.Time
	running   atomic.Bool
	finished  chan struct{}

	pool       *vuPool
	cancelFunc context.CancelFunc
	mu         sync.RWMutex
}

func (b *base) init(config *Config) error {
	if config.Type != b.kind {
		return fmt.Errorf("invalid config type: expected %s, got %s", b.kind, config.Type)
	}
	if err := config.Validate(); err != nil {
		return err
	}
	b.config = config
	return nil
}

// start prepares a run: creates the pool and the run context.
func (b *base) start(ctx context.Context, scheduler *loadtest.VUScheduler, metricsEngine *metrics.Engine, timeout time.Duration, maxIterations int64) (context.Context, error) {
	if b.config == nil {
		return nil, fmt.Errorf("%s executor not initialized", b.kind)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.pool = newVUPool(scheduler, metricsEngine, maxIterations, b.config.Pacing.pacer())
	b.finished = make(chan struct{})
	b.startTime = time.Now()
	b.running.Store(true)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	b.cancelFunc = cancel
	return runCtx, nil
}

// finish drains the pool and marks the run complete.
func (b *base) finish(metricsEngine *metrics.Engine) {
	b.mu.RLock()
	cancel := b.cancelFunc
	pool := b.pool
	b.mu.RUnlock()

	cancel()
	pool.drain(b.config.gracefulStop())
	metricsEngine.SetActiveVUs(0)
	metricsEngine.SetPhase(metrics.PhaseDone)
	b.running.Store(false)
	close(b.finished)
}

// GetProgress returns elapsed time over planned duration (0.0 to 1.0).
func (b *base) GetProgress() float64 {
	if !b.running.Load() {
		if b.startTime.IsZero() {
			return 0.0
		}
		return 1.0
	}

	total := b.config.TotalDuration()
	if total <= 0 {
		return 1.0
	}
	progress := float64(time.Since(b.startTime)) / float64(total)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// GetActiveVUs returns current active VU count.
func (b *base) GetActiveVUs() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.pool == nil {
		return 0
	}
	return int(b.pool.active.Load())
}

func (b *base) stats() *Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s := &Stats{
		StartTime:     b.startTime,
		CurrentTime:   time.Now(),
		TotalDuration: b.config.TotalDuration(),
	}
	if !b.startTime.IsZero() {
		s.Elapsed = time.Since(b.startTime)
	}
	if b.pool != nil {
		s.ActiveVUs = int(b.pool.active.Load())
		s.Iterations = b.pool.metrics.Iterations()
		s.Interrupted = b.pool.interrupted.Load()
	}
	return s
}

// Stop ends the run early. Iterations in flight may finish until ctx is
// done; after that they are interrupted.
func (b *base) Stop(ctx context.Context) error {
	b.mu.RLock()
	cancel := b.cancelFunc
	pool := b.pool
	finished := b.finished
	b.mu.RUnlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
	}

	pool.interrupt()
	<-finished
	return nil
}
