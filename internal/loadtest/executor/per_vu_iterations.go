package executor

import (
	"context"

	"github.com/wesleyorama2/deliveryload/internal/loadtest"
	"github.com/wesleyorama2/deliveryload/internal/loadtest/metrics"
)

// PerVUIterations runs a fixed number of iterations on each of a fixed
// number of VUs, bounded by MaxDuration.
//
// Useful for smoke runs: `vus: 1, iterations: 1` executes the scenario
// exactly once.
type PerVUIterations struct {
	base
}

// NewPerVUIterations creates a new per-vu-iterations executor.
func NewPerVUIterations() *PerVUIterations {
	return &PerVUIterations{base: base{kind: TypePerVUIterations}}
}

// Type returns the executor type.
func (e *PerVUIterations) Type() Type {
	return TypePerVUIterations
}

// Init initializes the executor with configuration.
func (e *PerVUIterations) Init(ctx context.Context, config *Config) error {
	return e.init(config)
}

// Run starts the executor and blocks until every VU completed its
// iterations or MaxDuration elapsed.
func (e *PerVUIterations) Run(ctx context.Context, scheduler *loadtest.VUScheduler, metricsEngine *metrics.Engine) error {
	runCtx, err := e.start(ctx, scheduler, metricsEngine, e.config.maxDuration(), e.config.Iterations)
	if err != nil {
		return err
	}

	metricsEngine.SetPhase(metrics.PhaseSteady)
	e.pool.resize(runCtx, e.config.VUs, e.config.gracefulStop())

	select {
	case <-e.pool.done():
	case <-runCtx.Done():
	}

	e.finish(metricsEngine)
	return nil
}

// GetProgress returns completed iterations over planned iterations.
func (e *PerVUIterations) GetProgress() float64 {
	e.mu.RLock()
	pool := e.pool
	e.mu.RUnlock()

	if pool == nil {
		return 0.0
	}
	if !e.running.Load() {
		return 1.0
	}

	total := e.config.Iterations * int64(e.config.VUs)
	done := pool.metrics.Iterations()
	progress := float64(done) / float64(total)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// GetStats returns executor statistics.
func (e *PerVUIterations) GetStats() *Stats {
	s := e.stats()
	s.TargetVUs = e.config.VUs
	s.TotalIterations = e.config.Iterations * int64(e.config.VUs)
	return s
}

var _ Executor = (*PerVUIterations)(nil)
