package executor

import (
	"context"

	"github.com/wesleyorama2/deliveryload/internal/loadtest"
	"github.com/wesleyorama2/deliveryload/internal/loadtest/metrics"
)

// ConstantVUs runs a fixed number of VUs for a specified duration.
//
// Each VU runs iterations back to back (closed model), optionally with
// pacing between iterations.
type ConstantVUs struct {
	base
}

// NewConstantVUs creates a new constant VUs executor.
func NewConstantVUs() *ConstantVUs {
	return &ConstantVUs{base: base{kind: TypeConstantVUs}}
}

// Type returns the executor type.
func (e *ConstantVUs) Type() Type {
	return TypeConstantVUs
}

// Init initializes the executor with configuration.
func (e *ConstantVUs) Init(ctx context.Context, config *Config) error {
	return e.init(config)
}

// Run starts the executor and blocks until completion.
func (e *ConstantVUs) Run(ctx context.Context, scheduler *loadtest.VUScheduler, metricsEngine *metrics.Engine) error {
	runCtx, err := e.start(ctx, scheduler, metricsEngine, e.config.Duration, 0)
	if err != nil {
		return err
	}

	// no ramp
	metricsEngine.SetPhase(metrics.PhaseSteady)
	e.pool.resize(runCtx, e.config.VUs, e.config.gracefulStop())

	<-runCtx.Done()
	e.finish(metricsEngine)
	return nil
}

// GetStats returns executor statistics.
func (e *ConstantVUs) GetStats() *Stats {
	s := e.stats()
	s.TargetVUs = e.config.VUs
	return s
}

var _ Executor = (*ConstantVUs)(nil)
