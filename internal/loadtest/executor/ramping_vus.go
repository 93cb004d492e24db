package executor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/deliveryload/internal/loadtest"
	"github.com/wesleyorama2/deliveryload/internal/loadtest/metrics"
)

// rampTick is how often the VU target is re-evaluated.
const rampTick = 100 * time.Millisecond

// RampingVUs ramps VU count up and down according to stages.
//
// The target is linearly interpolated between stage targets, so a stage
// {30s, 10} starting from 0 VUs adds one VU roughly every three seconds.
//
// Example stages:
//
//	stages:
//	  - duration: 30s
//	    target: 10     # Ramp from 0 to 10 VUs over 30s
//	  - duration: 1m
//	    target: 10     # Hold 10 VUs
//	  - duration: 30s
//	    target: 0      # Ramp down to 0 VUs over 30s
type RampingVUs struct {
	base

	targetVUs    atomic.Int32
	currentStage atomic.Int32
}

// NewRampingVUs creates a new ramping VUs executor.
func NewRampingVUs() *RampingVUs {
	return &RampingVUs{base: base{kind: TypeRampingVUs}}
}

// Type returns the executor type.
func (e *RampingVUs) Type() Type {
	return TypeRampingVUs
}

// Init initializes the executor with configuration.
func (e *RampingVUs) Init(ctx context.Context, config *Config) error {
	return e.init(config)
}

// Run starts the executor and blocks until all stages have elapsed and the
// VUs have drained.
func (e *RampingVUs) Run(ctx context.Context, scheduler *loadtest.VUScheduler, metricsEngine *metrics.Engine) error {
	runCtx, err := e.start(ctx, scheduler, metricsEngine, e.config.TotalDuration(), 0)
	if err != nil {
		return err
	}

	e.step(runCtx, metricsEngine)

	ticker := time.NewTicker(rampTick)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-runCtx.Done():
			break loop
		case <-ticker.C:
			e.step(runCtx, metricsEngine)
		}
	}

	e.finish(metricsEngine)
	return nil
}

// step applies the target for the current instant.
func (e *RampingVUs) step(runCtx context.Context, metricsEngine *metrics.Engine) {
	target, stage := TargetAt(e.config.StartVUs, e.config.Stages, time.Since(e.startTime))
	e.targetVUs.Store(int32(target))
	e.currentStage.Store(int32(stage))

	e.pool.resize(runCtx, target, e.config.gracefulRampDown())
	metricsEngine.SetPhase(PhaseForStage(e.config.StartVUs, e.config.Stages, stage))
}

// TargetAt returns the interpolated VU target after elapsed, and the index
// of the stage in effect. Past the last stage the last target holds.
func TargetAt(startVUs int, stages []Stage, elapsed time.Duration) (int, int) {
	var stageStart time.Duration
	prevTarget := startVUs

	for i, stage := range stages {
		stageEnd := stageStart + stage.Duration

		if elapsed < stageEnd {
			progress := float64(elapsed-stageStart) / float64(stage.Duration)
			if progress < 0 {
				progress = 0
			}
			target := float64(prevTarget) + float64(stage.Target-prevTarget)*progress
			return int(target + 0.5), i
		}

		prevTarget = stage.Target
		stageStart = stageEnd
	}

	if len(stages) == 0 {
		return startVUs, 0
	}
	return stages[len(stages)-1].Target, len(stages) - 1
}

// PhaseForStage classifies a stage by comparing its target with the one
// before it.
func PhaseForStage(startVUs int, stages []Stage, idx int) metrics.Phase {
	if idx < 0 || idx >= len(stages) {
		return metrics.PhaseSteady
	}

	prevTarget := startVUs
	if idx > 0 {
		prevTarget = stages[idx-1].Target
	}

	switch target := stages[idx].Target; {
	case target > prevTarget:
		return metrics.PhaseRampUp
	case target < prevTarget:
		return metrics.PhaseRampDown
	default:
		return metrics.PhaseSteady
	}
}

// GetStats returns executor statistics.
func (e *RampingVUs) GetStats() *Stats {
	s := e.stats()

	stageIdx := int(e.currentStage.Load())
	s.TargetVUs = int(e.targetVUs.Load())
	s.CurrentStage = stageIdx
	s.TotalStages = len(e.config.Stages)
	if stageIdx < len(e.config.Stages) {
		s.CurrentStageName = e.config.Stages[stageIdx].Name
	}
	return s
}

var _ Executor = (*RampingVUs)(nil)
