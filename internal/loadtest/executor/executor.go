// Package executor provides the concurrency profiles that drive a scenario.
package executor

import (
	"context"
	"math/rand"
	"time"

	"github.com/wesleyorama2/deliveryload/internal/loadtest"
	"github.com/wesleyorama2/deliveryload/internal/loadtest/metrics"
)

// Type identifies the type of executor.
type Type string

const (
	// TypeConstantVUs runs a fixed number of VUs for a duration.
	TypeConstantVUs Type = "constant-vus"

	// TypeRampingVUs ramps VU count up and down according to stages.
	TypeRampingVUs Type = "ramping-vus"

	// TypePerVUIterations runs a fixed number of iterations per VU.
	TypePerVUIterations Type = "per-vu-iterations"
)

const (
	// DefaultGracefulStop bounds how long in-flight iterations may run
	// after the executor's duration has elapsed.
	DefaultGracefulStop = 30 * time.Second

	// DefaultMaxDuration caps per-vu-iterations runs.
	DefaultMaxDuration = 10 * time.Minute
)

// Executor defines the interface for load generation strategies.
//
// Executors decide how many VUs are alive at any moment; the VUs themselves
// run scenario iterations back to back.
type Executor interface {
	// Type returns the executor type.
	Type() Type

	// Init initializes the executor with configuration.
	// Called once before Run().
	Init(ctx context.Context, config *Config) error

	// Run starts the executor and blocks until completion.
	Run(ctx context.Context, scheduler *loadtest.VUScheduler, metrics *metrics.Engine) error

	// GetProgress returns current progress (0.0 to 1.0).
	GetProgress() float64

	// GetActiveVUs returns current active VU count.
	GetActiveVUs() int

	// GetStats returns executor-specific statistics.
	GetStats() *Stats

	// Stop ends the run early. In-flight iterations may finish until ctx is
	// done, after which they are interrupted.
	Stop(ctx context.Context) error
}

// Config contains configuration for an executor.
type Config struct {
	Name string `json:"name" yaml:"name"`
	Type Type   `json:"type" yaml:"type"`

	VUs        int           `json:"vus,omitempty" yaml:"vus,omitempty"`
	Duration   time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
	Iterations int64         `json:"iterations,omitempty" yaml:"iterations,omitempty"`

	// MaxDuration caps per-vu-iterations runs (default 10m)
	MaxDuration time.Duration `json:"maxDuration,omitempty" yaml:"maxDuration,omitempty"`

	// Ramping
	StartVUs int     `json:"startVUs,omitempty" yaml:"startVUs,omitempty"`
	Stages   []Stage `json:"stages,omitempty" yaml:"stages,omitempty"`

	// GracefulRampDown and GracefulStop default to 30s when nil. Zero
	// interrupts in-flight iterations right away.
	GracefulRampDown *time.Duration `json:"gracefulRampDown,omitempty" yaml:"gracefulRampDown,omitempty"`
	GracefulStop     *time.Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// Pacing between iterations
	Pacing *PacingConfig `json:"pacing,omitempty" yaml:"pacing,omitempty"`
}

// Stage defines a stage in ramping executors.
type Stage struct {
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Target VU count at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Optional name for reporting
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// PacingConfig controls time between iterations.
type PacingConfig struct {
	Type PacingType `json:"type" yaml:"type"`

	// Duration for constant pacing
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Bounds for random pacing
	Min time.Duration `json:"min,omitempty" yaml:"min,omitempty"`
	Max time.Duration `json:"max,omitempty" yaml:"max,omitempty"`
}

// PacingType identifies the type of pacing.
type PacingType string

const (
	PacingNone     PacingType = "none"
	PacingConstant PacingType = "constant"
	PacingRandom   PacingType = "random"
)

// wait returns the pause before the next iteration.
func (p *PacingConfig) wait() time.Duration {
	if p == nil {
		return 0
	}
	switch p.Type {
	case PacingConstant:
		return p.Duration
	case PacingRandom:
		diff := p.Max - p.Min
		if diff > 0 {
			return p.Min + time.Duration(rand.Int63n(int64(diff)))
		}
		return p.Min
	default:
		return 0
	}
}

// pacer returns a function that applies the pacing, or nil for none.
func (p *PacingConfig) pacer() func(context.Context) {
	if p == nil || p.Type == "" || p.Type == PacingNone {
		return nil
	}
	return func(ctx context.Context) {
		d := p.wait()
		if d <= 0 {
			return
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
	}
}

// Stats contains real-time executor statistics.
type Stats struct {
	StartTime     time.Time     `json:"startTime"`
	CurrentTime   time.Time     `json:"currentTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`

	ActiveVUs int `json:"activeVUs"`
	TargetVUs int `json:"targetVUs"`

	Iterations      int64 `json:"iterations"`
	TotalIterations int64 `json:"totalIterations"`

	CurrentStage     int    `json:"currentStage"`
	CurrentStageName string `json:"currentStageName"`
	TotalStages      int    `json:"totalStages"`

	// Interrupted is set when in-flight iterations outlived the graceful stop
	Interrupted bool `json:"interrupted"`
}

// Validate validates the executor configuration.
func (c *Config) Validate() error {
	if c.Type == "" {
		return &ValidationError{Field: "type", Message: "executor type is required"}
	}
	if c.GracefulStop != nil && *c.GracefulStop < 0 {
		return &ValidationError{Field: "gracefulStop", Message: "gracefulStop must be >= 0"}
	}
	if c.GracefulRampDown != nil && *c.GracefulRampDown < 0 {
		return &ValidationError{Field: "gracefulRampDown", Message: "gracefulRampDown must be >= 0"}
	}

	switch c.Type {
	case TypeConstantVUs:
		if c.VUs <= 0 {
			return &ValidationError{Field: "vus", Message: "vus must be > 0"}
		}
		if c.Duration <= 0 {
			return &ValidationError{Field: "duration", Message: "duration must be > 0"}
		}

	case TypeRampingVUs:
		if len(c.Stages) == 0 {
			return &ValidationError{Field: "stages", Message: "at least one stage is required"}
		}
		if c.StartVUs < 0 {
			return &ValidationError{Field: "startVUs", Message: "startVUs must be >= 0"}
		}
		for _, stage := range c.Stages {
			if stage.Duration < 0 {
				return &ValidationError{Field: "stages", Message: "stage duration must be >= 0"}
			}
			if stage.Target < 0 {
				return &ValidationError{Field: "stages", Message: "stage target must be >= 0"}
			}
		}
		if c.TotalDuration() <= 0 {
			return &ValidationError{Field: "stages", Message: "total stage duration must be > 0"}
		}

	case TypePerVUIterations:
		if c.VUs <= 0 {
			return &ValidationError{Field: "vus", Message: "vus must be > 0"}
		}
		if c.Iterations <= 0 {
			return &ValidationError{Field: "iterations", Message: "iterations must be > 0"}
		}

	default:
		return &ValidationError{Field: "type", Message: "unknown executor type: " + string(c.Type)}
	}

	return nil
}

// TotalDuration calculates the planned duration for this executor.
func (c *Config) TotalDuration() time.Duration {
	switch c.Type {
	case TypeConstantVUs:
		return c.Duration

	case TypeRampingVUs:
		var total time.Duration
		for _, stage := range c.Stages {
			total += stage.Duration
		}
		return total

	case TypePerVUIterations:
		return c.maxDuration()

	default:
		return 0
	}
}

// MaxVUs returns the largest number of VUs the configuration can use.
func (c *Config) MaxVUs() int {
	if c.Type != TypeRampingVUs {
		return c.VUs
	}
	maxVUs := c.StartVUs
	for _, stage := range c.Stages {
		if stage.Target > maxVUs {
			maxVUs = stage.Target
		}
	}
	return maxVUs
}

func (c *Config) gracefulStop() time.Duration {
	if c.GracefulStop != nil {
		return *c.GracefulStop
	}
	return DefaultGracefulStop
}

func (c *Config) gracefulRampDown() time.Duration {
	if c.GracefulRampDown != nil {
		return *c.GracefulRampDown
	}
	return DefaultGracefulStop
}

func (c *Config) maxDuration() time.Duration {
	if c.MaxDuration > 0 {
		return c.MaxDuration
	}
	return DefaultMaxDuration
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error on field '" + e.Field + "': " + e.Message
}
