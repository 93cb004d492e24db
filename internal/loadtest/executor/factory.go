package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wesleyorama2/deliveryload/internal/loadtest/config"
)

// NewExecutor creates a new executor of the specified type.
//
// Supported types:
//   - "constant-vus" - Fixed number of VUs for a duration
//   - "ramping-vus" - VU count ramps up/down according to stages
//   - "per-vu-iterations" - Each VU runs a fixed number of iterations
//
// Returns an uninitialized executor. Call Init() before Run().
func NewExecutor(executorType Type) (Executor, error) {
	switch executorType {
	case TypeConstantVUs:
		return NewConstantVUs(), nil
	case TypeRampingVUs:
		return NewRampingVUs(), nil
	case TypePerVUIterations:
		return NewPerVUIterations(), nil
	default:
		return nil, fmt.Errorf("unknown executor type: %s", executorType)
	}
}

// CreateAndInitExecutor creates and initializes an executor with the given config.
func CreateAndInitExecutor(ctx context.Context, cfg *Config) (Executor, error) {
	exec, err := NewExecutor(cfg.Type)
	if err != nil {
		return nil, err
	}

	if err := exec.Init(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize executor: %w", err)
	}

	return exec, nil
}

// CreateExecutorFromScenarioConfig creates and initializes an executor from
// the scenario section of a test configuration.
func CreateExecutorFromScenarioConfig(ctx context.Context, name string, sc *config.ScenarioConfig) (Executor, *Config, error) {
	execConfig, err := ConfigFromScenario(name, sc)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to convert scenario config: %w", err)
	}

	exec, err := CreateAndInitExecutor(ctx, execConfig)
	if err != nil {
		return nil, nil, err
	}

	return exec, execConfig, nil
}

// ConfigFromScenario converts a config.ScenarioConfig to an executor Config,
// parsing every duration string.
func ConfigFromScenario(name string, sc *config.ScenarioConfig) (*Config, error) {
	cfg := &Config{
		Name:       name,
		Type:       Type(sc.Executor),
		VUs:        sc.VUs,
		Iterations: sc.Iterations,
		StartVUs:   sc.StartVUs,
	}

	durations := []struct {
		field string
		value string
		dst   *time.Duration
	}{
		{"duration", sc.Duration, &cfg.Duration},
		{"maxDuration", sc.MaxDuration, &cfg.MaxDuration},
	}
	for _, d := range durations {
		v, err := config.ParseDurationString(d.value)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.field, err)
		}
		*d.dst = v
	}

	// an empty grace period keeps the default, "0s" means none
	graces := []struct {
		field string
		value string
		dst   **time.Duration
	}{
		{"gracefulStop", sc.GracefulStop, &cfg.GracefulStop},
		{"gracefulRampDown", sc.GracefulRampDown, &cfg.GracefulRampDown},
	}
	for _, g := range graces {
		if strings.TrimSpace(g.value) == "" {
			continue
		}
		v, err := config.ParseDurationString(g.value)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", g.field, err)
		}
		*g.dst = &v
	}

	for _, stage := range sc.Stages {
		stageDur, err := config.ParseDurationString(stage.Duration)
		if err != nil {
			return nil, fmt.Errorf("invalid stage duration: %w", err)
		}
		cfg.Stages = append(cfg.Stages, Stage{
			Duration: stageDur,
			Target:   stage.Target,
			Name:     stage.Name,
		})
	}

	if sc.Pacing != nil {
		cfg.Pacing = &PacingConfig{Type: PacingType(sc.Pacing.Type)}
		pacing := []struct {
			field string
			value string
			dst   *time.Duration
		}{
			{"pacing duration", sc.Pacing.Duration, &cfg.Pacing.Duration},
			{"pacing min", sc.Pacing.Min, &cfg.Pacing.Min},
			{"pacing max", sc.Pacing.Max, &cfg.Pacing.Max},
		}
		for _, p := range pacing {
			v, err := config.ParseDurationString(p.value)
			if err != nil {
				return nil, fmt.Errorf("invalid %s: %w", p.field, err)
			}
			*p.dst = v
		}
	}

	return cfg, nil
}

// IsValidExecutorType returns true if the type is a supported executor type.
func IsValidExecutorType(executorType string) bool {
	switch Type(executorType) {
	case TypeConstantVUs, TypeRampingVUs, TypePerVUIterations:
		return true
	default:
		return false
	}
}

// GetSupportedExecutors returns a list of all supported executor types.
func GetSupportedExecutors() []Type {
	return []Type{
		TypeRampingVUs,
		TypeConstantVUs,
		TypePerVUIterations,
	}
}
