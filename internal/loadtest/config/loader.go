package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/deliveryload/internal/loadtest/threshold"
)

// Defaults of the delivery flow.
const (
	DefaultName         = "Ten Minute Delivery load test"
	DefaultTimeout      = 30 * time.Second
	DefaultThinkTime    = time.Second
	DefaultAuthRate     = 0.3
	DefaultSignupRate   = 0.1
	DefaultTrackingRate = 0.0
	DefaultGracefulStop = "30s"
	DefaultUserAgent    = "deliveryload"
)

// DefaultStages is the ramp profile of the delivery load test:
// ramp to 10, hold, ramp to 20, hold, ramp down.
func DefaultStages() []StageConfig {
	return []StageConfig{
		{Duration: "30s", Target: 10},
		{Duration: "1m", Target: 10},
		{Duration: "30s", Target: 20},
		{Duration: "1m", Target: 20},
		{Duration: "30s", Target: 0},
	}
}

// DefaultUsers returns the seeded test accounts.
func DefaultUsers() []UserConfig {
	return []UserConfig{
		{Email: "test1@example.com", Password: "password123"},
		{Email: "test2@example.com", Password: "password123"},
		{Email: "test3@example.com", Password: "password123"},
	}
}

// DefaultSearchQueries returns the search vocabulary.
func DefaultSearchQueries() []string {
	return []string{"milk", "bread", "eggs", "chicken", "rice", "pasta", "vegetables", "fruits"}
}

// DefaultCategories returns the candidate category ids.
func DefaultCategories() []string {
	return []string{"1", "2", "3", "4", "5"}
}

// Default returns a configuration equivalent to the stock load test.
func Default() *TestConfig {
	cfg := &TestConfig{}
	ApplyDefaults(cfg)
	return cfg
}

// LoadConfig loads a test configuration from a file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
func LoadConfig(path string) (*TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data, path)
}

// ParseConfig parses configuration data.
//
// The format is determined by the file extension in path, or defaults to YAML
// if the path is empty or has an unknown extension.
func ParseConfig(data []byte, path string) (*TestConfig, error) {
	var config TestConfig

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config (unknown format %s): %w", ext, err)
		}
	}

	return &config, nil
}

// ParseDurationString parses a duration string.
//
// Supported formats:
//   - Standard Go duration: "30s", "2m", "1h30m", "500ms"
//   - Seconds as integer: "30" (treated as 30 seconds)
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	if seconds, err := strconv.Atoi(s); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	return 0, fmt.Errorf("invalid duration format: %s", s)
}

// ParseStages parses stages from the compact form "30s:10,1m:10,30s:0".
func ParseStages(stagesStr string) ([]StageConfig, error) {
	var stages []StageConfig

	parts := strings.Split(stagesStr, ",")
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		colonIdx := strings.LastIndex(part, ":")
		if colonIdx == -1 {
			return nil, fmt.Errorf("stage %d: expected 'duration:target' format, got '%s'", i+1, part)
		}

		durationStr := strings.TrimSpace(part[:colonIdx])
		targetStr := strings.TrimSpace(part[colonIdx+1:])

		if _, err := ParseDurationString(durationStr); err != nil || durationStr == "" {
			return nil, fmt.Errorf("stage %d: invalid duration '%s'", i+1, durationStr)
		}

		target, err := strconv.Atoi(targetStr)
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid target '%s': %w", i+1, targetStr, err)
		}
		if target < 0 {
			return nil, fmt.Errorf("stage %d: target cannot be negative", i+1)
		}

		stages = append(stages, StageConfig{
			Duration: durationStr,
			Target:   target,
			Name:     fmt.Sprintf("stage-%d", i+1),
		})
	}

	if len(stages) == 0 {
		return nil, fmt.Errorf("at least one stage is required")
	}

	return stages, nil
}

// ScenarioDuration returns the planned duration of the load profile: the
// duration for constant-vus, the sum of the stages for ramping-vus, and
// the max duration for per-vu-iterations.
func ScenarioDuration(sc *ScenarioConfig) (time.Duration, error) {
	switch sc.Executor {
	case "ramping-vus":
		var total time.Duration
		for _, stage := range sc.Stages {
			d, err := ParseDurationString(stage.Duration)
			if err != nil {
				return 0, fmt.Errorf("invalid stage duration: %w", err)
			}
			total += d
		}
		return total, nil
	case "per-vu-iterations":
		if sc.MaxDuration == "" {
			return 10 * time.Minute, nil
		}
		return ParseDurationString(sc.MaxDuration)
	default:
		return ParseDurationString(sc.Duration)
	}
}

// ApplyDefaults fills unset fields with the stock load test values.
func ApplyDefaults(config *TestConfig) {
	if config.Name == "" {
		config.Name = DefaultName
	}

	s := &config.Settings
	if s.BaseURL == "" {
		s.BaseURL = DefaultBaseURL
	}
	if s.Timeout == 0 {
		s.Timeout = Duration(DefaultTimeout)
	}
	if s.ThinkTime == nil {
		s.ThinkTime = DurationOf(DefaultThinkTime)
	}
	if s.UserAgent == "" {
		s.UserAgent = DefaultUserAgent
	}
	if s.MaxIdleConnsPerHost == 0 {
		s.MaxIdleConnsPerHost = 100
	}

	applyScenarioDefaults(&config.Scenario)

	d := &config.Data
	if len(d.Users) == 0 {
		d.Users = DefaultUsers()
	}
	if len(d.SearchQueries) == 0 {
		d.SearchQueries = DefaultSearchQueries()
	}
	if len(d.Categories) == 0 {
		d.Categories = DefaultCategories()
	}

	if config.Thresholds == nil {
		config.Thresholds = threshold.Defaults()
	}
}

func applyScenarioDefaults(sc *ScenarioConfig) {
	if sc.Executor == "" {
		sc.Executor = "ramping-vus"
	}

	switch sc.Executor {
	case "ramping-vus":
		if len(sc.Stages) == 0 {
			sc.Stages = DefaultStages()
		}
	case "constant-vus":
		if sc.VUs == 0 {
			sc.VUs = 1
		}
	case "per-vu-iterations":
		if sc.VUs == 0 {
			sc.VUs = 1
		}
		if sc.Iterations == 0 {
			sc.Iterations = 1
		}
	}

	if sc.GracefulStop == "" {
		sc.GracefulStop = DefaultGracefulStop
	}
	if sc.AuthRate == nil {
		sc.AuthRate = float64Ptr(DefaultAuthRate)
	}
	if sc.SignupRate == nil {
		sc.SignupRate = float64Ptr(DefaultSignupRate)
	}
	if sc.TrackingRate == nil {
		sc.TrackingRate = float64Ptr(DefaultTrackingRate)
	}
}

func float64Ptr(v float64) *float64 {
	return &v
}
