// Package config provides configuration parsing and validation for a
// delivery load test run.
package config

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultBaseURL is the API targeted when nothing else is configured.
const DefaultBaseURL = "https://api.tenminutedelivery.com"

// TestConfig is the root configuration for a load test.
//
// Example YAML:
//
//	name: "Checkout peak"
//	settings:
//	  baseUrl: "https://staging.tenminutedelivery.com"
//	  thinkTime: 1s
//	scenario:
//	  executor: ramping-vus
//	  stages:
//	    - duration: 30s
//	      target: 10
//	    - duration: 1m
//	      target: 10
//	    - duration: 30s
//	      target: 0
//	  authRate: 0.3
//	thresholds:
//	  http_req_duration: ["p(95)<500"]
//	  errors: ["rate<0.1"]
type TestConfig struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	Settings Settings       `json:"settings,omitempty" yaml:"settings,omitempty"`
	Scenario ScenarioConfig `json:"scenario,omitempty" yaml:"scenario,omitempty"`
	Data     DataConfig     `json:"data,omitempty" yaml:"data,omitempty"`

	// Thresholds maps a metric name to pass/fail expressions,
	// e.g. {"http_req_duration": ["p(95)<500"]}
	Thresholds map[string][]string `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
}

// Settings contains HTTP and pacing settings.
type Settings struct {
	// BaseURL is the API under test
	BaseURL string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`

	// Timeout is the HTTP request timeout
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// ThinkTime is the pause after each step of the flow. Nil means the
	// default of one second; an explicit 0s disables it.
	ThinkTime *Duration `json:"thinkTime,omitempty" yaml:"thinkTime,omitempty"`

	// ThinkTimeMax, when set, draws each pause uniformly between
	// ThinkTime and ThinkTimeMax.
	ThinkTimeMax *Duration `json:"thinkTimeMax,omitempty" yaml:"thinkTimeMax,omitempty"`

	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`

	// MaxRPS caps requests per second across all VUs (0 = unlimited)
	MaxRPS float64 `json:"maxRps,omitempty" yaml:"maxRps,omitempty"`

	UserAgent string `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`

	MaxConnectionsPerHost int `json:"maxConnectionsPerHost,omitempty" yaml:"maxConnectionsPerHost,omitempty"`
	MaxIdleConnsPerHost   int `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`
}

// ScenarioConfig defines the load profile and the branch probabilities of
// the delivery flow.
type ScenarioConfig struct {
	// Executor is one of "ramping-vus", "constant-vus", "per-vu-iterations"
	Executor string `json:"executor" yaml:"executor"`

	VUs        int    `json:"vus,omitempty" yaml:"vus,omitempty"`
	Duration   string `json:"duration,omitempty" yaml:"duration,omitempty"`
	Iterations int64  `json:"iterations,omitempty" yaml:"iterations,omitempty"`

	// MaxDuration caps per-vu-iterations runs
	MaxDuration string `json:"maxDuration,omitempty" yaml:"maxDuration,omitempty"`

	StartVUs         int           `json:"startVUs,omitempty" yaml:"startVUs,omitempty"`
	Stages           []StageConfig `json:"stages,omitempty" yaml:"stages,omitempty"`
	GracefulRampDown string        `json:"gracefulRampDown,omitempty" yaml:"gracefulRampDown,omitempty"`

	// GracefulStop is how long in-flight iterations may run after the end
	GracefulStop string `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	Pacing *PacingConfig `json:"pacing,omitempty" yaml:"pacing,omitempty"`

	// Branch probabilities; nil means the default
	AuthRate     *float64 `json:"authRate,omitempty" yaml:"authRate,omitempty"`
	SignupRate   *float64 `json:"signupRate,omitempty" yaml:"signupRate,omitempty"`
	TrackingRate *float64 `json:"trackingRate,omitempty" yaml:"trackingRate,omitempty"`
}

// StageConfig defines a single stage in a ramping executor.
type StageConfig struct {
	// Duration of this stage (e.g., "30s", "1m")
	Duration string `json:"duration" yaml:"duration"`

	// Target VU count at the end of the stage
	Target int `json:"target" yaml:"target"`

	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// PacingConfig controls pacing between iterations.
type PacingConfig struct {
	// Type is the pacing strategy: "none", "constant", "random"
	Type string `json:"type" yaml:"type"`

	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`
	Min      string `json:"min,omitempty" yaml:"min,omitempty"`
	Max      string `json:"max,omitempty" yaml:"max,omitempty"`
}

// DataConfig holds the fixed test data the flow draws from.
type DataConfig struct {
	Users         []UserConfig `json:"users,omitempty" yaml:"users,omitempty"`
	SearchQueries []string     `json:"searchQueries,omitempty" yaml:"searchQueries,omitempty"`
	Categories    []string     `json:"categories,omitempty" yaml:"categories,omitempty"`
}

// UserConfig is one set of login credentials.
type UserConfig struct {
	Email    string `json:"email" yaml:"email"`
	Password string `json:"password" yaml:"password"`
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings.
type Duration time.Duration

// DurationOf returns a pointer to d as a Duration.
func DurationOf(d time.Duration) *Duration {
	v := Duration(d)
	return &v
}

// GetDuration returns the duration or a default if zero.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = 0
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		// bare numbers are seconds
		var secs float64
		if numErr := json.Unmarshal(b, &secs); numErr != nil {
			return fmt.Errorf("invalid duration %s", string(b))
		}
		*d = Duration(secs * float64(time.Second))
		return nil
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
