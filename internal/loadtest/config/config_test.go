package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDurationString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{name: "standard seconds", input: "30s", expected: 30 * time.Second},
		{name: "standard minutes", input: "1m", expected: time.Minute},
		{name: "milliseconds", input: "500ms", expected: 500 * time.Millisecond},
		{name: "combined duration", input: "1h30m", expected: 90 * time.Minute},
		{name: "integer as seconds", input: "30", expected: 30 * time.Second},
		{name: "empty string", input: "", expected: 0},
		{name: "invalid format", input: "abc", wantErr: true},
		{name: "trailing garbage", input: "30abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDurationString(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseDurationString() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.expected {
				t.Errorf("ParseDurationString() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestParseStages(t *testing.T) {
	stages, err := ParseStages("30s:10, 1m:10,30s:0")
	require.NoError(t, err)
	require.Len(t, stages, 3)

	assert.Equal(t, StageConfig{Duration: "30s", Target: 10, Name: "stage-1"}, stages[0])
	assert.Equal(t, StageConfig{Duration: "1m", Target: 10, Name: "stage-2"}, stages[1])
	assert.Equal(t, StageConfig{Duration: "30s", Target: 0, Name: "stage-3"}, stages[2])
}

func TestParseStages_Invalid(t *testing.T) {
	for _, in := range []string{"", ",", "30s", "30s:x", "abc:10", ":10", "30s:-1"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseStages(in)
			assert.Error(t, err)
		})
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, DefaultBaseURL, cfg.Settings.BaseURL)
	assert.Equal(t, "ramping-vus", cfg.Scenario.Executor)
	assert.Equal(t, DefaultStages(), cfg.Scenario.Stages)
	assert.Equal(t, time.Second, time.Duration(*cfg.Settings.ThinkTime))
	assert.InDelta(t, 0.3, *cfg.Scenario.AuthRate, 1e-9)
	assert.InDelta(t, 0.1, *cfg.Scenario.SignupRate, 1e-9)
	assert.InDelta(t, 0.0, *cfg.Scenario.TrackingRate, 1e-9)
	assert.Len(t, cfg.Data.Users, 3)
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, cfg.Data.Categories)
	assert.Contains(t, cfg.Data.SearchQueries, "milk")
	assert.Equal(t, []string{"p(95)<500"}, cfg.Thresholds["http_req_duration"])
	assert.Equal(t, []string{"rate<0.1"}, cfg.Thresholds["errors"])

	total, err := ScenarioDuration(&cfg.Scenario)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Minute+30*time.Second, total)

	assert.NoError(t, cfg.Validate())
}

func TestParseConfig_YAML(t *testing.T) {
	yamlConfig := `
name: "Staging smoke"
settings:
  baseUrl: "https://staging.example.com"
  timeout: 10s
  thinkTime: 0s
  maxRps: 50
scenario:
  executor: constant-vus
  vus: 5
  duration: 1m
  gracefulStop: 0s
  authRate: 1
data:
  users:
    - email: ops@example.com
      password: secret
thresholds:
  http_req_duration: ["p95 < 300ms"]
`
	cfg, err := ParseConfig([]byte(yamlConfig), "test.yaml")
	require.NoError(t, err)
	ApplyDefaults(cfg)

	assert.Equal(t, "Staging smoke", cfg.Name)
	assert.Equal(t, "https://staging.example.com", cfg.Settings.BaseURL)
	assert.Equal(t, 10*time.Second, time.Duration(cfg.Settings.Timeout))
	require.NotNil(t, cfg.Settings.ThinkTime)
	assert.Equal(t, time.Duration(0), time.Duration(*cfg.Settings.ThinkTime), "explicit 0s must survive defaults")
	assert.InDelta(t, 50, cfg.Settings.MaxRPS, 1e-9)
	assert.Equal(t, 5, cfg.Scenario.VUs)
	assert.Equal(t, "0s", cfg.Scenario.GracefulStop, "explicit 0s must survive defaults")
	assert.InDelta(t, 1.0, *cfg.Scenario.AuthRate, 1e-9)
	assert.InDelta(t, 0.1, *cfg.Scenario.SignupRate, 1e-9)
	assert.Equal(t, []UserConfig{{Email: "ops@example.com", Password: "secret"}}, cfg.Data.Users)
	assert.Equal(t, []string{"p95 < 300ms"}, cfg.Thresholds["http_req_duration"])
	assert.Nil(t, cfg.Thresholds["errors"], "explicit thresholds replace the defaults")

	assert.NoError(t, cfg.Validate())
}

func TestParseConfig_JSON(t *testing.T) {
	jsonConfig := `{
  "name": "json",
  "settings": {"baseUrl": "http://localhost:8080", "timeout": 5},
  "scenario": {"executor": "per-vu-iterations", "vus": 2, "iterations": 3}
}`
	cfg, err := ParseConfig([]byte(jsonConfig), "test.json")
	require.NoError(t, err)
	ApplyDefaults(cfg)

	assert.Equal(t, 5*time.Second, time.Duration(cfg.Settings.Timeout))
	assert.Equal(t, int64(3), cfg.Scenario.Iterations)
	assert.NoError(t, cfg.Validate())
}

func TestParseConfig_Invalid(t *testing.T) {
	_, err := ParseConfig([]byte(`{"name": `), "bad.json")
	assert.Error(t, err)

	_, err = ParseConfig([]byte("settings:\n  timeout: forever\n"), "bad.yaml")
	assert.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "load.yml")
	require.NoError(t, os.WriteFile(path, []byte("name: from-file\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Name)

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Settings.BaseURL = "ftp://example.com"
	cfg.Settings.MaxRPS = -1
	cfg.Settings.ThinkTimeMax = DurationOf(time.Millisecond)
	cfg.Scenario.Stages = append(cfg.Scenario.Stages, StageConfig{Duration: "soon", Target: -2})
	cfg.Scenario.AuthRate = float64Ptr(1.5)
	cfg.Scenario.Pacing = &PacingConfig{Type: "random", Min: "2s", Max: "1s"}
	cfg.Thresholds["http_req_failed"] = []string{"p(95)<500"}
	cfg.Thresholds["erors"] = []string{"rate<0.1"}

	err := cfg.Validate()
	require.Error(t, err)

	var verrs *ValidationErrors
	require.True(t, errors.As(err, &verrs))

	fields := make(map[string]bool)
	for _, e := range verrs.Errors {
		fields[e.Field] = true
	}
	for _, want := range []string{
		"settings.baseUrl",
		"settings.maxRps",
		"settings.thinkTimeMax",
		"scenario.stages[5].duration",
		"scenario.stages[5].target",
		"scenario.authRate",
		"scenario.pacing",
		"thresholds.http_req_failed[0]",
		"thresholds.erors[0]",
	} {
		assert.True(t, fields[want], "expected error on %s, got %v", want, verrs.Error())
	}
}

func TestValidate_Executors(t *testing.T) {
	tests := []struct {
		name    string
		sc      ScenarioConfig
		wantErr bool
	}{
		{"constant ok", ScenarioConfig{Executor: "constant-vus", VUs: 2, Duration: "10s"}, false},
		{"constant without duration", ScenarioConfig{Executor: "constant-vus", VUs: 2}, true},
		{"constant zero vus", ScenarioConfig{Executor: "constant-vus", Duration: "10s"}, true},
		{"iterations ok", ScenarioConfig{Executor: "per-vu-iterations", VUs: 1, Iterations: 1}, false},
		{"iterations missing", ScenarioConfig{Executor: "per-vu-iterations", VUs: 1}, true},
		{"ramping without stages", ScenarioConfig{Executor: "ramping-vus"}, true},
		{"ramping zero length", ScenarioConfig{Executor: "ramping-vus", Stages: []StageConfig{{Duration: "0s", Target: 1}}}, true},
		{"unknown", ScenarioConfig{Executor: "constant-arrival-rate"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := &ValidationErrors{}
			validateScenario("scenario", &tt.sc, errs)
			assert.Equal(t, tt.wantErr, errs.HasErrors(), errs.Error())
		})
	}
}

func TestDuration_JSONRoundTrip(t *testing.T) {
	d := Duration(1500 * time.Millisecond)
	b, err := d.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1.5s"`, string(b))
}
