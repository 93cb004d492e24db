// Package engine orchestrates a load test run: scenario setup, the executor
// driving VUs, teardown, and threshold evaluation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wesleyorama2/deliveryload/internal/loadtest"
	"github.com/wesleyorama2/deliveryload/internal/loadtest/config"
	"github.com/wesleyorama2/deliveryload/internal/loadtest/executor"
	"github.com/wesleyorama2/deliveryload/internal/loadtest/metrics"
	"github.com/wesleyorama2/deliveryload/internal/loadtest/threshold"
)

// teardownTimeout bounds Teardown when the run context is already done.
const teardownTimeout = 30 * time.Second

// Engine runs one scenario under the configured executor.
//
// Example usage:
//
//	cfg := config.Default()
//	runner, _ := delivery.New(delivery.OptionsFromConfig(cfg), logger)
//	eng, _ := engine.NewEngine(cfg, runner, logger)
//	result, _ := eng.Run(ctx)
//	fmt.Printf("Test passed: %v\n", result.Passed)
type Engine struct {
	config   *config.TestConfig
	scenario loadtest.Scenario
	logger   *zap.Logger
	runID    string

	// Metrics engine; created up front so exporters can attach before Run
	metricsEngine *metrics.Engine

	httpConfig loadtest.HTTPClientConfig

	mu        sync.RWMutex
	executor  executor.Executor
	cancel    context.CancelFunc
	startTime time.Time
	running   bool
	stopped   bool
}

// TestResult contains the complete test results.
type TestResult struct {
	RunID       string        `json:"runId"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Scenario    string        `json:"scenario"`
	Executor    string        `json:"executor"`
	BaseURL     string        `json:"baseUrl"`
	StartTime   time.Time     `json:"startTime"`
	EndTime     time.Time     `json:"endTime"`
	Duration    time.Duration `json:"duration"`

	Metrics      *metrics.Snapshot               `json:"metrics"`
	Checks       []metrics.CheckStats            `json:"checks"`
	Rates        map[string]metrics.RateStats    `json:"rates,omitempty"`
	RequestStats map[string]metrics.LatencyStats `json:"requestStats,omitempty"`
	Phases       []metrics.PhaseChange           `json:"phases,omitempty"`
	TimeSeries   []*metrics.TimeBucket           `json:"timeSeries,omitempty"`
	Iterations   int64                           `json:"iterations"`
	MaxVUs       int                             `json:"maxVUs"`

	// Aborted is set when the run was cancelled before the profile ended;
	// Interrupted when iterations were cut off after the graceful stop.
	Aborted     bool `json:"aborted"`
	Interrupted bool `json:"interrupted"`

	Thresholds []threshold.Result `json:"thresholds,omitempty"`
	Passed     bool               `json:"passed"`

	Error string `json:"error,omitempty"`
}

// NewEngine creates an engine. Defaults are applied to cfg before it is
// validated.
func NewEngine(cfg *config.TestConfig, scenario loadtest.Scenario, logger *zap.Logger) (*Engine, error) {
	if scenario == nil {
		return nil, errors.New("scenario is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	httpConfig := loadtest.DefaultHTTPClientConfig()
	httpConfig.Timeout = cfg.Settings.Timeout.GetDuration(config.DefaultTimeout)
	httpConfig.InsecureSkipVerify = cfg.Settings.InsecureSkipVerify
	httpConfig.MaxRPS = cfg.Settings.MaxRPS
	httpConfig.UserAgent = cfg.Settings.UserAgent
	if cfg.Settings.MaxIdleConnsPerHost > 0 {
		httpConfig.MaxIdleConnsPerHost = cfg.Settings.MaxIdleConnsPerHost
	}
	if cfg.Settings.MaxConnectionsPerHost > 0 {
		httpConfig.MaxConnsPerHost = cfg.Settings.MaxConnectionsPerHost
	}

	runID := uuid.NewString()
	return &Engine{
		config:        cfg,
		scenario:      scenario,
		logger:        logger.With(zap.String("run_id", runID)),
		runID:         runID,
		metricsEngine: metrics.NewEngine(),
		httpConfig:    httpConfig,
	}, nil
}

// Run executes the test and returns its results.
//
// Cancelling ctx ends the profile early; in-flight iterations still get the
// graceful stop window and the result is marked Aborted. The returned error
// is non-nil only when the run could not be carried out (setup or executor
// failure); failing thresholds are reported through TestResult.Passed.
func (e *Engine) Run(ctx context.Context) (*TestResult, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, fmt.Errorf("engine is already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.running = true
	e.cancel = cancel
	e.startTime = time.Now()
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()
	defer e.metricsEngine.Stop()

	e.metricsEngine.SetPhase(metrics.PhaseInit)
	e.logger.Info("Load test starting",
		zap.String("name", e.config.Name),
		zap.String("scenario", e.scenario.Name()),
		zap.String("executor", e.config.Scenario.Executor),
		zap.String("base_url", e.config.Settings.BaseURL),
	)

	exec, execConfig, err := executor.CreateExecutorFromScenarioConfig(runCtx, e.scenario.Name(), &e.config.Scenario)
	if err != nil {
		return e.failed(fmt.Errorf("failed to create executor: %w", err)), err
	}

	data, err := e.scenario.Setup(runCtx)
	if err != nil {
		err = fmt.Errorf("scenario setup failed: %w", err)
		return e.failed(err), err
	}

	scheduler := loadtest.NewVUScheduler(e.scenario, data, e.metricsEngine, e.httpConfig)

	e.mu.Lock()
	e.executor = exec
	stopped := e.stopped
	e.mu.Unlock()

	var runErr error
	if !stopped {
		runErr = exec.Run(runCtx, scheduler, e.metricsEngine)
	}
	scheduler.Shutdown(5 * time.Second)

	teardownCtx, cancelTeardown := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	if err := e.scenario.Teardown(teardownCtx, data); err != nil {
		e.logger.Warn("scenario teardown failed", zap.Error(err))
	}
	cancelTeardown()

	e.mu.RLock()
	aborted := e.stopped || ctx.Err() != nil
	e.mu.RUnlock()

	// flush the last partial bucket into the time series
	e.metricsEngine.Stop()
	result := e.buildResult(exec, execConfig, aborted)
	if runErr != nil {
		result.Error = runErr.Error()
		result.Passed = false
	}

	e.logger.Info("Load test finished",
		zap.Bool("passed", result.Passed),
		zap.Bool("aborted", result.Aborted),
		zap.Int64("iterations", result.Iterations),
		zap.Int64("requests", result.Metrics.TotalRequests),
		zap.Duration("duration", result.Duration),
	)
	return result, runErr
}

func (e *Engine) buildResult(exec executor.Executor, execConfig *executor.Config, aborted bool) *TestResult {
	snapshot := e.metricsEngine.GetSnapshot()
	thresholds := threshold.Evaluate(e.config.Thresholds, e.metricsEngine)
	stats := exec.GetStats()
	end := time.Now()

	return &TestResult{
		RunID:        e.runID,
		Name:         e.config.Name,
		Description:  e.config.Description,
		Scenario:     e.scenario.Name(),
		Executor:     string(exec.Type()),
		BaseURL:      e.config.Settings.BaseURL,
		StartTime:    e.startTime,
		EndTime:      end,
		Duration:     end.Sub(e.startTime),
		Metrics:      snapshot,
		Checks:       snapshot.Checks,
		Rates:        snapshot.Rates,
		RequestStats: e.metricsEngine.GetRequestStats(),
		Phases:       e.metricsEngine.GetPhaseHistory(),
		TimeSeries:   e.metricsEngine.GetTimeSeries(),
		Iterations:   snapshot.Iterations,
		MaxVUs:       execConfig.MaxVUs(),
		Aborted:      aborted,
		Interrupted:  stats.Interrupted,
		Thresholds:   thresholds,
		Passed:       threshold.AllPassed(thresholds),
	}
}

// failed builds the result of a run that never started.
func (e *Engine) failed(err error) *TestResult {
	end := time.Now()
	return &TestResult{
		RunID:     e.runID,
		Name:      e.config.Name,
		Scenario:  e.scenario.Name(),
		Executor:  e.config.Scenario.Executor,
		BaseURL:   e.config.Settings.BaseURL,
		StartTime: e.startTime,
		EndTime:   end,
		Duration:  end.Sub(e.startTime),
		Metrics:   e.metricsEngine.GetSnapshot(),
		Error:     err.Error(),
	}
}

// RunID returns the unique id of this run.
func (e *Engine) RunID() string {
	return e.runID
}

// MetricsEngine returns the metrics engine fed by this run.
func (e *Engine) MetricsEngine() *metrics.Engine {
	return e.metricsEngine
}

// GetMetrics returns the current metrics snapshot.
func (e *Engine) GetMetrics() *metrics.Snapshot {
	return e.metricsEngine.GetSnapshot()
}

// PlannedDuration returns the length of the load profile.
func (e *Engine) PlannedDuration() time.Duration {
	d, err := config.ScenarioDuration(&e.config.Scenario)
	if err != nil {
		return 0
	}
	return d
}

// Stop ends the run early. In-flight iterations may finish until ctx is
// done, after which they are interrupted.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	e.stopped = true
	exec := e.executor
	cancel := e.cancel
	running := e.running
	e.mu.Unlock()

	if !running {
		return nil
	}
	cancel()
	if exec != nil {
		return exec.Stop(ctx)
	}
	return nil
}

// GetProgress returns the overall test progress (0.0 to 1.0).
func (e *Engine) GetProgress() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.executor == nil {
		return 0.0
	}
	return e.executor.GetProgress()
}

// GetStats returns current executor stats, or nil before the executor
// started.
func (e *Engine) GetStats() *executor.Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.executor == nil {
		return nil
	}
	return e.executor.GetStats()
}
