package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/wesleyorama2/deliveryload/internal/loadtest/config"
	"github.com/wesleyorama2/deliveryload/internal/loadtest/engine"
	"github.com/wesleyorama2/deliveryload/internal/loadtest/executor"
	"github.com/wesleyorama2/deliveryload/internal/loadtest/metrics"
	"github.com/wesleyorama2/deliveryload/internal/loadtest/output"
	"github.com/wesleyorama2/deliveryload/internal/logging"
	"github.com/wesleyorama2/deliveryload/internal/scenario/delivery"
)

// envPrefix prefixes every flag read from the environment,
// e.g. DELIVERYLOAD_VUS or DELIVERYLOAD_LOG_LEVEL.
const envPrefix = "DELIVERYLOAD"

// non-TTY progress lines are printed every this many ticks
const plainUpdateEvery = 10

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the delivery load test",
		Long: `Run the delivery load test. Without flags the stock profile is used:
ramp to 10 VUs over 30s, hold for 1m, ramp to 20 over 30s, hold for 1m and
ramp down over 30s, against https://api.tenminutedelivery.com.

Config file mode:
  deliveryload run --config load.yaml

Quick CLI mode:
  deliveryload run --base-url http://localhost:3000 \
    --executor constant-vus --vus 5 --duration 30s

  deliveryload run --stages "30s:10,1m:10,30s:0" --think-time 500ms
  deliveryload run --think-time 1s --think-time-max 3s

The base URL is taken from --base-url, then BASE_URL, then the config file.
Every flag can also be set as DELIVERYLOAD_<FLAG>, e.g. DELIVERYLOAD_VUS=5.
The command exits with status 1 when a threshold fails or the run errors.`,
		Args: cobra.NoArgs,
		RunE: runLoadTest,
	}

	flags := cmd.Flags()
	flags.StringP("config", "c", "", "Configuration file (YAML or JSON)")
	flags.String("base-url", "", "Base URL of the API under test")
	flags.String("executor", "", "Executor type: "+supportedExecutors())
	flags.Int("vus", 0, "Number of virtual users (start VUs for ramping-vus)")
	flags.String("duration", "", "Test duration for constant-vus (e.g. 5m, 30s)")
	flags.Int64("iterations", 0, "Iterations per VU for per-vu-iterations")
	flags.String("stages", "", "Stages in format 'duration:target,duration:target,...' for ramping-vus")
	flags.String("think-time", "", "Pause after each step of the flow (e.g. 1s, 0s)")
	flags.String("think-time-max", "", "Draw each pause at random between --think-time and this value")
	flags.BoolP("quiet", "q", false, "Disable live progress output, show only the verdict")
	flags.Bool("json", false, "Print the result as JSON to stdout")
	flags.Bool("no-color", false, "Disable colored output")
	flags.String("log-level", "info", "Log level: debug, info, warn, error")
	flags.String("log-format", logging.FormatConsole, "Log format: console or json")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address during the run (e.g. :9464)")
	return cmd
}

// newViper binds the command's flags and the environment.
func newViper(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindPFlags(cmd.Flags())
	if cmd.Flags().Lookup("base-url") != nil {
		_ = v.BindEnv("base-url", "BASE_URL", envPrefix+"_BASE_URL")
	}
	return v
}

// loadTestConfig builds the run configuration from the config file (or the
// stock test) overlaid with environment and flag values.
func loadTestConfig(v *viper.Viper) (*config.TestConfig, error) {
	cfg := &config.TestConfig{}
	if path := v.GetString("config"); path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if baseURL := v.GetString("base-url"); baseURL != "" {
		cfg.Settings.BaseURL = baseURL
	}
	if think := v.GetString("think-time"); think != "" {
		d, err := config.ParseDurationString(think)
		if err != nil {
			return nil, fmt.Errorf("invalid --think-time: %w", err)
		}
		cfg.Settings.ThinkTime = config.DurationOf(d)
	}
	if thinkMax := v.GetString("think-time-max"); thinkMax != "" {
		d, err := config.ParseDurationString(thinkMax)
		if err != nil {
			return nil, fmt.Errorf("invalid --think-time-max: %w", err)
		}
		cfg.Settings.ThinkTimeMax = config.DurationOf(d)
	}
	if err := applyProfileFlags(v, &cfg.Scenario); err != nil {
		return nil, err
	}

	config.ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyProfileFlags overrides the load profile. Switching executor drops the
// profile of the previous one; branch probabilities and gracefulStop stay.
func applyProfileFlags(v *viper.Viper, sc *config.ScenarioConfig) error {
	executorType := v.GetString("executor")
	vus := v.GetInt("vus")
	duration := v.GetString("duration")
	iterations := v.GetInt64("iterations")
	stages := v.GetString("stages")

	if executorType == "" {
		switch {
		case stages != "":
			executorType = "ramping-vus"
		case iterations > 0:
			executorType = "per-vu-iterations"
		case duration != "":
			executorType = "constant-vus"
		}
	}
	if executorType != "" && !executor.IsValidExecutorType(executorType) {
		return fmt.Errorf("unknown executor %q (supported: %s)", executorType, supportedExecutors())
	}
	if executorType != "" && executorType != sc.Executor {
		*sc = config.ScenarioConfig{
			Executor:     executorType,
			GracefulStop: sc.GracefulStop,
			Pacing:       sc.Pacing,
			AuthRate:     sc.AuthRate,
			SignupRate:   sc.SignupRate,
			TrackingRate: sc.TrackingRate,
		}
	}

	if vus > 0 {
		if sc.Executor == "" || sc.Executor == string(executor.TypeRampingVUs) {
			// stages drive the VU count, so --vus is where the ramp starts
			sc.StartVUs = vus
		} else {
			sc.VUs = vus
		}
	}
	if duration != "" {
		sc.Duration = duration
	}
	if iterations > 0 {
		sc.Iterations = iterations
	}
	if stages != "" {
		parsed, err := config.ParseStages(stages)
		if err != nil {
			return fmt.Errorf("invalid --stages: %w", err)
		}
		sc.Stages = parsed
	}
	return nil
}

func supportedExecutors() string {
	types := executor.GetSupportedExecutors()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

// plannedMaxVUs is the VU ceiling of the profile.
func plannedMaxVUs(sc *config.ScenarioConfig) int {
	if sc.Executor != "ramping-vus" {
		return sc.VUs
	}
	peak := sc.StartVUs
	for _, st := range sc.Stages {
		peak = max(peak, st.Target)
	}
	return peak
}

func runLoadTest(cmd *cobra.Command, _ []string) error {
	v := newViper(cmd)

	logger, err := logging.New(v.GetString("log-level"), v.GetString("log-format"))
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := loadTestConfig(v)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	runner, err := delivery.New(delivery.OptionsFromConfig(cfg), logger)
	if err != nil {
		return err
	}
	eng, err := engine.NewEngine(cfg, runner, logger)
	if err != nil {
		return fmt.Errorf("error creating engine: %w", err)
	}

	if addr := v.GetString("metrics-addr"); addr != "" {
		_, stopMetrics, err := serveMetrics(addr, eng.MetricsEngine(), logger)
		if err != nil {
			return err
		}
		defer stopMetrics()
	}

	jsonOut := v.GetBool("json")
	consoleWriter := cmd.OutOrStdout()
	if jsonOut {
		// stdout carries only the JSON document
		consoleWriter = cmd.ErrOrStderr()
	}
	console := output.NewConsoleOutput(output.Config{
		TestName:      cfg.Name,
		ExecutorType:  cfg.Scenario.Executor,
		BaseURL:       cfg.Settings.BaseURL,
		RunID:         eng.RunID(),
		TotalDuration: eng.PlannedDuration(),
		MaxVUs:        plannedMaxVUs(&cfg.Scenario),
		Writer:        consoleWriter,
		Quiet:         v.GetBool("quiet"),
		NoColor:       v.GetBool("no-color"),
	})
	console.PrintHeader()

	result, runErr := runWithProgress(cmd.Context(), eng, console, cfg, logger)

	console.PrintSummary(result)
	if jsonOut {
		if err := output.WriteJSON(cmd.OutOrStdout(), result); err != nil {
			return err
		}
	}

	if runErr != nil {
		return fmt.Errorf("error running test: %w", runErr)
	}
	if result != nil && !result.Passed {
		var crossed []string
		for _, th := range result.Thresholds {
			if !th.Passed {
				crossed = append(crossed, th.Metric+" "+th.Expression)
			}
		}
		logger.Error("Thresholds have been crossed", zap.Strings("thresholds", crossed))
		return errThresholdsFailed
	}
	return nil
}

// runWithProgress runs the engine while redrawing progress. The first
// SIGINT/SIGTERM stops the run and lets in-flight iterations finish within
// the graceful stop; a second one interrupts them.
func runWithProgress(ctx context.Context, eng *engine.Engine, console *output.ConsoleOutput, cfg *config.TestConfig, logger *zap.Logger) (*engine.TestResult, error) {
	var (
		result *engine.TestResult
		runErr error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		result, runErr = eng.Run(ctx)
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	gracefulStop, err := config.ParseDurationString(cfg.Scenario.GracefulStop)
	if err != nil || gracefulStop <= 0 {
		gracefulStop = 30 * time.Second
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	ticks := 0
	stopping := false
	for {
		select {
		case <-done:
			return result, runErr

		case <-ticker.C:
			ticks++
			stats := output.StatsFromMetrics(eng.GetMetrics(), eng.GetProgress(), eng.PlannedDuration(), eng.GetStats())
			if console.IsTTY() {
				console.Update(stats)
			} else if ticks%plainUpdateEvery == 0 {
				console.PrintNonInteractiveUpdate(stats)
			}

		case <-sigCh:
			window := gracefulStop
			if stopping {
				logger.Warn("Interrupting in-flight iterations")
				window = 0
			} else {
				logger.Warn("Stopping test; press Ctrl+C again to interrupt running iterations",
					zap.Duration("graceful_stop", gracefulStop))
			}
			stopping = true
			go func(window time.Duration) {
				stopCtx, cancel := context.WithTimeout(context.Background(), window)
				defer cancel()
				_ = eng.Stop(stopCtx)
			}(window)
		}
	}
}

// serveMetrics exposes the run's metrics at /metrics on addr. It returns the
// bound address and a function that shuts the server down.
func serveMetrics(addr string, src *metrics.Engine, logger *zap.Logger) (net.Addr, func(), error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(metrics.NewCollector(src)); err != nil {
		return nil, nil, fmt.Errorf("failed to register metrics collector: %w", err)
	}

	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	srv := &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	logger.Info("Serving Prometheus metrics", zap.String("addr", ln.Addr().String()))

	return ln.Addr(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
