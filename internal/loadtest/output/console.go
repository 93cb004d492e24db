// Package output renders live progress and the end-of-run summary.
package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wesleyorama2/deliveryload/internal/loadtest/engine"
	"github.com/wesleyorama2/deliveryload/internal/loadtest/executor"
	"github.com/wesleyorama2/deliveryload/internal/loadtest/metrics"
	"github.com/wesleyorama2/deliveryload/internal/loadtest/threshold"
)

// ANSI cursor control
const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"
)

const (
	boxHorizontal  = "━"
	boxVertical    = "│"
	boxTopLeft     = "┌"
	boxTopRight    = "┐"
	boxBottomLeft  = "└"
	boxBottomRight = "┘"

	progressFilled = "█"
	progressEmpty  = "░"

	ruleWidth   = 56
	boxWidth    = 55
	metricWidth = 30
)

// LiveStats contains real-time statistics for display.
type LiveStats struct {
	Progress  float64
	Elapsed   time.Duration
	Remaining time.Duration

	ActiveVUs int
	TargetVUs int

	CurrentRPS    float64
	TotalRequests int64
	Errors        int64
	ErrorRate     float64
	Iterations    int64

	ChecksPassed int64
	ChecksFailed int64

	LatencyP95 time.Duration
	LatencyAvg time.Duration

	CurrentPhase string
	CurrentStage int // 1-indexed
	TotalStages  int
}

// ConsoleOutput manages console output during and after a run.
type ConsoleOutput struct {
	cfg    Config
	writer io.Writer
	isTTY  bool
	colors *palette

	mu          sync.Mutex
	linesOutput int
}

// Config configures a ConsoleOutput.
type Config struct {
	TestName      string
	ExecutorType  string
	BaseURL       string
	RunID         string
	TotalDuration time.Duration
	MaxVUs        int

	Writer  io.Writer
	Quiet   bool
	NoColor bool

	ForceColors bool
	ForceTTY    bool
}

// NewConsoleOutput creates a console output handler.
func NewConsoleOutput(cfg Config) *ConsoleOutput {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}
	isTTY := cfg.ForceTTY || isTerminal(cfg.Writer)
	useColors := !cfg.NoColor && (cfg.ForceColors || (isTTY && supportsColors()))

	return &ConsoleOutput{
		cfg:    cfg,
		writer: cfg.Writer,
		isTTY:  isTTY,
		colors: newPalette(useColors),
	}
}

// IsTTY returns whether the output is a terminal.
func (c *ConsoleOutput) IsTTY() bool {
	return c.isTTY
}

// PrintHeader prints the run header.
func (c *ConsoleOutput) PrintHeader() {
	if c.cfg.Quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	rule := c.colors.accent.Sprint(strings.Repeat(boxHorizontal, ruleWidth))
	executorInfo := ""
	if c.cfg.ExecutorType != "" {
		executorInfo = fmt.Sprintf(" [%s]", c.cfg.ExecutorType)
	}

	c.writeln(rule)
	c.writeln(c.colors.title.Sprintf("%s - Running%s", c.cfg.TestName, executorInfo))
	c.writeln(rule)
	if c.cfg.BaseURL != "" {
		c.writeln(fmt.Sprintf("  target:    %s", c.colors.accent.Sprint(c.cfg.BaseURL)))
	}
	if c.cfg.TotalDuration > 0 {
		c.writeln(fmt.Sprintf("  duration:  %s (+ graceful stop)", formatDuration(c.cfg.TotalDuration)))
	}
	if c.cfg.MaxVUs > 0 {
		c.writeln(fmt.Sprintf("  max VUs:   %d", c.cfg.MaxVUs))
	}
	if c.cfg.RunID != "" {
		c.writeln(c.colors.dim.Sprintf("  run id:    %s", c.cfg.RunID))
	}
	c.writeln("")
}

// Update redraws the live display. It does nothing unless the output is a
// terminal.
func (c *ConsoleOutput) Update(stats *LiveStats) {
	if c.cfg.Quiet || !c.isTTY {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearLive()
	lines := c.renderLiveStats(stats)
	c.linesOutput = len(lines)
	for _, line := range lines {
		c.writeln(line)
	}
}

func (c *ConsoleOutput) clearLive() {
	if c.linesOutput == 0 {
		return
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	for i := 0; i < c.linesOutput; i++ {
		c.write(clearLine + "\n")
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	c.linesOutput = 0
}

func (c *ConsoleOutput) renderLiveStats(stats *LiveStats) []string {
	var lines []string

	timeInfo := fmt.Sprintf("%s / %s", formatDuration(stats.Elapsed), formatDuration(stats.Elapsed+stats.Remaining))
	lines = append(lines, fmt.Sprintf("Progress: %s %s | %s",
		c.colors.good.Sprint(renderProgressBar(stats.Progress, 40)),
		c.colors.title.Sprintf("%.0f%%", stats.Progress*100),
		c.colors.dim.Sprint(timeInfo)))

	phaseInfo := stats.CurrentPhase
	if stats.TotalStages > 0 {
		phaseInfo = fmt.Sprintf("%s (%d/%d)", stats.CurrentPhase, stats.CurrentStage, stats.TotalStages)
	}
	lines = append(lines, fmt.Sprintf("Stage:    %s", c.colors.stage.Sprint(phaseInfo)))
	lines = append(lines, "")

	lines = append(lines, c.colors.dim.Sprint(boxTopLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxTopRight))

	vus := fmt.Sprintf("VUs:     %s / %d", c.colors.accent.Sprint(stats.ActiveVUs), stats.TargetVUs)
	reqs := fmt.Sprintf("Requests:    %s", c.colors.accent.Sprint(formatNumber(stats.TotalRequests)))
	lines = append(lines, c.formatBoxRow(vus, reqs))

	errColor := c.colors.byRate(stats.ErrorRate)
	rps := fmt.Sprintf("RPS:     %s", c.colors.good.Sprintf("%.1f", stats.CurrentRPS))
	errs := fmt.Sprintf("Failed:      %s (%s)",
		errColor.Sprint(stats.Errors),
		errColor.Sprintf("%.1f%%", stats.ErrorRate*100))
	lines = append(lines, c.formatBoxRow(rps, errs))

	iters := fmt.Sprintf("Iters:   %s", c.colors.accent.Sprint(formatNumber(stats.Iterations)))
	checks := fmt.Sprintf("Checks:      %s %d %s %d",
		c.colors.mark(true), stats.ChecksPassed, c.colors.mark(false), stats.ChecksFailed)
	lines = append(lines, c.formatBoxRow(iters, checks))

	p95 := fmt.Sprintf("P95:     %s", c.colors.value.Sprint(formatDurationShort(stats.LatencyP95)))
	avg := fmt.Sprintf("Avg:         %s", c.colors.value.Sprint(formatDurationShort(stats.LatencyAvg)))
	lines = append(lines, c.formatBoxRow(p95, avg))

	lines = append(lines, c.colors.dim.Sprint(boxBottomLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxBottomRight))
	return lines
}

// formatBoxRow lays out two columns inside the stats box.
func (c *ConsoleOutput) formatBoxRow(left, right string) string {
	colWidth := (boxWidth - 4) / 2
	leftPadding := max(colWidth-visibleLen(left), 0)
	rightPadding := max(colWidth-visibleLen(right), 0)
	border := c.colors.dim.Sprint(boxVertical)

	return fmt.Sprintf("%s %s%s%s %s%s %s",
		border, left, strings.Repeat(" ", leftPadding),
		border, right, strings.Repeat(" ", rightPadding),
		border)
}

func renderProgressBar(progress float64, width int) string {
	progress = min(max(progress, 0), 1)
	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

// PrintNonInteractiveUpdate prints a one-line status update for piped
// output and CI logs.
func (c *ConsoleOutput) PrintNonInteractiveUpdate(stats *LiveStats) {
	if c.cfg.Quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeln(fmt.Sprintf("[%s] Progress: %.0f%% | VUs: %d | Reqs: %d | RPS: %.1f | Failed: %d (%.1f%%) | Iters: %d | P95: %s",
		formatDuration(stats.Elapsed),
		stats.Progress*100,
		stats.ActiveVUs,
		stats.TotalRequests,
		stats.CurrentRPS,
		stats.Errors,
		stats.ErrorRate*100,
		stats.Iterations,
		formatDurationShort(stats.LatencyP95)))
}

// PrintSummary prints the end-of-run summary: checks, built-in and custom
// metrics, a per-request breakdown and the threshold verdicts.
func (c *ConsoleOutput) PrintSummary(result *engine.TestResult) {
	if result == nil {
		return
	}
	if c.cfg.Quiet {
		if result.Passed {
			c.writeln(c.colors.good.Sprint("PASSED"))
		} else {
			c.writeln(c.colors.bad.Sprint("FAILED"))
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isTTY {
		c.clearLive()
	}

	status := c.colors.good.Sprint("Completed ✓")
	switch {
	case result.Error != "":
		status = c.colors.bad.Sprint("Error ✗")
	case !result.Passed:
		status = c.colors.bad.Sprint("Failed ✗")
	case result.Aborted:
		status = c.colors.warn.Sprint("Stopped early")
	}

	rule := c.colors.accent.Sprint(strings.Repeat(boxHorizontal, ruleWidth))
	c.writeln("")
	c.writeln(rule)
	c.writeln(fmt.Sprintf("%s - %s", c.colors.title.Sprint(result.Name), status))
	c.writeln(rule)
	c.writeln("")
	c.writeln(fmt.Sprintf("  duration:  %s", c.colors.accent.Sprint(formatDuration(result.Duration))))
	if result.Interrupted {
		c.writeln(c.colors.warn.Sprint("  some iterations were interrupted after the graceful stop"))
	}
	if result.Error != "" {
		c.writeln(c.colors.bad.Sprintf("  error:     %s", result.Error))
	}
	c.writeln("")

	c.printChecks(result.Checks)
	c.printMetrics(result)
	c.printRequests(result.RequestStats)
	c.printThresholds(result.Thresholds)
}

func (c *ConsoleOutput) printChecks(checks []metrics.CheckStats) {
	if len(checks) == 0 {
		return
	}
	for _, check := range checks {
		ok := check.Fails == 0
		c.writeln(fmt.Sprintf("     %s %s", c.colors.mark(ok), check.Name))
		if !ok {
			total := check.Passes + check.Fails
			c.writeln(c.colors.bad.Sprintf("      ↳  %d%% - ✓ %d / ✗ %d",
				check.Passes*100/total, check.Passes, check.Fails))
		}
	}
	c.writeln("")
}

func (c *ConsoleOutput) printMetrics(result *engine.TestResult) {
	snap := result.Metrics
	if snap == nil {
		return
	}
	seconds := result.Duration.Seconds()

	checksTotal := snap.ChecksPassed + snap.ChecksFailed
	if checksTotal > 0 {
		c.metricLine(threshold.MetricChecks, fmt.Sprintf("%s %s %d %s %d",
			c.colors.byRate(1-snap.CheckRate()).Sprintf("%.2f%%", snap.CheckRate()*100),
			c.colors.mark(true), snap.ChecksPassed,
			c.colors.mark(false), snap.ChecksFailed))
	}

	for _, name := range sortedKeys(result.Rates) {
		rate := result.Rates[name]
		c.metricLine(name, fmt.Sprintf("%s %d out of %d",
			c.colors.byRate(rate.Rate).Sprintf("%.2f%%", rate.Rate*100), rate.Trues, rate.Total))
	}

	lat := snap.Latency
	c.metricLine(threshold.MetricHTTPReqDuration, fmt.Sprintf("avg=%s min=%s med=%s max=%s p(90)=%s p(95)=%s",
		c.colors.value.Sprint(formatDurationShort(lat.Mean)),
		c.colors.value.Sprint(formatDurationShort(lat.Min)),
		c.colors.value.Sprint(formatDurationShort(lat.P50)),
		c.colors.value.Sprint(formatDurationShort(lat.Max)),
		c.colors.value.Sprint(formatDurationShort(lat.P90)),
		c.colors.value.Sprint(formatDurationShort(lat.P95))))

	c.metricLine(threshold.MetricHTTPReqFailed, fmt.Sprintf("%s %d out of %d",
		c.colors.byRate(snap.ErrorRate).Sprintf("%.2f%%", snap.ErrorRate*100),
		snap.FailedRequests, snap.TotalRequests))
	c.metricLine(threshold.MetricHTTPReqs, fmt.Sprintf("%s %s",
		c.colors.accent.Sprint(formatNumber(snap.TotalRequests)), perSecond(snap.TotalRequests, seconds)))
	c.metricLine(threshold.MetricIterations, fmt.Sprintf("%s %s",
		c.colors.accent.Sprint(formatNumber(result.Iterations)), perSecond(result.Iterations, seconds)))
	c.metricLine("data_received", formatBytes(snap.TotalBytes))
	c.metricLine("vus_max", fmt.Sprintf("%d", result.MaxVUs))
	c.writeln("")
}

func (c *ConsoleOutput) metricLine(name, value string) {
	dots := max(metricWidth-len(name), 3)
	c.writeln(fmt.Sprintf("     %s%s: %s", name, c.colors.dim.Sprint(strings.Repeat(".", dots)), value))
}

func (c *ConsoleOutput) printRequests(stats map[string]metrics.LatencyStats) {
	if len(stats) == 0 {
		return
	}
	width := 0
	for name := range stats {
		width = max(width, len(name))
	}
	c.writeln(c.colors.title.Sprint("Requests:"))
	for _, name := range sortedKeys(stats) {
		s := stats[name]
		c.writeln(fmt.Sprintf("  %-*s  count=%-6d avg=%-8s p(95)=%-8s max=%s",
			width, name, s.Count,
			formatDurationShort(s.Mean), formatDurationShort(s.P95), formatDurationShort(s.Max)))
	}
	c.writeln("")
}

func (c *ConsoleOutput) printThresholds(results []threshold.Result) {
	if len(results) == 0 {
		return
	}
	c.writeln(c.colors.title.Sprint("Thresholds:"))
	for _, t := range results {
		line := fmt.Sprintf("  %s %s %s (actual: %s)", c.colors.mark(t.Passed), t.Metric, t.Expression, t.Value)
		if t.Message != "" {
			line += c.colors.dim.Sprintf(" %s", t.Message)
		}
		c.writeln(line)
	}
	c.writeln("")
}

func (c *ConsoleOutput) write(s string) {
	fmt.Fprint(c.writer, s)
}

func (c *ConsoleOutput) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

// StatsFromMetrics builds LiveStats from a metrics snapshot and the
// executor's view of the run. stats may be nil before the executor starts.
func StatsFromMetrics(snap *metrics.Snapshot, progress float64, totalDuration time.Duration, stats *executor.Stats) *LiveStats {
	live := &LiveStats{Progress: progress, CurrentPhase: "initializing"}
	if stats != nil {
		live.TargetVUs = stats.TargetVUs
		live.CurrentStage = stats.CurrentStage + 1
		live.TotalStages = stats.TotalStages
		if stats.TotalDuration > 0 {
			totalDuration = stats.TotalDuration
		}
	}
	if snap == nil {
		return live
	}

	elapsed := snap.Elapsed
	var remaining time.Duration
	if totalDuration > 0 {
		remaining = max(totalDuration-elapsed, 0)
	} else if progress > 0 && progress < 1 {
		remaining = time.Duration(float64(elapsed) * (1 - progress) / progress)
	}

	live.Elapsed = elapsed
	live.Remaining = remaining
	live.ActiveVUs = snap.ActiveVUs
	live.CurrentRPS = snap.RPS
	live.TotalRequests = snap.TotalRequests
	live.Errors = snap.FailedRequests
	live.ErrorRate = snap.ErrorRate
	live.Iterations = snap.Iterations
	live.ChecksPassed = snap.ChecksPassed
	live.ChecksFailed = snap.ChecksFailed
	live.LatencyP95 = snap.Latency.P95
	live.LatencyAvg = snap.Latency.Mean
	live.CurrentPhase = string(snap.CurrentPhase)
	return live
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func perSecond(n int64, seconds float64) string {
	if seconds <= 0 {
		return ""
	}
	return fmt.Sprintf("%.2f/s", float64(n)/seconds)
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %02dm %02ds", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

// formatDurationShort formats a latency value.
func formatDurationShort(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return "0ms"
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.2fs", d.Seconds())
	default:
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	str := fmt.Sprintf("%d", n)
	if n < 0 || len(str) <= 3 {
		return str
	}
	var b strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		b.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if b.Len() > 0 {
			b.WriteString(",")
		}
		b.WriteString(str[i : i+3])
	}
	return b.String()
}

func formatBytes(n int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case n >= gb:
		return fmt.Sprintf("%.2f GB", float64(n)/gb)
	case n >= mb:
		return fmt.Sprintf("%.2f MB", float64(n)/mb)
	case n >= kb:
		return fmt.Sprintf("%.2f KB", float64(n)/kb)
	default:
		return fmt.Sprintf("%d B", n)
	}
}

// visibleLen is the printed width of s, ignoring ANSI sequences.
func visibleLen(s string) int {
	return len([]rune(stripANSI(s)))
}

// stripANSI removes ANSI escape codes from a string.
func stripANSI(s string) string {
	var b strings.Builder
	inEscape := false
	for i := 0; i < len(s); i++ {
		if s[i] == '\033' {
			inEscape = true
			continue
		}
		if inEscape {
			if (s[i] >= 'a' && s[i] <= 'z') || (s[i] >= 'A' && s[i] <= 'Z') {
				inEscape = false
			}
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
