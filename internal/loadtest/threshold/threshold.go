// Package threshold parses and evaluates pass/fail conditions over run
// metrics.
//
// Expressions are accepted in k6 form and in the spaced form:
//
//	p(95)<500        p95 < 500ms
//	rate<0.1         rate < 0.1
//	avg<200          count > 100
//
// On duration metrics a bare number is read as milliseconds.
package threshold

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wesleyorama2/deliveryload/internal/loadtest/metrics"
)

// Built-in metric names.
const (
	MetricHTTPReqDuration = "http_req_duration"
	MetricHTTPReqFailed   = "http_req_failed"
	MetricHTTPReqs        = "http_reqs"
	MetricChecks          = "checks"
	MetricIterations      = "iterations"
)

// Defaults mirrors the thresholds of the delivery load test.
func Defaults() map[string][]string {
	return map[string][]string{
		MetricHTTPReqDuration: {"p(95)<500"},
		MetricHTTPReqFailed:   {"rate<0.1"},
		metrics.ErrorsMetric:  {"rate<0.1"},
	}
}

var exprPattern = regexp.MustCompile(`^([a-z]+)(?:\(\s*([0-9.]+)\s*\)|([0-9.]+))?\s*(<=|>=|==|!=|<|>)\s*(\S+)$`)

// Expression is a parsed threshold condition.
type Expression struct {
	Raw string

	// Aggregation is one of p, min, max, avg, med, rate, count
	Aggregation string

	// Percentile is set when Aggregation is "p" (0-100)
	Percentile float64

	Op string

	// Value is the right-hand side; durations are stored in milliseconds
	Value float64
}

// Parse parses a threshold expression. Durations on the right-hand side
// ("500ms", "1.5s") are normalized to milliseconds.
func Parse(expr string) (*Expression, error) {
	raw := strings.TrimSpace(expr)
	if raw == "" {
		return nil, fmt.Errorf("threshold expression cannot be empty")
	}

	m := exprPattern.FindStringSubmatch(raw)
	if m == nil {
		return nil, fmt.Errorf("invalid threshold expression: %q", raw)
	}

	e := &Expression{Raw: raw, Aggregation: m[1], Op: m[4]}

	pct := m[2]
	if pct == "" {
		pct = m[3]
	}
	switch e.Aggregation {
	case "p":
		if pct == "" {
			return nil, fmt.Errorf("percentile missing in %q", raw)
		}
		v, err := strconv.ParseFloat(pct, 64)
		if err != nil || v < 0 || v > 100 {
			return nil, fmt.Errorf("invalid percentile %q in %q", pct, raw)
		}
		e.Percentile = v
	case "min", "max", "avg", "med", "rate", "count":
		if pct != "" {
			return nil, fmt.Errorf("unexpected argument to %s in %q", e.Aggregation, raw)
		}
	default:
		return nil, fmt.Errorf("unknown aggregation %q in %q", e.Aggregation, raw)
	}

	v, err := parseValue(m[5])
	if err != nil {
		return nil, fmt.Errorf("invalid threshold value in %q: %w", raw, err)
	}
	e.Value = v

	return e, nil
}

func parseValue(s string) (float64, error) {
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	return float64(d) / float64(time.Millisecond), nil
}

// Validate reports whether expr is a valid threshold for metric.
func Validate(metric, expr string) error {
	e, err := Parse(expr)
	if err != nil {
		return err
	}
	return checkAggregation(metric, e)
}

func checkAggregation(metric string, e *Expression) error {
	var allowed []string
	switch metric {
	case MetricHTTPReqDuration:
		allowed = []string{"p", "min", "max", "avg", "med"}
	case MetricHTTPReqs, MetricIterations:
		allowed = []string{"count", "rate"}
	case MetricHTTPReqFailed, MetricChecks, metrics.ErrorsMetric:
		allowed = []string{"rate"}
	default:
		return fmt.Errorf("unknown metric %q (supported: %s)", metric, strings.Join(Metrics(), ", "))
	}
	for _, a := range allowed {
		if e.Aggregation == a {
			return nil
		}
	}
	return fmt.Errorf("%s does not support %s (supported: %s)", metric, e.Aggregation, strings.Join(allowed, ", "))
}

// Metrics lists the metric names thresholds can be declared on.
func Metrics() []string {
	return []string{
		MetricChecks,
		metrics.ErrorsMetric,
		MetricHTTPReqDuration,
		MetricHTTPReqFailed,
		MetricHTTPReqs,
		MetricIterations,
	}
}

// Source provides the metrics a threshold is evaluated against.
type Source interface {
	GetSnapshot() *metrics.Snapshot
	Percentile(p float64) time.Duration
}

// Result contains the result of a threshold evaluation.
type Result struct {
	Metric     string `json:"metric"`
	Expression string `json:"expression"`
	Passed     bool   `json:"passed"`
	Value      string `json:"value"`
	Message    string `json:"message,omitempty"`
}

// Evaluate evaluates every threshold against src. Results are ordered by
// metric name, then by declaration order.
func Evaluate(thresholds map[string][]string, src Source) []Result {
	if len(thresholds) == 0 {
		return nil
	}

	names := make([]string, 0, len(thresholds))
	for name := range thresholds {
		names = append(names, name)
	}
	sort.Strings(names)

	snapshot := src.GetSnapshot()
	var results []Result
	for _, name := range names {
		for _, expr := range thresholds[name] {
			results = append(results, evaluateOne(name, expr, snapshot, src))
		}
	}
	return results
}

// AllPassed returns true if every result passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

func evaluateOne(metric, expr string, snapshot *metrics.Snapshot, src Source) Result {
	result := Result{Metric: metric, Expression: expr}

	e, err := Parse(expr)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse expression: %v", err)
		return result
	}
	if err := checkAggregation(metric, e); err != nil {
		result.Message = err.Error()
		return result
	}

	var actual float64
	switch metric {
	case MetricHTTPReqDuration:
		d := durationValue(e, snapshot, src)
		actual = float64(d) / float64(time.Millisecond)
		result.Value = d.String()

	case MetricHTTPReqFailed:
		actual = snapshot.ErrorRate
		result.Value = fmt.Sprintf("%.4f", actual)

	case MetricHTTPReqs:
		actual = countOrRate(e, snapshot.TotalRequests, snapshot.RPS)
		result.Value = fmt.Sprintf("%.2f", actual)

	case MetricIterations:
		actual = countOrRate(e, snapshot.Iterations, snapshot.IterationRate)
		result.Value = fmt.Sprintf("%.2f", actual)

	case MetricChecks:
		actual = snapshot.CheckRate()
		result.Value = fmt.Sprintf("%.4f", actual)

	default:
		stats, ok := snapshot.Rates[metric]
		if !ok || stats.Total == 0 {
			result.Value = "n/a"
			result.Message = fmt.Sprintf("%s has no samples, threshold: %s", metric, e.Raw)
			return result
		}
		actual = stats.Rate
		result.Value = fmt.Sprintf("%.4f", actual)
	}

	result.Passed = compare(actual, e.Op, e.Value)
	if !result.Passed {
		result.Message = fmt.Sprintf("%s is %s, threshold: %s", metric, result.Value, e.Raw)
	}
	return result
}

func durationValue(e *Expression, snapshot *metrics.Snapshot, src Source) time.Duration {
	switch e.Aggregation {
	case "min":
		return snapshot.Latency.Min
	case "max":
		return snapshot.Latency.Max
	case "avg":
		return snapshot.Latency.Mean
	case "med":
		return snapshot.Latency.P50
	default:
		return src.Percentile(e.Percentile)
	}
}

func countOrRate(e *Expression, count int64, rate float64) float64 {
	if e.Aggregation == "count" {
		return float64(count)
	}
	return rate
}

func compare(actual float64, op string, threshold float64) bool {
	switch op {
	case "<":
		return actual < threshold
	case "<=":
		return actual <= threshold
	case ">":
		return actual > threshold
	case ">=":
		return actual >= threshold
	case "==":
		return actual == threshold
	case "!=":
		return actual != threshold
	default:
		return false
	}
}
