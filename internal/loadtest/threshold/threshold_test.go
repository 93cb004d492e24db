package threshold

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/deliveryload/internal/loadtest/metrics"
)

func TestParse(t *testing.T) {
	tests := []struct {
		expr       string
		agg        string
		percentile float64
		op         string
		value      float64
	}{
		{"p(95)<500", "p", 95, "<", 500},
		{"p95 < 500ms", "p", 95, "<", 500},
		{"p(99.9) <= 1s", "p", 99.9, "<=", 1000},
		{"rate<0.1", "rate", 0, "<", 0.1},
		{"rate < 0.01", "rate", 0, "<", 0.01},
		{"avg<200", "avg", 0, "<", 200},
		{"med < 150ms", "med", 0, "<", 150},
		{"count > 100", "count", 0, ">", 100},
		{"max != 0", "max", 0, "!=", 0},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			e, err := Parse(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.agg, e.Aggregation)
			assert.InDelta(t, tt.percentile, e.Percentile, 1e-9)
			assert.Equal(t, tt.op, e.Op)
			assert.InDelta(t, tt.value, e.Value, 1e-9)
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, expr := range []string{
		"",
		"p95",
		"p(95) 500",
		"p(150)<500",
		"p<500",
		"rate(5)<0.1",
		"mean<200",
		"rate < fast",
	} {
		t.Run(expr, func(t *testing.T) {
			_, err := Parse(expr)
			assert.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(MetricHTTPReqDuration, "p(95)<500"))
	assert.NoError(t, Validate(MetricHTTPReqs, "count>10"))
	assert.NoError(t, Validate(metrics.ErrorsMetric, "rate<0.1"))
	assert.NoError(t, Validate(MetricChecks, "rate>0.9"))

	assert.Error(t, Validate(MetricHTTPReqDuration, "rate<0.1"))
	assert.Error(t, Validate(MetricHTTPReqFailed, "p(95)<500"))
	assert.Error(t, Validate(metrics.ErrorsMetric, "count<3"))
}

func newSource(t *testing.T) *metrics.Engine {
	t.Helper()
	engine := metrics.NewEngine()
	t.Cleanup(engine.Stop)

	// 90 fast and 10 slow requests, two of which failed
	for i := 0; i < 90; i++ {
		engine.RecordLatency(100*time.Millisecond, "fast", true, 10)
	}
	for i := 0; i < 10; i++ {
		engine.RecordLatency(800*time.Millisecond, "slow", i >= 2, 10)
	}
	for i := 0; i < 20; i++ {
		engine.AddRate(metrics.ErrorsMetric, i < 1)
	}
	engine.RecordCheck("status is 200", true)
	engine.RecordCheck("status is 200", false)
	return engine
}

func TestEvaluate(t *testing.T) {
	src := newSource(t)

	results := Evaluate(map[string][]string{
		MetricHTTPReqDuration: {"p(95)<500", "p(50)<500", "med<200ms"},
		MetricHTTPReqFailed:   {"rate<0.1"},
		metrics.ErrorsMetric:  {"rate<0.1"},
		MetricHTTPReqs:        {"count>=100"},
		MetricChecks:          {"rate>0.9"},
	}, src)

	byExpr := make(map[string]Result)
	for _, r := range results {
		byExpr[r.Metric+" "+r.Expression] = r
	}

	assert.False(t, byExpr["http_req_duration p(95)<500"].Passed)
	assert.NotEmpty(t, byExpr["http_req_duration p(95)<500"].Message)
	assert.True(t, byExpr["http_req_duration p(50)<500"].Passed)
	assert.True(t, byExpr["http_req_duration med<200ms"].Passed)
	assert.True(t, byExpr["http_req_failed rate<0.1"].Passed)
	assert.Equal(t, "0.0200", byExpr["http_req_failed rate<0.1"].Value)
	assert.True(t, byExpr["errors rate<0.1"].Passed)
	assert.True(t, byExpr["http_reqs count>=100"].Passed)
	assert.False(t, byExpr["checks rate>0.9"].Passed)

	assert.False(t, AllPassed(results))
}

func TestEvaluate_Ordering(t *testing.T) {
	src := newSource(t)

	results := Evaluate(map[string][]string{
		MetricHTTPReqs:        {"count>0"},
		metrics.ErrorsMetric:  {"rate<0.5"},
		MetricHTTPReqDuration: {"max<10s", "min>0"},
	}, src)

	require.Len(t, results, 4)
	assert.Equal(t, metrics.ErrorsMetric, results[0].Metric)
	assert.Equal(t, MetricHTTPReqDuration, results[1].Metric)
	assert.Equal(t, "max<10s", results[1].Expression)
	assert.Equal(t, "min>0", results[2].Expression)
	assert.Equal(t, MetricHTTPReqs, results[3].Metric)
	assert.True(t, AllPassed(results))
}

func TestEvaluate_ParseErrorFails(t *testing.T) {
	src := newSource(t)

	results := Evaluate(map[string][]string{MetricHTTPReqFailed: {"p(95)<500", "bogus"}}, src)

	require.Len(t, results, 2)
	for _, r := range results {
		assert.False(t, r.Passed)
		assert.NotEmpty(t, r.Message)
	}
}

func TestValidate_UnknownMetric(t *testing.T) {
	err := Validate("erors", "rate<0.1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown metric "erors"`)

	for _, metric := range Metrics() {
		assert.Contains(t, err.Error(), metric)
	}
}

func TestEvaluate_UnknownMetricFails(t *testing.T) {
	src := newSource(t)

	results := Evaluate(map[string][]string{"erors": {"rate<0.1"}}, src)

	require.Len(t, results, 1)
	assert.False(t, results[0].Passed)
	assert.Contains(t, results[0].Message, "unknown metric")
}

func TestEvaluate_RateWithoutSamplesFails(t *testing.T) {
	engine := metrics.NewEngine()
	defer engine.Stop()

	results := Evaluate(map[string][]string{metrics.ErrorsMetric: {"rate<0.1"}}, engine)

	require.Len(t, results, 1)
	assert.False(t, results[0].Passed)
	assert.Equal(t, "n/a", results[0].Value)
	assert.Contains(t, results[0].Message, "no samples")
}

func TestDefaults(t *testing.T) {
	defaults := Defaults()

	assert.Equal(t, []string{"p(95)<500"}, defaults[MetricHTTPReqDuration])
	assert.Equal(t, []string{"rate<0.1"}, defaults[MetricHTTPReqFailed])
	assert.Equal(t, []string{"rate<0.1"}, defaults[metrics.ErrorsMetric])
	for metric, exprs := range defaults {
		for _, expr := range exprs {
			assert.NoError(t, Validate(metric, expr))
		}
	}
}
