package loadtest_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/deliveryload/internal/loadtest"
	"github.com/wesleyorama2/deliveryload/internal/loadtest/metrics"
)

// funcScenario adapts a function to the Scenario interface.
type funcScenario struct {
	iterate func(ctx context.Context, vu *loadtest.VirtualUser, data loadtest.SetupData) error
}

func (s *funcScenario) Name() string { return "func" }

func (s *funcScenario) Setup(context.Context) (loadtest.SetupData, error) {
	return loadtest.SetupData{}, nil
}

func (s *funcScenario) Iterate(ctx context.Context, vu *loadtest.VirtualUser, data loadtest.SetupData) error {
	if s.iterate == nil {
		return nil
	}
	return s.iterate(ctx, vu, data)
}

func (s *funcScenario) Teardown(context.Context, loadtest.SetupData) error { return nil }

func newTestVU(scenario loadtest.Scenario, engine *metrics.Engine) *loadtest.VirtualUser {
	client := &http.Client{Timeout: 5 * time.Second}
	return loadtest.NewVirtualUser(1, scenario, client, engine)
}

func TestNewVirtualUser(t *testing.T) {
	engine := metrics.NewEngine()
	defer engine.Stop()

	vu := newTestVU(&funcScenario{}, engine)

	if vu.ID != 1 {
		t.Errorf("VU ID = %d, want 1", vu.ID)
	}
	if vu.HTTPClient == nil {
		t.Error("VU HTTPClient is nil")
	}
	if vu.Rand() == nil {
		t.Error("VU Rand is nil")
	}
	if vu.GetState() != loadtest.VUStateIdle {
		t.Errorf("Initial VU state = %v, want %v", vu.GetState(), loadtest.VUStateIdle)
	}
	if vu.GetIteration() != 0 {
		t.Errorf("Initial iteration = %d, want 0", vu.GetIteration())
	}
}

func TestVUState_String(t *testing.T) {
	tests := []struct {
		state loadtest.VUState
		want  string
	}{
		{loadtest.VUStateIdle, "idle"},
		{loadtest.VUStateRunning, "running"},
		{loadtest.VUStateStopping, "stopping"},
		{loadtest.VUStateStopped, "stopped"},
		{loadtest.VUState(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("VUState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestVirtualUser_RunIteration(t *testing.T) {
	engine := metrics.NewEngine()
	defer engine.Stop()

	var calls atomic.Int32
	vu := newTestVU(&funcScenario{iterate: func(context.Context, *loadtest.VirtualUser, loadtest.SetupData) error {
		calls.Add(1)
		return nil
	}}, engine)

	for i := 0; i < 3; i++ {
		require.NoError(t, vu.RunIteration(context.Background()))
	}

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int64(3), vu.GetIteration())
	assert.Equal(t, int64(3), engine.GetSnapshot().Iterations)
	assert.Equal(t, loadtest.VUStateIdle, vu.GetState())
}

func TestVirtualUser_RunIterationCancelledContext(t *testing.T) {
	engine := metrics.NewEngine()
	defer engine.Stop()

	vu := newTestVU(&funcScenario{}, engine)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, vu.RunIteration(ctx))
	assert.Equal(t, int64(0), vu.GetIteration())
}

func TestVirtualUser_RunIterationAfterStop(t *testing.T) {
	engine := metrics.NewEngine()
	defer engine.Stop()

	vu := newTestVU(&funcScenario{}, engine)
	vu.RequestStop()

	assert.Error(t, vu.RunIteration(context.Background()))
	assert.Equal(t, loadtest.VUStateStopping, vu.GetState())
}

func TestVirtualUser_DoRecordsOutcome(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Write([]byte(`{"data":[]}`))
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	engine := metrics.NewEngine()
	defer engine.Stop()
	vu := newTestVU(&funcScenario{}, engine)

	ctx := context.Background()
	ok := vu.Get(ctx, "ok", server.URL+"/ok", nil)
	missing := vu.Get(ctx, "missing", server.URL+"/missing", nil)
	broken := vu.Get(ctx, "broken", server.URL+"/broken", nil)

	assert.True(t, ok.OK(http.StatusOK))
	assert.True(t, ok.ValidJSON())
	assert.True(t, ok.JSON("data").IsArray())
	assert.True(t, missing.StatusIn(http.StatusOK, http.StatusNotFound))
	assert.Equal(t, http.StatusInternalServerError, broken.Status)

	snapshot := engine.GetSnapshot()
	assert.Equal(t, int64(3), snapshot.TotalRequests)
	assert.Equal(t, int64(1), snapshot.SuccessRequests)
	assert.Equal(t, int64(2), snapshot.FailedRequests)
}

func TestVirtualUser_DoTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	engine := metrics.NewEngine()
	defer engine.Stop()
	vu := newTestVU(&funcScenario{}, engine)

	resp := vu.Get(context.Background(), "down", url, nil)

	assert.Error(t, resp.Error)
	assert.Equal(t, 0, resp.Status)
	assert.False(t, resp.Interrupted)
	assert.False(t, resp.OK(http.StatusOK))
	assert.Equal(t, int64(1), engine.GetSnapshot().FailedRequests)
}

func TestVirtualUser_DoInterruptedNotRecorded(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	engine := metrics.NewEngine()
	defer engine.Stop()
	vu := newTestVU(&funcScenario{}, engine)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	resp := vu.Get(ctx, "slow", server.URL, nil)

	assert.True(t, resp.Interrupted)
	assert.False(t, vu.Check(resp, loadtest.Check{Name: "slow is 200", Fn: func(r *loadtest.Response) bool { return r.OK(200) }}))
	snapshot := engine.GetSnapshot()
	assert.Equal(t, int64(0), snapshot.TotalRequests)
	assert.Empty(t, snapshot.Checks)
}

func TestVirtualUser_PostJSON(t *testing.T) {
	var gotBody string
	var gotType, gotAgent, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		gotType = r.Header.Get("Content-Type")
		gotAgent = r.Header.Get("User-Agent")
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	engine := metrics.NewEngine()
	defer engine.Stop()

	s := loadtest.NewVUScheduler(&funcScenario{}, nil, engine, loadtest.HTTPClientConfig{
		Timeout:         5 * time.Second,
		UseSharedClient: true,
		UserAgent:       "deliveryload-test",
	})
	vu := s.SpawnVU()

	header := http.Header{}
	header.Set("Authorization", "Bearer abc")
	resp := vu.PostJSON(context.Background(), "signup", server.URL, map[string]string{"email": "a@b.c"}, header)

	require.NoError(t, resp.Error)
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.JSONEq(t, `{"email":"a@b.c"}`, gotBody)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, "deliveryload-test", gotAgent)
	assert.Equal(t, "Bearer abc", gotAuth)
	assert.Empty(t, header.Get("Content-Type"), "caller header must not be mutated")
}

func TestVirtualUser_CheckEvaluatesAll(t *testing.T) {
	engine := metrics.NewEngine()
	defer engine.Stop()
	vu := newTestVU(&funcScenario{}, engine)

	resp := &loadtest.Response{Status: 200, Body: []byte(`{"data":{}}`)}
	passed := vu.Check(resp,
		loadtest.Check{Name: "status is 200", Fn: func(r *loadtest.Response) bool { return r.OK(200) }},
		loadtest.Check{Name: "data is array", Fn: func(r *loadtest.Response) bool { return r.JSON("data").IsArray() }},
		loadtest.Check{Name: "has data", Fn: func(r *loadtest.Response) bool { return r.JSON("data").Exists() }},
	)

	assert.False(t, passed)
	snapshot := engine.GetSnapshot()
	assert.Equal(t, int64(2), snapshot.ChecksPassed)
	assert.Equal(t, int64(1), snapshot.ChecksFailed)
	require.Len(t, snapshot.Checks, 3)
	assert.Equal(t, "status is 200", snapshot.Checks[0].Name)
}

func TestVirtualUser_SleepHonoursContext(t *testing.T) {
	engine := metrics.NewEngine()
	defer engine.Stop()
	vu := newTestVU(&funcScenario{}, engine)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	vu.Sleep(ctx, 5*time.Second)
	assert.Less(t, time.Since(start), time.Second)
}

func TestVirtualUser_StopLifecycle(t *testing.T) {
	engine := metrics.NewEngine()
	defer engine.Stop()
	vu := newTestVU(&funcScenario{}, engine)

	vu.RequestStop()
	vu.RequestStop()
	select {
	case <-vu.Stopping():
	default:
		t.Fatal("Stopping channel should be closed after RequestStop")
	}

	assert.Equal(t, loadtest.VUStateStopping, vu.GetState())

	vu.MarkStopped()
	vu.MarkStopped()
	assert.Equal(t, loadtest.VUStateStopped, vu.GetState())
}

func TestTruthy(t *testing.T) {
	tests := []struct {
		body string
		want bool
	}{
		{`{"token":"abc"}`, true},
		{`{"token":""}`, false},
		{`{"token":null}`, false},
		{`{"token":false}`, false},
		{`{"token":0}`, false},
		{`{"token":7}`, true},
		{`{"token":{}}`, true},
		{`{}`, false},
	}

	for _, tt := range tests {
		resp := &loadtest.Response{Body: []byte(tt.body)}
		if got := loadtest.Truthy(resp.JSON("token")); got != tt.want {
			t.Errorf("Truthy(%s) = %v, want %v", tt.body, got, tt.want)
		}
	}
}
