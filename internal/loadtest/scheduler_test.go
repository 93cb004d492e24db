package loadtest_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wesleyorama2/deliveryload/internal/loadtest"
	"github.com/wesleyorama2/deliveryload/internal/loadtest/metrics"
)

func TestDefaultHTTPClientConfig(t *testing.T) {
	config := loadtest.DefaultHTTPClientConfig()

	if config.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", config.Timeout)
	}
	if config.MaxIdleConns != 1000 {
		t.Errorf("MaxIdleConns = %d, want 1000", config.MaxIdleConns)
	}
	if config.MaxIdleConnsPerHost != 100 {
		t.Errorf("MaxIdleConnsPerHost = %d, want 100", config.MaxIdleConnsPerHost)
	}
	if config.IdleConnTimeout != 90*time.Second {
		t.Errorf("IdleConnTimeout = %v, want 90s", config.IdleConnTimeout)
	}
	if !config.UseSharedClient {
		t.Error("UseSharedClient should be true by default")
	}
	if config.MaxRPS != 0 {
		t.Errorf("MaxRPS = %v, want 0", config.MaxRPS)
	}
}

func TestVUScheduler_SpawnVU(t *testing.T) {
	engine := metrics.NewEngine()
	defer engine.Stop()

	s := loadtest.NewVUScheduler(&funcScenario{}, loadtest.SetupData{}, engine, loadtest.DefaultHTTPClientConfig())

	vu1 := s.SpawnVU()
	vu2 := s.SpawnVU()

	if vu1.ID == vu2.ID {
		t.Errorf("VU IDs should be unique, both are %d", vu1.ID)
	}
	if vu1.HTTPClient != vu2.HTTPClient {
		t.Error("VUs should share the HTTP client when UseSharedClient is set")
	}
	if s.GetActiveVUCount() != 2 {
		t.Errorf("GetActiveVUCount() = %d, want 2", s.GetActiveVUCount())
	}

	vu1.RequestStop()
	if s.GetActiveVUCount() != 1 {
		t.Errorf("GetActiveVUCount() after RequestStop = %d, want 1", s.GetActiveVUCount())
	}
}

func TestVUScheduler_PerVUClients(t *testing.T) {
	engine := metrics.NewEngine()
	defer engine.Stop()

	config := loadtest.DefaultHTTPClientConfig()
	config.UseSharedClient = false
	s := loadtest.NewVUScheduler(&funcScenario{}, nil, engine, config)

	if s.SpawnVU().HTTPClient == s.SpawnVU().HTTPClient {
		t.Error("VUs should have their own client when UseSharedClient is false")
	}
}

func TestVUScheduler_SetupDataReachesIterations(t *testing.T) {
	engine := metrics.NewEngine()
	defer engine.Stop()

	var seen atomic.Value
	scenario := &funcScenario{iterate: func(_ context.Context, _ *loadtest.VirtualUser, data loadtest.SetupData) error {
		seen.Store(data["baseURL"])
		return nil
	}}
	s := loadtest.NewVUScheduler(scenario, loadtest.SetupData{"baseURL": "http://example.test"}, engine, loadtest.DefaultHTTPClientConfig())

	ctx := context.Background()
	n := s.RunVU(ctx, ctx, s.SpawnVU(), 1, nil)

	assert.Equal(t, int64(1), n)
	assert.Equal(t, "http://example.test", seen.Load())
}

func TestVUScheduler_RunVUMaxIterations(t *testing.T) {
	engine := metrics.NewEngine()
	defer engine.Stop()

	var calls atomic.Int32
	scenario := &funcScenario{iterate: func(context.Context, *loadtest.VirtualUser, loadtest.SetupData) error {
		calls.Add(1)
		return nil
	}}
	s := loadtest.NewVUScheduler(scenario, nil, engine, loadtest.DefaultHTTPClientConfig())

	vu := s.SpawnVU()
	ctx := context.Background()
	n := s.RunVU(ctx, ctx, vu, 5, nil)

	assert.Equal(t, int64(5), n)
	assert.Equal(t, int32(5), calls.Load())
	assert.Equal(t, loadtest.VUStateStopped, vu.GetState())
	assert.Equal(t, 0, s.GetActiveVUCount(), "finished VU should be deregistered")
	assert.True(t, s.Wait(time.Second))
}

func TestVUScheduler_GracefulStopFinishesIteration(t *testing.T) {
	engine := metrics.NewEngine()
	defer engine.Stop()

	started := make(chan struct{}, 1)
	var completed atomic.Int32
	scenario := &funcScenario{iterate: func(ctx context.Context, vu *loadtest.VirtualUser, _ loadtest.SetupData) error {
		select {
		case started <- struct{}{}:
		default:
		}
		vu.Sleep(ctx, 100*time.Millisecond)
		if ctx.Err() == nil {
			completed.Add(1)
		}
		return nil
	}}
	s := loadtest.NewVUScheduler(scenario, nil, engine, loadtest.DefaultHTTPClientConfig())

	runCtx, cancelRun := context.WithCancel(context.Background())
	iterCtx, cancelIter := context.WithCancel(context.Background())
	defer cancelIter()

	done := make(chan int64)
	go func() { done <- s.RunVU(runCtx, iterCtx, s.SpawnVU(), 0, nil) }()

	<-started
	cancelRun()

	select {
	case n := <-done:
		assert.Equal(t, int64(1), n)
		assert.Equal(t, int32(1), completed.Load(), "in-flight iteration should complete")
	case <-time.After(2 * time.Second):
		t.Fatal("RunVU did not return after run context was cancelled")
	}
}

func TestVUScheduler_HardStopInterruptsIteration(t *testing.T) {
	engine := metrics.NewEngine()
	defer engine.Stop()

	started := make(chan struct{}, 1)
	scenario := &funcScenario{iterate: func(ctx context.Context, vu *loadtest.VirtualUser, _ loadtest.SetupData) error {
		select {
		case started <- struct{}{}:
		default:
		}
		vu.Sleep(ctx, 10*time.Second)
		return ctx.Err()
	}}
	s := loadtest.NewVUScheduler(scenario, nil, engine, loadtest.DefaultHTTPClientConfig())

	runCtx, cancelRun := context.WithCancel(context.Background())
	iterCtx, cancelIter := context.WithCancel(context.Background())

	done := make(chan int64)
	go func() { done <- s.RunVU(runCtx, iterCtx, s.SpawnVU(), 0, nil) }()

	<-started
	cancelRun()
	cancelIter()

	select {
	case n := <-done:
		assert.Equal(t, int64(0), n)
		assert.Equal(t, int64(0), engine.GetSnapshot().Iterations, "interrupted iteration should not count")
	case <-time.After(2 * time.Second):
		t.Fatal("RunVU did not return after iteration context was cancelled")
	}
}

func TestVUScheduler_Shutdown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	engine := metrics.NewEngine()
	defer engine.Stop()

	scenario := &funcScenario{iterate: func(ctx context.Context, vu *loadtest.VirtualUser, _ loadtest.SetupData) error {
		vu.Get(ctx, "ping", server.URL, nil)
		vu.Sleep(ctx, 10*time.Millisecond)
		return nil
	}}
	s := loadtest.NewVUScheduler(scenario, nil, engine, loadtest.DefaultHTTPClientConfig())

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		vu := s.SpawnVU()
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.RunVU(ctx, ctx, vu, 0, nil)
		}()
	}

	time.Sleep(50 * time.Millisecond)
	s.Shutdown(2 * time.Second)
	wg.Wait()

	assert.Equal(t, 0, s.GetActiveVUCount())
	assert.Greater(t, engine.GetSnapshot().TotalRequests, int64(0))
}

func TestVUScheduler_MaxRPS(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	engine := metrics.NewEngine()
	defer engine.Stop()

	config := loadtest.DefaultHTTPClientConfig()
	config.MaxRPS = 10
	scenario := &funcScenario{iterate: func(ctx context.Context, vu *loadtest.VirtualUser, _ loadtest.SetupData) error {
		vu.Get(ctx, "ping", server.URL, nil)
		return nil
	}}
	s := loadtest.NewVUScheduler(scenario, nil, engine, config)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		vu := s.SpawnVU()
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.RunVU(ctx, ctx, vu, 0, nil)
		}()
	}
	wg.Wait()

	// burst of 10 plus ~5 refills in 500ms
	assert.LessOrEqual(t, hits.Load(), int32(17))
	assert.Greater(t, hits.Load(), int32(0))
}
