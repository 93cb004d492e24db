package loadtest

import (
	"context"
	"crypto/tls"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/wesleyorama2/deliveryload/internal/loadtest/metrics"
)

// VUScheduler manages the lifecycle of Virtual Users.
//
// It owns the shared HTTP client and the optional global request-rate cap,
// and hands both to every VU it spawns. Executors use it to grow and shrink
// the VU pool.
type VUScheduler struct {
	scenario  Scenario
	setupData SetupData
	metrics   *metrics.Engine

	httpClientConfig HTTPClientConfig
	sharedClient     *http.Client
	limiter          *rate.Limiter

	vus      map[int]*VirtualUser
	vusMu    sync.RWMutex
	nextVUID atomic.Int32

	shutdownWg sync.WaitGroup
}

// HTTPClientConfig contains HTTP client configuration.
type HTTPClientConfig struct {
	// Timeout for HTTP requests
	Timeout time.Duration

	MaxIdleConns        int
	MaxIdleConnsPerHost int

	// MaxConnsPerHost limits the total connections per host (0 = unlimited)
	MaxConnsPerHost int

	IdleConnTimeout   time.Duration
	DisableKeepAlives bool

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool

	// UseSharedClient indicates whether VUs share a single HTTP client
	UseSharedClient bool

	// MaxRPS caps the request rate across all VUs (0 = unlimited)
	MaxRPS float64

	// UserAgent is set on requests that do not carry one
	UserAgent string
}

// DefaultHTTPClientConfig returns sensible defaults for load testing.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		Timeout:             30 * time.Second,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
		UseSharedClient:     true,
	}
}

// NewVUScheduler creates a new VU scheduler.
func NewVUScheduler(scenario Scenario, setupData SetupData, metricsEngine *metrics.Engine, httpConfig HTTPClientConfig) *VUScheduler {
	s := &VUScheduler{
		scenario:         scenario,
		setupData:        setupData,
		metrics:          metricsEngine,
		httpClientConfig: httpConfig,
		vus:              make(map[int]*VirtualUser),
	}

	if httpConfig.UseSharedClient {
		s.sharedClient = s.createHTTPClient()
	}
	if httpConfig.MaxRPS > 0 {
		burst := int(httpConfig.MaxRPS)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(httpConfig.MaxRPS), burst)
	}

	return s
}

func (s *VUScheduler) createHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        s.httpClientConfig.MaxIdleConns,
		MaxIdleConnsPerHost: s.httpClientConfig.MaxIdleConnsPerHost,
		MaxConnsPerHost:     s.httpClientConfig.MaxConnsPerHost,
		IdleConnTimeout:     s.httpClientConfig.IdleConnTimeout,
		DisableKeepAlives:   s.httpClientConfig.DisableKeepAlives,
		ForceAttemptHTTP2:   true,
	}
	if s.httpClientConfig.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for staging targets
	}

	return &http.Client{
		Transport: transport,
		Timeout:   s.httpClientConfig.Timeout,
	}
}

// SpawnVU creates and registers a new Virtual User. The caller runs it.
func (s *VUScheduler) SpawnVU() *VirtualUser {
	id := int(s.nextVUID.Add(1))

	client := s.sharedClient
	if client == nil {
		client = s.createHTTPClient()
	}

	vu := NewVirtualUser(id, s.scenario, client, s.metrics)
	vu.setupData = s.setupData
	vu.limiter = s.limiter
	vu.userAgent = s.httpClientConfig.UserAgent

	s.vusMu.Lock()
	s.vus[id] = vu
	s.vusMu.Unlock()

	return vu
}

// GetActiveVUCount returns the count of VUs that are neither stopping nor stopped.
func (s *VUScheduler) GetActiveVUCount() int {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	count := 0
	for _, vu := range s.vus {
		if st := vu.GetState(); st == VUStateIdle || st == VUStateRunning {
			count++
		}
	}
	return count
}

// StopAllVUs requests all VUs to stop after their current iteration.
func (s *VUScheduler) StopAllVUs() {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	for _, vu := range s.vus {
		vu.RequestStop()
	}
}

// RunVU runs iterations on vu until runCtx is done, the VU is asked to stop,
// or maxIterations (when > 0) have completed.
//
// Iterations execute under iterCtx, so an iteration that is in flight when
// runCtx expires can still complete; cancelling iterCtx interrupts it.
// pacing, if non-nil, is called between iterations. Returns the number of
// iterations run.
func (s *VUScheduler) RunVU(runCtx, iterCtx context.Context, vu *VirtualUser, maxIterations int64, pacing func(context.Context)) int64 {
	s.shutdownWg.Add(1)
	defer s.shutdownWg.Done()
	defer s.remove(vu)
	defer vu.MarkStopped()

	var done int64
	for {
		select {
		case <-runCtx.Done():
			return done
		case <-vu.Stopping():
			return done
		default:
		}

		if maxIterations > 0 && done >= maxIterations {
			return done
		}

		if err := vu.RunIteration(iterCtx); err != nil && iterCtx.Err() != nil {
			return done
		}
		done++

		if pacing != nil {
			pacing(runCtx)
		}
	}
}

func (s *VUScheduler) remove(vu *VirtualUser) {
	s.vusMu.Lock()
	delete(s.vus, vu.ID)
	s.vusMu.Unlock()
}

// Wait blocks until every VU started through RunVU has returned or the
// timeout expires. Returns true if all VUs returned.
func (s *VUScheduler) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.shutdownWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Shutdown stops all VUs, waits up to timeout for them, and releases idle
// connections.
func (s *VUScheduler) Shutdown(timeout time.Duration) {
	s.StopAllVUs()
	s.Wait(timeout)

	if s.sharedClient != nil {
		s.sharedClient.CloseIdleConnections()
	}
}
