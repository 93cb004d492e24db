package loadtest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/wesleyorama2/deliveryload/internal/loadtest/metrics"
)

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	// VUStateIdle indicates the VU is ready but not currently running.
	VUStateIdle VUState = iota
	// VUStateRunning indicates the VU is inside an iteration.
	VUStateRunning
	// VUStateStopping indicates the VU has been asked to stop after the current iteration.
	VUStateStopping
	// VUStateStopped indicates the VU has fully stopped.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// VirtualUser represents a single simulated user executing iterations.
//
// Each VU has its own random source and iteration counter. Nothing an
// iteration computes is stored on the VU, so iterations never observe each
// other's tokens or ids.
type VirtualUser struct {
	// Unique identifier for this VU
	ID int

	// Scenario executed by every iteration
	Scenario Scenario

	// HTTP client (shared across VUs by default)
	HTTPClient *http.Client

	// Metrics engine for recording results
	Metrics *metrics.Engine

	setupData SetupData
	limiter   *rate.Limiter
	userAgent string
	rng       *rand.Rand

	state     atomic.Int32
	stopCh    chan struct{}
	iteration atomic.Int64
}

// NewVirtualUser creates a new Virtual User.
func NewVirtualUser(id int, scenario Scenario, httpClient *http.Client, metricsEngine *metrics.Engine) *VirtualUser {
	return &VirtualUser{
		ID:         id,
		Scenario:   scenario,
		HTTPClient: httpClient,
		Metrics:    metricsEngine,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano() + int64(id))),
		stopCh:     make(chan struct{}),
	}
}

// GetState returns the current VU state.
func (vu *VirtualUser) GetState() VUState {
	return VUState(vu.state.Load())
}

// GetIteration returns the number of iterations started.
func (vu *VirtualUser) GetIteration() int64 {
	return vu.iteration.Load()
}

// Rand returns the VU's private random source.
func (vu *VirtualUser) Rand() *rand.Rand {
	return vu.rng
}

// RunIteration executes one iteration of the scenario.
//
// Returns an error if the VU is stopping, the context is done, or the
// scenario reported a fatal iteration error.
func (vu *VirtualUser) RunIteration(ctx context.Context) error {
	currentState := vu.GetState()
	if currentState == VUStateStopping || currentState == VUStateStopped {
		return fmt.Errorf("VU %d is stopping or stopped", vu.ID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateRunning))
	vu.iteration.Add(1)

	err := vu.Scenario.Iterate(ctx, vu, vu.setupData)

	if ctx.Err() == nil {
		vu.Metrics.RecordIteration()
	}
	vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateIdle))
	return err
}

// Do executes req and records its latency and outcome.
//
// A request counts as successful when no transport error occurred and the
// status is below 400.
func (vu *VirtualUser) Do(ctx context.Context, req *Request) *Response {
	resp := &Response{Name: req.Name}

	if vu.limiter != nil {
		if err := vu.limiter.Wait(ctx); err != nil {
			resp.Error = err
			resp.Interrupted = ctx.Err() != nil
			return resp
		}
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		resp.Error = fmt.Errorf("failed to build request: %w", err)
		vu.Metrics.RecordLatency(0, req.Name, false, 0)
		return resp
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if vu.userAgent != "" && httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", vu.userAgent)
	}

	start := time.Now()
	httpResp, err := vu.HTTPClient.Do(httpReq)
	if err != nil {
		resp.Duration = time.Since(start)
		resp.Error = err
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			resp.Interrupted = true
			return resp
		}
		vu.Metrics.RecordLatency(resp.Duration, req.Name, false, 0)
		return resp
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	resp.Duration = time.Since(start)
	resp.Status = httpResp.StatusCode
	resp.Header = httpResp.Header
	resp.Body = data
	if err != nil {
		resp.Error = fmt.Errorf("failed to read response body: %w", err)
		if ctx.Err() != nil {
			resp.Interrupted = true
			return resp
		}
	}

	success := resp.Error == nil && resp.Status < 400
	vu.Metrics.RecordLatency(resp.Duration, req.Name, success, int64(len(data)))
	return resp
}

// Get issues a GET request.
func (vu *VirtualUser) Get(ctx context.Context, name, url string, header http.Header) *Response {
	return vu.Do(ctx, &Request{Name: name, Method: http.MethodGet, URL: url, Header: header})
}

// PostJSON marshals payload and POSTs it with a JSON content type.
func (vu *VirtualUser) PostJSON(ctx context.Context, name, url string, payload any, header http.Header) *Response {
	body, err := json.Marshal(payload)
	if err != nil {
		vu.Metrics.RecordLatency(0, name, false, 0)
		return &Response{Name: name, Error: fmt.Errorf("failed to encode body: %w", err)}
	}

	h := header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	h.Set("Content-Type", "application/json")

	return vu.Do(ctx, &Request{Name: name, Method: http.MethodPost, URL: url, Header: h, Body: body})
}

// Check evaluates every check against resp and records each outcome.
//
// All checks are evaluated even after one fails. Returns true only if all
// passed. Checks against an interrupted response are not recorded and
// report false.
func (vu *VirtualUser) Check(resp *Response, checks ...Check) bool {
	if resp.Interrupted {
		return false
	}

	passed := true
	for _, c := range checks {
		ok := c.Fn(resp)
		vu.Metrics.RecordCheck(c.Name, ok)
		if !ok {
			passed = false
		}
	}
	return passed
}

// Sleep pauses the iteration for d, returning early if ctx is done.
//
// A stop request does not cut the pause short; the iteration is allowed to
// finish and the executor's graceful-stop timeout bounds how long that takes.
func (vu *VirtualUser) Sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// RequestStop signals the VU to stop after completing the current iteration.
func (vu *VirtualUser) RequestStop() {
	if vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateStopping)) ||
		vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateStopping)) {
		close(vu.stopCh)
	}
}

// Stopping returns a channel closed once RequestStop has been called.
func (vu *VirtualUser) Stopping() <-chan struct{} {
	return vu.stopCh
}

// MarkStopped marks the VU as fully stopped.
// Should be called when the VU goroutine exits.
func (vu *VirtualUser) MarkStopped() {
	prev := VUState(vu.state.Swap(int32(VUStateStopped)))
	if prev == VUStateStopped {
		return
	}
	if prev != VUStateStopping {
		close(vu.stopCh)
	}
}
