package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/deliveryload/internal/loadtest"
	"github.com/wesleyorama2/deliveryload/internal/loadtest/metrics"
)

// pooledVU is a running VU and the cancel func of its iteration context.
type pooledVU struct {
	vu     *loadtest.VirtualUser
	cancel context.CancelFunc
}

// vuPool owns the goroutines of the VUs an executor keeps alive.
//
// Iterations run under a context separate from the run context: when the run
// ends, VUs stop starting new iterations but finish the current one until
// the graceful stop expires and the iteration context is cancelled.
type vuPool struct {
	scheduler     *loadtest.VUScheduler
	metrics       *metrics.Engine
	maxIterations int64
	pacing        func(context.Context)

	iterCtx    context.Context
	cancelIter context.CancelFunc

	vus []pooledVU
	mu  sync.Mutex
	wg  sync.WaitGroup

	active      atomic.Int32
	interrupted atomic.Bool
}

func newVUPool(scheduler *loadtest.VUScheduler, metricsEngine *metrics.Engine, maxIterations int64, pacing func(context.Context)) *vuPool {
	iterCtx, cancel := context.WithCancel(context.Background())
	return &vuPool{
		scheduler:     scheduler,
		metrics:       metricsEngine,
		maxIterations: maxIterations,
		pacing:        pacing,
		iterCtx:       iterCtx,
		cancelIter:    cancel,
	}
}

// resize grows or shrinks the pool to target VUs. VUs removed from the pool
// finish their current iteration within rampDown.
func (p *vuPool) resize(runCtx context.Context, target int, rampDown time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.vus) < target {
		p.startLocked(runCtx)
	}

	for len(p.vus) > target {
		last := p.vus[len(p.vus)-1]
		p.vus = p.vus[:len(p.vus)-1]
		last.vu.RequestStop()
		time.AfterFunc(rampDown, last.cancel)
	}
}

func (p *vuPool) startLocked(runCtx context.Context) {
	vu := p.scheduler.SpawnVU()
	ctx, cancel := context.WithCancel(p.iterCtx)
	p.vus = append(p.vus, pooledVU{vu: vu, cancel: cancel})

	p.wg.Add(1)
	p.active.Add(1)
	p.metrics.SetActiveVUs(int(p.active.Load()))

	go func() {
		defer p.wg.Done()
		defer cancel()
		defer func() {
			p.metrics.SetActiveVUs(int(p.active.Add(-1)))
		}()

		p.scheduler.RunVU(runCtx, ctx, vu, p.maxIterations, p.pacing)
	}()
}

// done returns a channel closed once every VU goroutine has returned.
func (p *vuPool) done() <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(ch)
	}()
	return ch
}

// drain asks every VU to stop and waits up to grace for in-flight
// iterations. Iterations still running after that are interrupted.
// Returns false if an interruption was needed.
func (p *vuPool) drain(grace time.Duration) bool {
	p.mu.Lock()
	for _, pv := range p.vus {
		pv.vu.RequestStop()
	}
	p.mu.Unlock()

	done := p.done()
	if p.active.Load() == 0 {
		<-done
		p.cancelIter()
		return true
	}

	if grace > 0 {
		timer := time.NewTimer(grace)
		defer timer.Stop()

		select {
		case <-done:
			p.cancelIter()
			return true
		case <-timer.C:
		}
	}

	p.interrupted.Store(true)
	p.cancelIter()
	<-done
	return false
}

// interrupt cancels every in-flight iteration immediately.
func (p *vuPool) interrupt() {
	p.interrupted.Store(true)
	p.cancelIter()
}
