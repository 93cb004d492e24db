package metrics

import (
	"sync"
	"sync/atomic"
)

type checkCounter struct {
	passes atomic.Int64
	fails  atomic.Int64
}

// checkRegistry keeps per-check counters in first-seen order.
type checkRegistry struct {
	mu     sync.RWMutex
	order  []string
	checks map[string]*checkCounter

	passed atomic.Int64
	failed atomic.Int64
}

func newCheckRegistry() *checkRegistry {
	return &checkRegistry{checks: make(map[string]*checkCounter)}
}

func (r *checkRegistry) record(name string, ok bool) {
	r.mu.RLock()
	c, exists := r.checks[name]
	r.mu.RUnlock()

	if !exists {
		r.mu.Lock()
		if c, exists = r.checks[name]; !exists {
			c = &checkCounter{}
			r.checks[name] = c
			r.order = append(r.order, name)
		}
		r.mu.Unlock()
	}

	if ok {
		c.passes.Add(1)
		r.passed.Add(1)
	} else {
		c.fails.Add(1)
		r.failed.Add(1)
	}
}

func (r *checkRegistry) stats() []CheckStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]CheckStats, 0, len(r.order))
	for _, name := range r.order {
		c := r.checks[name]
		result = append(result, CheckStats{
			Name:   name,
			Passes: c.passes.Load(),
			Fails:  c.fails.Load(),
		})
	}
	return result
}
