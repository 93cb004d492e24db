package metrics

import "sync/atomic"

// Rate tracks the fraction of samples that were true.
//
// It mirrors the k6 Rate metric: Add(true) counts as a hit, Add(false) only
// grows the denominator. Safe for concurrent use.
type Rate struct {
	name  string
	trues atomic.Int64
	total atomic.Int64
}

// NewRate creates an empty rate metric.
func NewRate(name string) *Rate {
	return &Rate{name: name}
}

// Name returns the metric name.
func (r *Rate) Name() string {
	return r.name
}

// Add records one sample.
func (r *Rate) Add(hit bool) {
	if hit {
		r.trues.Add(1)
	}
	r.total.Add(1)
}

// Stats returns the current value of the rate.
func (r *Rate) Stats() RateStats {
	trues := r.trues.Load()
	total := r.total.Load()

	stats := RateStats{
		Name:    r.name,
		Trues:   trues,
		Total:   total,
		Samples: total > 0,
	}
	if total > 0 {
		stats.Rate = float64(trues) / float64(total)
	}
	return stats
}
