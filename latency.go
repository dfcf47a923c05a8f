package mimicidx

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// LatencyStats summarizes a batch of query durations for the
// non-strict performance check in Scenario E6 -- the verify CLI
// samples known subjects, times each lookup, and reports these.
type LatencyStats struct {
	Count  int
	Median time.Duration
	P99    time.Duration
	Max    time.Duration
}

// SummarizeLatencies computes LatencyStats over samples. It does not
// fail on an empty slice; Count is simply 0.
func SummarizeLatencies(samples []time.Duration) LatencyStats {
	if len(samples) == 0 {
		return LatencyStats{}
	}

	values := make([]float64, len(samples))
	for i, d := range samples {
		values[i] = float64(d)
	}
	sort.Float64s(values)

	median := stat.Quantile(0.5, stat.Empirical, values, nil)
	p99 := stat.Quantile(0.99, stat.Empirical, values, nil)

	return LatencyStats{
		Count:  len(samples),
		Median: time.Duration(median),
		P99:    time.Duration(p99),
		Max:    time.Duration(values[len(values)-1]),
	}
}
