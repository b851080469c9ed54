package metrics

import (
	"gonum.org/v1/gonum/stat"

	"github.com/openhydrology/flume/internal/timeseries"
)

// SkipMissing wraps a metric so that sample pairs with a missing observed
// or simulated side are dropped before scoring. With no overlapping
// samples the record is unscorable.
func SkipMissing(m Metric) Metric {
	return func(observed, simulated []float64) float64 {
		obs, sim := timeseries.Paired(observed, simulated)
		if len(obs) == 0 {
			return Unscorable
		}
		return m(obs, sim)
	}
}

// Bound maps a metric onto (-1, 1] via m/(2-m), compressing the unbounded
// negative tail of efficiency scores.
func Bound(m Metric) Metric {
	return func(observed, simulated []float64) float64 {
		v := m(observed, simulated)
		if v == Unscorable {
			return Unscorable
		}
		return v / (2 - v)
	}
}

// Normalize maps a metric onto (0, 1] via 1/(2-m).
func Normalize(m Metric) Metric {
	return func(observed, simulated []float64) float64 {
		v := m(observed, simulated)
		if v == Unscorable {
			return Unscorable
		}
		return 1 / (2 - v)
	}
}

// MeanInverse averages a metric over the raw records and their
// reciprocals, balancing high-flow and low-flow fit. Reciprocals are
// offset by one hundredth of the observed mean so zero samples stay
// finite.
func MeanInverse(m Metric) Metric {
	return func(observed, simulated []float64) float64 {
		eps := lowFlowEpsilon(observed)
		io := make([]float64, len(observed))
		is := make([]float64, len(simulated))
		for i := range observed {
			io[i] = 1 / (observed[i] + eps)
		}
		for i := range simulated {
			is[i] = 1 / (simulated[i] + eps)
		}
		return (m(observed, simulated) + m(io, is)) / 2
	}
}

// Reduction combines per-chunk scores into one value.
type Reduction func(scores []float64) float64

// MeanReduction averages chunk scores.
func MeanReduction(scores []float64) float64 {
	return stat.Mean(scores, nil)
}

// MinReduction takes the worst chunk score.
func MinReduction(scores []float64) float64 {
	min := scores[0]
	for _, s := range scores[1:] {
		if s < min {
			min = s
		}
	}
	return min
}

// Split partitions the records into fixed-size chunks, scores each chunk
// independently, and combines the chunk scores with the reduction. A
// trailing partial chunk is scored like any other. Chunks that come out
// unscorable are dropped before the reduction; if every chunk is
// unscorable, so is the whole record.
func Split(m Metric, size int, reduce Reduction) Metric {
	return func(observed, simulated []float64) float64 {
		if size <= 0 || len(observed) == 0 {
			return Unscorable
		}
		n := len(observed)
		if len(simulated) < n {
			n = len(simulated)
		}
		scores := make([]float64, 0, n/size+1)
		for start := 0; start < n; start += size {
			end := start + size
			if end > n {
				end = n
			}
			s := m(observed[start:end], simulated[start:end])
			if s == Unscorable {
				continue
			}
			scores = append(scores, s)
		}
		if len(scores) == 0 {
			return Unscorable
		}
		return reduce(scores)
	}
}
