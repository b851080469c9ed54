// Package metrics provides the skill scores used to compare simulated
// records against observations, plus composable wrappers that adjust how a
// score is computed (missing-data policy, bounding, normalizing, low-flow
// emphasis, split-period evaluation).
//
// All metrics follow the maximize convention: a perfect simulation scores
// 1 and worse simulations score lower. A record that cannot be scored at
// all yields -Inf, never NaN.
package metrics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Metric scores a simulated record against an observed one. Both slices
// are compared positionally and must be the same length; callers are
// expected to have applied a pairing policy (see SkipMissing) first.
type Metric func(observed, simulated []float64) float64

// Unscorable is returned when a record carries no usable information for
// the requested score.
var Unscorable = math.Inf(-1)

// NSE is the Nash-Sutcliffe efficiency: 1 minus the ratio of residual
// variance to observed variance. 1 is a perfect fit; 0 matches the
// observed mean; negative is worse than the mean.
func NSE(observed, simulated []float64) float64 {
	if len(observed) < 2 || len(observed) != len(simulated) {
		return Unscorable
	}
	d := floats.Distance(observed, simulated, 2)
	num := d * d
	den := stat.Variance(observed, nil) * float64(len(observed)-1)
	if num == 0 {
		return 1
	}
	if den == 0 {
		return Unscorable
	}
	return 1 - num/den
}

// LogNSE is NSE computed on log-transformed records, emphasizing low-flow
// behavior. Values are offset by one hundredth of the observed mean before
// the transform so that zero flows remain finite.
func LogNSE(observed, simulated []float64) float64 {
	if len(observed) < 2 || len(observed) != len(simulated) {
		return Unscorable
	}
	eps := lowFlowEpsilon(observed)
	lo := make([]float64, len(observed))
	ls := make([]float64, len(simulated))
	for i := range observed {
		if observed[i]+eps <= 0 || simulated[i]+eps <= 0 {
			return Unscorable
		}
		lo[i] = math.Log(observed[i] + eps)
		ls[i] = math.Log(simulated[i] + eps)
	}
	return NSE(lo, ls)
}

// KGE is the Kling-Gupta efficiency: 1 minus the Euclidean distance of
// (correlation, variability ratio, bias ratio) from the ideal point
// (1, 1, 1).
func KGE(observed, simulated []float64) float64 {
	if len(observed) < 2 || len(observed) != len(simulated) {
		return Unscorable
	}
	obsMean := stat.Mean(observed, nil)
	obsStd := stat.StdDev(observed, nil)
	if obsMean == 0 || obsStd == 0 {
		return Unscorable
	}
	r := stat.Correlation(observed, simulated, nil)
	alpha := stat.StdDev(simulated, nil) / obsStd
	beta := stat.Mean(simulated, nil) / obsMean
	if math.IsNaN(r) {
		return Unscorable
	}
	return 1 - math.Sqrt((r-1)*(r-1)+(alpha-1)*(alpha-1)+(beta-1)*(beta-1))
}

// lowFlowEpsilon is the offset applied before reciprocal or log
// transforms. One hundredth of the observed mean is the conventional
// choice; a small constant covers all-zero records.
func lowFlowEpsilon(observed []float64) float64 {
	m := stat.Mean(observed, nil)
	if m <= 0 {
		return 1e-6
	}
	return m / 100
}

var byName = map[string]Metric{
	"nse":     NSE,
	"log_nse": LogNSE,
	"kge":     KGE,
}

// ByName resolves a metric from its configuration name.
func ByName(name string) (Metric, error) {
	m, ok := byName[name]
	if !ok {
		return nil, fmt.Errorf("metrics: unknown metric %q", name)
	}
	return m, nil
}

// Names lists the metrics available to configuration, sorted.
func Names() []string {
	return []string{"kge", "log_nse", "nse"}
}
