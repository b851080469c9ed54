package calibrate

import (
	"fmt"
	"math"
	"time"

	"github.com/openhydrology/flume/internal/metrics"
	"github.com/openhydrology/flume/internal/optimizer"
)

// Options configures a calibration. Construct with DefaultOptions and
// override fields as needed; Validate rejects a zero Options.
type Options struct {
	// MaxTime bounds the optimizer wall clock per node.
	MaxTime time.Duration

	// TraceInterval is the spacing of calibration.trace events.
	TraceInterval time.Duration

	// MaxIterations caps optimizer iterations per node when positive.
	MaxIterations int

	// MaxEvaluations caps objective evaluations per node when positive.
	MaxEvaluations int

	// TargetFitness stops a node's search early once its best fitness
	// exceeds this value. NaN disables the early stop.
	TargetFitness float64

	// Isolated calibrates the requested node only, taking upstream
	// nodes as they currently stand instead of calibrating them first.
	Isolated bool

	// Weighting blends flow against downstream reservoir level in
	// dependent objectives. 0 scores level only, 1 scores flow only.
	Weighting float64

	// Metric scores nodes that have no entry in MetricByNode.
	Metric metrics.Metric

	// MetricByNode overrides the metric for individual nodes by name.
	MetricByNode map[string]metrics.Metric

	// Extraction and Exchange override the forcing columns for the
	// node under calibration.
	Extraction []float64
	Exchange   []float64

	// Backend performs the parameter search.
	Backend optimizer.Backend
}

// DefaultOptions returns the documented defaults: five minute searches
// traced every thirty seconds, no fitness target, recursive upstream
// calibration, an even flow/level blend, and Nash-Sutcliffe scoring
// under Nelder-Mead.
func DefaultOptions() Options {
	return Options{
		MaxTime:       optimizer.DefaultMaxTime,
		TraceInterval: optimizer.DefaultTraceInterval,
		TargetFitness: math.NaN(),
		Weighting:     0.5,
		Metric:        metrics.NSE,
		Backend:       &optimizer.NelderMead{},
	}
}

// Validate reports the first configuration error.
func (o *Options) Validate() error {
	if o.MaxTime <= 0 {
		return fmt.Errorf("calibrate: max time must be positive, got %v", o.MaxTime)
	}
	if o.TraceInterval <= 0 {
		return fmt.Errorf("calibrate: trace interval must be positive, got %v", o.TraceInterval)
	}
	if math.IsNaN(o.Weighting) || o.Weighting < 0 || o.Weighting > 1 {
		return fmt.Errorf("calibrate: weighting must be within [0, 1], got %v", o.Weighting)
	}
	if o.Metric == nil {
		return fmt.Errorf("calibrate: no default metric configured")
	}
	if o.Backend == nil {
		return fmt.Errorf("calibrate: no optimizer backend configured")
	}
	return nil
}

func (o *Options) metricFor(name string) metrics.Metric {
	if m, ok := o.MetricByNode[name]; ok && m != nil {
		return m
	}
	return o.Metric
}

func (o *Options) targetSet() bool {
	return !math.IsNaN(o.TargetFitness)
}
