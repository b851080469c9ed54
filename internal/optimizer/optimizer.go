// Package optimizer defines the derivative-free search contract the
// calibration layer consumes, and provides a Nelder-Mead backend built on
// gonum. Objectives are maximized; backends treat them as black boxes.
package optimizer

import (
	"context"
	"time"
)

// Objective maps a parameter vector to a fitness. Higher is better.
type Objective func(params []float64) float64

// Default budgets applied when an option is left at its zero value.
const (
	DefaultMaxTime       = 300 * time.Second
	DefaultTraceInterval = 30 * time.Second
)

// Progress is a point-in-time view of a running search, delivered through
// the OnTrace callback.
type Progress struct {
	Elapsed     time.Duration
	Evaluations int
	BestFitness float64
	BestParams  []float64
}

// Options tunes one optimization run. The zero value means defaults for
// the budgets and no callbacks. Early stopping on a fitness target is not
// an optimizer concern: the caller owns ctx and cancels it when the best
// reported through OnBest is good enough.
type Options struct {
	// MaxTime bounds the wall-clock search budget.
	MaxTime time.Duration
	// TraceInterval is the cadence of OnTrace callbacks.
	TraceInterval time.Duration
	// MaxIterations bounds major iterations; 0 means unbounded.
	MaxIterations int
	// MaxEvaluations bounds objective evaluations; 0 means unbounded.
	MaxEvaluations int
	// InitialParams seeds the search; when nil the backend picks a start
	// within bounds.
	InitialParams []float64
	// OnBest fires whenever the running best improves.
	OnBest func(params []float64, fitness float64)
	// OnTrace fires at most once per TraceInterval.
	OnTrace func(Progress)
}

// sanitized returns a copy with defaults applied.
func (o Options) sanitized() Options {
	if o.MaxTime <= 0 {
		o.MaxTime = DefaultMaxTime
	}
	if o.TraceInterval <= 0 {
		o.TraceInterval = DefaultTraceInterval
	}
	return o
}

// StopCause records why a search ended.
type StopCause string

const (
	StopConverged      StopCause = "converged"
	StopMaxTime        StopCause = "max_time"
	StopMaxIterations  StopCause = "max_iterations"
	StopMaxEvaluations StopCause = "max_evaluations"
	StopCanceled       StopCause = "canceled"
	// StopTarget is assigned by the caller that canceled the run after its
	// fitness target was crossed.
	StopTarget StopCause = "target_fitness"
)

// Handle identifies the backend and the tuning it ran with, enough to
// round-trip alongside a result.
type Handle struct {
	Backend string
	Tuning  map[string]float64
}

// Result is the outcome of one search. A poor fitness is a normal outcome,
// not an error.
type Result struct {
	Params      []float64
	Fitness     float64
	Evaluations int
	Elapsed     time.Duration
	Stop        StopCause
	Handle      Handle
}

// Backend runs a bounded derivative-free search. Implementations check ctx
// between iterations and stop cooperatively; they never abort a single
// evaluation midway.
type Backend interface {
	Name() string
	Optimize(ctx context.Context, obj Objective, lower, upper []float64, opts Options) (*Result, error)
}
