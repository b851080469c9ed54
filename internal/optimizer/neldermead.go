package optimizer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gonum.org/v1/gonum/optimize"
)

// boundPenaltyWeight scales the quadratic penalty that steers the simplex
// back when it wanders outside the bounds.
const boundPenaltyWeight = 1e3

// NelderMead searches with gonum's downhill simplex. Bounds are honored by
// clamping candidates before evaluation and penalizing the excursion in
// the value handed back to the simplex.
type NelderMead struct{}

// Name implements Backend.
func (nm *NelderMead) Name() string { return "nelder-mead" }

// Optimize implements Backend.
func (nm *NelderMead) Optimize(ctx context.Context, obj Objective, lower, upper []float64, opts Options) (*Result, error) {
	if err := checkBounds(lower, upper); err != nil {
		return nil, err
	}
	opts = opts.sanitized()

	start := opts.InitialParams
	if start == nil {
		start = midpoint(lower, upper)
	} else if len(start) != len(lower) {
		return nil, fmt.Errorf("optimizer: initial vector length %d does not match bounds length %d", len(start), len(lower))
	}
	start = clamp(append([]float64(nil), start...), lower, upper)

	tracker := newBestTracker(opts)

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			feasible := clamp(append([]float64(nil), x...), lower, upper)
			fitness := obj(feasible)
			tracker.offer(feasible, fitness)
			return -(fitness - boundPenaltyWeight*excursion(x, lower, upper))
		},
		Status: func() (optimize.Status, error) {
			select {
			case <-ctx.Done():
				return optimize.Success, nil
			default:
				return optimize.NotTerminated, nil
			}
		},
	}

	settings := &optimize.Settings{
		Runtime:         opts.MaxTime,
		MajorIterations: opts.MaxIterations,
		FuncEvaluations: opts.MaxEvaluations,
	}

	res, err := optimize.Minimize(problem, start, settings, &optimize.NelderMead{})
	if err != nil {
		return nil, fmt.Errorf("optimizer: nelder-mead failed: %w", err)
	}

	params, fitness, evals, elapsed := tracker.best()
	return &Result{
		Params:      params,
		Fitness:     fitness,
		Evaluations: evals,
		Elapsed:     elapsed,
		Stop:        stopCause(ctx, res.Status),
		Handle: Handle{
			Backend: nm.Name(),
			Tuning:  map[string]float64{"bound_penalty": boundPenaltyWeight},
		},
	}, nil
}

func stopCause(ctx context.Context, status optimize.Status) StopCause {
	if ctx.Err() != nil {
		return StopCanceled
	}
	switch status {
	case optimize.RuntimeLimit:
		return StopMaxTime
	case optimize.IterationLimit:
		return StopMaxIterations
	case optimize.FunctionEvaluationLimit:
		return StopMaxEvaluations
	default:
		return StopConverged
	}
}

func checkBounds(lower, upper []float64) error {
	if len(lower) == 0 || len(lower) != len(upper) {
		return fmt.Errorf("optimizer: bounds lengths %d and %d are unusable", len(lower), len(upper))
	}
	for i := range lower {
		if lower[i] > upper[i] {
			return fmt.Errorf("optimizer: bound %d inverted: lower %v > upper %v", i, lower[i], upper[i])
		}
	}
	return nil
}

func midpoint(lower, upper []float64) []float64 {
	m := make([]float64, len(lower))
	for i := range lower {
		m[i] = lower[i] + (upper[i]-lower[i])/2
	}
	return m
}

// clamp projects x onto the bounds in place and returns it.
func clamp(x, lower, upper []float64) []float64 {
	for i := range x {
		if x[i] < lower[i] {
			x[i] = lower[i]
		}
		if x[i] > upper[i] {
			x[i] = upper[i]
		}
	}
	return x
}

// excursion measures how far x strays outside the bounds, normalized per
// dimension and summed as squares.
func excursion(x, lower, upper []float64) float64 {
	total := 0.0
	for i := range x {
		span := upper[i] - lower[i]
		if span == 0 {
			span = 1
		}
		var d float64
		if x[i] < lower[i] {
			d = (lower[i] - x[i]) / span
		} else if x[i] > upper[i] {
			d = (x[i] - upper[i]) / span
		}
		total += d * d
	}
	return total
}

// bestTracker watches every evaluation, keeps the running best, and fires
// the caller's callbacks. Evaluations may arrive from concurrent
// backends, so state is mutex-guarded.
type bestTracker struct {
	mu          sync.Mutex
	opts        Options
	started     time.Time
	lastTrace   time.Time
	evaluations int
	bestParams  []float64
	bestFitness float64
	hasBest     bool
}

func newBestTracker(opts Options) *bestTracker {
	now := time.Now()
	return &bestTracker{opts: opts, started: now, lastTrace: now}
}

func (t *bestTracker) offer(params []float64, fitness float64) {
	t.mu.Lock()
	t.evaluations++
	improved := !t.hasBest || fitness > t.bestFitness
	if improved {
		t.hasBest = true
		t.bestFitness = fitness
		t.bestParams = append(t.bestParams[:0], params...)
	}
	var onBest func([]float64, float64)
	var onTrace func(Progress)
	var progress Progress
	if improved && t.opts.OnBest != nil {
		onBest = t.opts.OnBest
	}
	if t.opts.OnTrace != nil && time.Since(t.lastTrace) >= t.opts.TraceInterval {
		t.lastTrace = time.Now()
		onTrace = t.opts.OnTrace
		progress = Progress{
			Elapsed:     time.Since(t.started),
			Evaluations: t.evaluations,
			BestFitness: t.bestFitness,
			BestParams:  append([]float64(nil), t.bestParams...),
		}
	}
	bestCopy := append([]float64(nil), t.bestParams...)
	bestFitness := t.bestFitness
	t.mu.Unlock()

	// Callbacks run outside the lock; they may cancel the search context.
	if onBest != nil {
		onBest(bestCopy, bestFitness)
	}
	if onTrace != nil {
		onTrace(progress)
	}
}

func (t *bestTracker) best() (params []float64, fitness float64, evaluations int, elapsed time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]float64(nil), t.bestParams...), t.bestFitness, t.evaluations, time.Since(t.started)
}
