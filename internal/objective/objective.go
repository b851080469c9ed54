// Package objective builds the fitness closures handed to the optimizer.
// Every strategy follows the same trial shape: apply the candidate
// parameters, run the node(s) over the forcing period, score against
// observations, then reset so no state leaks into the next trial.
package objective

import (
	"fmt"

	"github.com/openhydrology/flume/internal/metrics"
	"github.com/openhydrology/flume/internal/node"
	"github.com/openhydrology/flume/internal/optimizer"
	"github.com/openhydrology/flume/internal/timeseries"
)

// Single scores one node's outflow against an observed series.
func Single(n node.Node, f *timeseries.Forcing, run node.RunOptions, observed []float64, m metrics.Metric) optimizer.Objective {
	score := metrics.SkipMissing(m)
	return func(params []float64) float64 {
		if err := n.UpdateParameters(params...); err != nil {
			return metrics.Unscorable
		}
		if err := n.Run(f, run); err != nil {
			return metrics.Unscorable
		}
		v := score(observed, n.Outflow())
		n.Reset()
		return v
	}
}

// Level scores a reservoir's storage level against an observed series. Only
// level-carrying nodes qualify.
func Level(n node.Node, f *timeseries.Forcing, run node.RunOptions, observedLevel []float64, m metrics.Metric) (optimizer.Objective, error) {
	lc, ok := n.(node.LevelCarrier)
	if !ok {
		return nil, fmt.Errorf("objective: node %q (%s) has no storage level to score", n.Name(), n.Kind())
	}
	score := metrics.SkipMissing(m)
	return func(params []float64) float64 {
		if err := n.UpdateParameters(params...); err != nil {
			return metrics.Unscorable
		}
		if err := n.Run(f, run); err != nil {
			return metrics.Unscorable
		}
		v := score(observedLevel, lc.Level())
		n.Reset()
		return v
	}, nil
}

// Constant ignores the candidate entirely. It is the score of a reservoir
// sitting in the upstream position of a pair: the stage holds state but is
// not calibrated against.
func Constant(v float64) optimizer.Objective {
	return func(_ []float64) float64 { return v }
}

// DependentConfig binds the fixed context of a Dependent objective: the
// pair of adjacent nodes, their run inputs, the observations, and the
// composition weighting.
type DependentConfig struct {
	// Upstream is the node whose parameters are searched.
	Upstream node.Node
	// Downstream runs with fixed parameters, fed by Upstream's outflow.
	Downstream node.Node

	Forcing *timeseries.Forcing

	// UpstreamRun carries Upstream's fixed inflow and any forcing
	// overrides.
	UpstreamRun node.RunOptions
	// DownstreamRun carries Downstream's forcing overrides and the fixed
	// inflow of its other inlets; Upstream's trial outflow is added on top.
	DownstreamRun node.RunOptions

	// ObservedFlow is the observed outflow at Upstream.
	ObservedFlow []float64
	// ObservedLevel is the observed storage level at Downstream, needed
	// when Downstream is a reservoir and Weighting < 1.
	ObservedLevel []float64

	FlowMetric  metrics.Metric
	LevelMetric metrics.Metric

	// Weighting blends the upstream flow score against the downstream
	// level score; see Dependent.
	Weighting float64
}

// Dependent builds the paired objective: run Upstream with the candidate,
// then run Downstream using Upstream's outflow as inflow, and compose by
// Downstream's variant.
//
// With a reservoir downstream and weighting w, the score is
// w*flow + (1-w)*level; w=0 and w=1 reduce exactly to the single term. A
// reservoir in the upstream position scores a constant 0 regardless of its
// parameters. Any other pairing scores the upstream flow alone.
func Dependent(cfg DependentConfig) (optimizer.Objective, error) {
	if cfg.Weighting < 0 || cfg.Weighting > 1 {
		return nil, fmt.Errorf("objective: weighting %v outside [0,1]", cfg.Weighting)
	}

	if cfg.Upstream.Kind() == node.KindReservoir {
		return Constant(0.0), nil
	}

	if cfg.Downstream.Kind() != node.KindReservoir {
		return Single(cfg.Upstream, cfg.Forcing, cfg.UpstreamRun, cfg.ObservedFlow, cfg.FlowMetric), nil
	}

	lc, ok := cfg.Downstream.(node.LevelCarrier)
	if !ok {
		return nil, fmt.Errorf("objective: reservoir %q has no storage level to score", cfg.Downstream.Name())
	}

	flowScore := metrics.SkipMissing(cfg.FlowMetric)
	levelScore := metrics.SkipMissing(cfg.LevelMetric)
	w := cfg.Weighting

	return func(params []float64) float64 {
		up, down := cfg.Upstream, cfg.Downstream
		if err := up.UpdateParameters(params...); err != nil {
			return metrics.Unscorable
		}
		if err := up.Run(cfg.Forcing, cfg.UpstreamRun); err != nil {
			up.Reset()
			return metrics.Unscorable
		}

		downRun := cfg.DownstreamRun
		downRun.Inflow = addSeries(up.Outflow(), cfg.DownstreamRun.Inflow)
		if err := down.Run(cfg.Forcing, downRun); err != nil {
			up.Reset()
			return metrics.Unscorable
		}

		var v float64
		switch {
		case w == 0:
			v = levelScore(cfg.ObservedLevel, lc.Level())
		case w == 1:
			v = flowScore(cfg.ObservedFlow, up.Outflow())
		default:
			v = w*flowScore(cfg.ObservedFlow, up.Outflow()) + (1-w)*levelScore(cfg.ObservedLevel, lc.Level())
		}

		up.Reset()
		down.Reset()
		return v
	}, nil
}

// addSeries sums a and b elementwise over a's length; a nil b passes a
// through unchanged.
func addSeries(a, b []float64) []float64 {
	if b == nil {
		return a
	}
	sum := make([]float64, len(a))
	for i := range a {
		sum[i] = a[i]
		if i < len(b) {
			sum[i] += b[i]
		}
	}
	return sum
}
