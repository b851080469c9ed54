package calibrate

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openhydrology/flume/internal/events"
	"github.com/openhydrology/flume/internal/network"
	"github.com/openhydrology/flume/internal/node"
	"github.com/openhydrology/flume/internal/objective"
	"github.com/openhydrology/flume/internal/optimizer"
	"github.com/openhydrology/flume/internal/storage/postgres"
	"github.com/openhydrology/flume/internal/timeseries"
)

var (
	pgMu     sync.RWMutex
	pgClient *postgres.Client
)

// SetPostgresClient sets the client used to persist calibration runs.
// A nil client disables persistence.
func SetPostgresClient(client *postgres.Client) {
	pgMu.Lock()
	pgClient = client
	pgMu.Unlock()
}

func runStore() *postgres.Client {
	pgMu.RLock()
	defer pgMu.RUnlock()
	return pgClient
}

// session carries the shared state of one calibration pass.
type session struct {
	nw       *network.Network
	forcing  *timeseries.Forcing
	observed map[string][]float64
	opts     Options
	visited  map[network.ID]bool
}

// Calibrate searches for the parameters of the target node that best
// reproduce its observed series, calibrating upstream nodes first
// unless opts.Isolated is set. Observed series are keyed by node name
// and hold flow for catchments and level for reservoirs, aligned to
// the forcing grid. The best parameters found are committed to each
// calibrated node before returning.
func Calibrate(ctx context.Context, nw *network.Network, target network.ID, f *timeseries.Forcing, observed map[string][]float64, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}

	s := &session{
		nw:       nw,
		forcing:  f,
		observed: observed,
		opts:     opts,
		visited:  make(map[network.ID]bool),
	}
	res, err := s.calibrateNode(ctx, target)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("calibrate: target id %d was not calibrated", target)
	}
	return res, nil
}

// CalibrateNetwork calibrates every node reachable from an outlet,
// upstream first, one outlet cone at a time. Returns the outlet
// results in outlet id order; upstream results hang off each outlet.
func CalibrateNetwork(ctx context.Context, nw *network.Network, f *timeseries.Forcing, observed map[string][]float64, opts Options) ([]*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}

	_, outlets := nw.FindInletsAndOutlets()
	emit("info", "calibration.network_started", map[string]interface{}{
		"outlets": len(outlets),
	})
	started := time.Now()

	results := make([]*Result, 0, len(outlets))
	for _, id := range outlets {
		s := &session{
			nw:       nw,
			forcing:  f,
			observed: observed,
			opts:     opts,
			visited:  make(map[network.ID]bool),
		}
		res, err := s.calibrateNode(ctx, id)
		if err != nil {
			return results, err
		}
		if res != nil {
			results = append(results, res)
		}
	}

	nodes := 0
	for _, r := range results {
		nodes += len(r.Flatten())
	}
	emit("info", "calibration.network_completed", map[string]interface{}{
		"outlets":    len(results),
		"nodes":      nodes,
		"duration_s": time.Since(started).Seconds(),
	})
	return results, nil
}

// calibrateNode runs the upstream-first recursion for one node. A node
// already visited in this session returns nil without error.
func (s *session) calibrateNode(ctx context.Context, id network.ID) (*Result, error) {
	if s.visited[id] {
		return nil, nil
	}
	s.visited[id] = true

	n, err := s.nw.Node(id)
	if err != nil {
		return nil, err
	}

	var upstream []*Result
	if !s.opts.Isolated {
		inlets, err := s.nw.Inlets(id)
		if err != nil {
			return nil, err
		}
		for _, u := range inlets {
			r, err := s.calibrateNode(ctx, u)
			if err != nil {
				return nil, fmt.Errorf("calibrating upstream of %q: %w", n.Name(), err)
			}
			if r != nil {
				upstream = append(upstream, r)
			}
		}
	}

	res, err := s.optimizeNode(ctx, id, n)
	if err != nil {
		emit("error", "calibration.failed", map[string]interface{}{
			"node":  n.Name(),
			"error": err.Error(),
		})
		return nil, err
	}
	res.Upstream = upstream
	return res, nil
}

// optimizeNode searches the target's own parameter space and commits
// the best vector found.
func (s *session) optimizeNode(ctx context.Context, id network.ID, n node.Node) (*Result, error) {
	name := n.Name()
	runID := uuid.NewString()
	started := time.Now().UTC()

	// Tag persisted events with the active run while it lasts.
	events.SetRunLabel(runID)
	defer events.SetRunLabel("")

	obj, err := s.buildObjective(id, n)
	if err != nil {
		return nil, err
	}

	info, err := n.ParameterInfo(false)
	if err != nil {
		return nil, fmt.Errorf("parameter info for %q: %w", name, err)
	}
	if len(info) == 0 {
		return nil, fmt.Errorf("node %q has no adjustable parameters", name)
	}

	names := make([]string, len(info))
	initial := make([]float64, len(info))
	lower := make([]float64, len(info))
	upper := make([]float64, len(info))
	for i, p := range info {
		names[i] = p.Name
		initial[i] = p.Value
		lower[i] = p.Lower
		upper[i] = p.Upper
	}

	emit("info", "calibration.started", map[string]interface{}{
		"node":       name,
		"run_id":     runID,
		"parameters": names,
	})

	runCtx := ctx
	cancel := context.CancelFunc(func() {})
	if s.opts.targetSet() {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	var hitMu sync.Mutex
	hit := false

	optOpts := optimizer.Options{
		MaxTime:        s.opts.MaxTime,
		TraceInterval:  s.opts.TraceInterval,
		MaxIterations:  s.opts.MaxIterations,
		MaxEvaluations: s.opts.MaxEvaluations,
		InitialParams:  initial,
		OnBest: func(params []float64, fitness float64) {
			if !s.opts.targetSet() || fitness <= s.opts.TargetFitness {
				return
			}
			hitMu.Lock()
			already := hit
			hit = true
			hitMu.Unlock()
			if !already {
				emit("info", "calibration.target_reached", map[string]interface{}{
					"node":    name,
					"run_id":  runID,
					"fitness": fitnessField(fitness),
				})
				cancel()
			}
		},
		OnTrace: func(p optimizer.Progress) {
			emit("info", "calibration.trace", map[string]interface{}{
				"node":         name,
				"run_id":       runID,
				"elapsed_s":    p.Elapsed.Seconds(),
				"evaluations":  p.Evaluations,
				"best_fitness": fitnessField(p.BestFitness),
			})
		},
	}

	best, err := s.opts.Backend.Optimize(runCtx, obj, lower, upper, optOpts)
	if err != nil {
		return nil, fmt.Errorf("optimizing %q: %w", name, err)
	}

	hitMu.Lock()
	reachedTarget := hit
	hitMu.Unlock()
	if reachedTarget {
		best.Stop = optimizer.StopTarget
	}

	if err := n.UpdateParameters(best.Params...); err != nil {
		return nil, fmt.Errorf("committing parameters for %q: %w", name, err)
	}

	finished := time.Now().UTC()
	res := &Result{
		RunID:          runID,
		Node:           name,
		ParameterNames: names,
		Best:           *best,
		StartedAt:      started,
		FinishedAt:     finished,
	}

	emit("info", "calibration.completed", map[string]interface{}{
		"node":        name,
		"run_id":      runID,
		"fitness":     fitnessField(best.Fitness),
		"stop":        string(best.Stop),
		"evaluations": best.Evaluations,
		"duration_s":  finished.Sub(started).Seconds(),
	})

	if client := runStore(); client != nil {
		if err := client.AppendRun(res.runRow()); err != nil {
			emit("warn", "system.error", map[string]interface{}{
				"error": fmt.Sprintf("run record append failed: %v", err),
			})
		}
	}

	return res, nil
}

// buildObjective selects the scoring strategy for the target from its
// position in the network:
//
//   - reservoir feeding anything downstream: constant zero, its
//     parameters belong to the downstream node's calibration
//   - node feeding a reservoir: dependent blend of own flow and the
//     reservoir's level
//   - reservoir at an outlet: level against its own observations
//   - anything else: flow against its own observations
func (s *session) buildObjective(id network.ID, n node.Node) (optimizer.Objective, error) {
	name := n.Name()
	metric := s.opts.metricFor(name)

	inflow, err := s.inflowFor(id)
	if err != nil {
		return nil, err
	}
	run := node.RunOptions{
		Inflow:     inflow,
		Extraction: s.opts.Extraction,
		Exchange:   s.opts.Exchange,
	}

	if downID, ok := s.nw.Downstream(id); ok {
		if n.Kind() == node.KindReservoir {
			return objective.Constant(0), nil
		}
		down, err := s.nw.Node(downID)
		if err != nil {
			return nil, err
		}
		if down.Kind() == node.KindReservoir {
			w := s.opts.Weighting

			var obsFlow []float64
			if w > 0 {
				obsFlow = s.observed[name]
				if obsFlow == nil {
					return nil, fmt.Errorf("no observed flow series for node %q", name)
				}
			}
			var obsLevel []float64
			if w < 1 {
				obsLevel = s.observed[down.Name()]
				if obsLevel == nil {
					return nil, fmt.Errorf("no observed level series for reservoir %q", down.Name())
				}
			}

			downInflow, err := s.inflowExcluding(downID, id)
			if err != nil {
				return nil, err
			}
			return objective.Dependent(objective.DependentConfig{
				Upstream:      n,
				Downstream:    down,
				Forcing:       s.forcing,
				UpstreamRun:   run,
				DownstreamRun: node.RunOptions{Inflow: downInflow},
				ObservedFlow:  obsFlow,
				ObservedLevel: obsLevel,
				FlowMetric:    metric,
				LevelMetric:   s.opts.metricFor(down.Name()),
				Weighting:     w,
			})
		}
	}

	observed := s.observed[name]
	if observed == nil {
		return nil, fmt.Errorf("no observed series for node %q", name)
	}
	if n.Kind() == node.KindReservoir {
		return objective.Level(n, s.forcing, run, observed, metric)
	}
	return objective.Single(n, s.forcing, run, observed, metric), nil
}

func emit(level, name string, fields map[string]interface{}) {
	events.Emit(level, name, "", fields)
}

// fitnessField keeps unscorable fitness JSON-encodable.
func fitnessField(v float64) interface{} {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return "unscorable"
	}
	return v
}
