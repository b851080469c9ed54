package calibrate

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openhydrology/flume/internal/network"
	"github.com/openhydrology/flume/internal/timeseries"
)

// ObservedFunc supplies the observed series at the moment a run starts,
// so a live gauge feed contributes everything received up to then.
type ObservedFunc func() map[string][]float64

// Service runs calibrations one at a time on behalf of the HTTP layer.
// StartRun returns immediately; the search itself runs in a goroutine
// and reports through the event stream and Status.
type Service struct {
	nw       *network.Network
	forcing  *timeseries.Forcing
	observed ObservedFunc
	opts     Options

	// ArtifactDir, when non-empty, receives a gob artifact per finished
	// run. Set before the first StartRun.
	ArtifactDir string

	// OnComplete, when set, is called after every run with the collected
	// results and the run error, if any. Set before the first StartRun.
	OnComplete func(results []*Result, err error)

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	node    string
	runID   string
	started time.Time

	lastResults  []*Result
	lastErr      error
	lastFinished time.Time
}

// NewService wraps a loaded network for on-demand calibration.
func NewService(nw *network.Network, f *timeseries.Forcing, observed ObservedFunc, opts Options) *Service {
	return &Service{
		nw:       nw,
		forcing:  f,
		observed: observed,
		opts:     opts,
	}
}

// HasNode reports whether the network contains a node with this name.
func (s *Service) HasNode(name string) bool {
	_, err := s.nw.NodeID(name)
	return err == nil
}

// StartRun begins calibrating the named node, or the whole network when
// the name is empty. Only one run may be active at a time.
func (s *Service) StartRun(nodeName string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return "", fmt.Errorf("calibration already running (run %s)", s.runID)
	}
	if nodeName != "" {
		if _, err := s.nw.NodeID(nodeName); err != nil {
			return "", err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	s.running = true
	s.cancel = cancel
	s.node = nodeName
	s.runID = id
	s.started = time.Now().UTC()

	go s.run(ctx, nodeName, id)
	return id, nil
}

func (s *Service) run(ctx context.Context, nodeName, id string) {
	observed := map[string][]float64{}
	if s.observed != nil {
		observed = s.observed()
	}

	var results []*Result
	var err error
	if nodeName == "" {
		results, err = CalibrateNetwork(ctx, s.nw, s.forcing, observed, s.opts)
	} else {
		var res *Result
		var nid network.ID
		nid, err = s.nw.NodeID(nodeName)
		if err == nil {
			res, err = Calibrate(ctx, s.nw, nid, s.forcing, observed, s.opts)
		}
		if res != nil {
			results = []*Result{res}
		}
	}

	// Option and forcing validation fails before any per-node event, so
	// surface those here. Node-level failures were already emitted.
	if err != nil && !errors.Is(err, context.Canceled) && len(results) == 0 {
		emit("error", "calibration.failed", map[string]interface{}{
			"node":  nodeName,
			"error": err.Error(),
		})
	}

	if err == nil && s.ArtifactDir != "" {
		for _, r := range results {
			path := filepath.Join(s.ArtifactDir, fmt.Sprintf("%s-%s.gob", r.Node, r.RunID))
			if _, saveErr := Save(r, path); saveErr != nil {
				emit("warn", "system.error", map[string]interface{}{
					"error": fmt.Sprintf("artifact save failed: %v", saveErr),
				})
			}
		}
	}

	s.mu.Lock()
	s.running = false
	s.cancel = nil
	s.node = ""
	s.runID = ""
	s.lastResults = results
	s.lastErr = err
	s.lastFinished = time.Now().UTC()
	notify := s.OnComplete
	s.mu.Unlock()

	if notify != nil {
		notify(results, err)
	}
}

// CancelRun cancels the active run. Returns false when nothing is
// running. The run winds down asynchronously, keeping the best
// parameters found so far.
func (s *Service) CancelRun() bool {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// Status reports the active and most recent run in a JSON-ready form.
func (s *Service) Status() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := map[string]interface{}{
		"running": s.running,
	}
	if s.running {
		st["run_id"] = s.runID
		st["elapsed_s"] = time.Since(s.started).Seconds()
		if s.node != "" {
			st["node"] = s.node
		}
	}
	if s.lastErr != nil && !errors.Is(s.lastErr, context.Canceled) {
		st["last_error"] = s.lastErr.Error()
	}
	if !s.lastFinished.IsZero() {
		st["last_finished"] = s.lastFinished.Format(time.RFC3339)
	}
	if len(s.lastResults) > 0 {
		var summary []map[string]interface{}
		for _, r := range s.lastResults {
			for _, n := range r.Flatten() {
				summary = append(summary, map[string]interface{}{
					"node":        n.Node,
					"run_id":      n.RunID,
					"fitness":     fitnessField(n.Best.Fitness),
					"stop":        string(n.Best.Stop),
					"evaluations": n.Best.Evaluations,
				})
			}
		}
		st["last_results"] = summary
	}
	return st
}

// ResetNode clears the named node's simulated output. Refused while a
// run is active, since the run owns the node state.
func (s *Service) ResetNode(name string) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if running {
		return fmt.Errorf("calibration running, reset refused")
	}

	id, err := s.nw.NodeID(name)
	if err != nil {
		return err
	}
	n, err := s.nw.Node(id)
	if err != nil {
		return err
	}
	n.Reset()
	return nil
}

// NodeParameters returns the named node's current parameter values,
// including level-only parameters.
func (s *Service) NodeParameters(name string) (map[string]float64, error) {
	id, err := s.nw.NodeID(name)
	if err != nil {
		return nil, err
	}
	n, err := s.nw.Node(id)
	if err != nil {
		return nil, err
	}
	info, err := n.ParameterInfo(true)
	if err != nil {
		return nil, err
	}

	out := make(map[string]float64, len(info))
	for _, p := range info {
		out[p.Name] = p.Value
	}
	return out, nil
}
