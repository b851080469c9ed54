package telemetry

import (
	"fmt"
	"sync"
	"time"

	"github.com/openhydrology/flume/internal/timeseries"
)

// SeriesSink accumulates observations into per-node series on a fixed
// grid, growing each series as readings arrive. Readings off the grid
// are rejected.
type SeriesSink struct {
	mu     sync.RWMutex
	start  time.Time
	step   time.Duration
	byNode map[string]*timeseries.Series
}

// NewSeriesSink creates a sink whose series all share the given grid.
func NewSeriesSink(start time.Time, step time.Duration) *SeriesSink {
	return &SeriesSink{
		start:  start,
		step:   step,
		byNode: make(map[string]*timeseries.Series),
	}
}

// Record stores one reading against the station's node.
func (s *SeriesSink) Record(st *Station, ts time.Time, value float64) error {
	if st.Node == "" {
		return fmt.Errorf("station %s observes no node", st.Code)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	series, ok := s.byNode[st.Node]
	if !ok {
		var err error
		series, err = timeseries.New(s.start, s.step, nil)
		if err != nil {
			return err
		}
		s.byNode[st.Node] = series
	}
	return series.SetAt(ts, value)
}

// Values returns a copy of the accumulated series for a node.
func (s *SeriesSink) Values(node string) ([]float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series, ok := s.byNode[node]
	if !ok {
		return nil, false
	}
	return append([]float64(nil), series.Values...), true
}

// Observed snapshots every node's series, keyed by node name, in the
// form the calibration layer consumes.
func (s *SeriesSink) Observed() map[string][]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]float64, len(s.byNode))
	for node, series := range s.byNode {
		out[node] = append([]float64(nil), series.Values...)
	}
	return out
}

// Nodes returns the nodes with at least one recorded reading.
func (s *SeriesSink) Nodes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.byNode))
	for node := range s.byNode {
		out = append(out, node)
	}
	return out
}
