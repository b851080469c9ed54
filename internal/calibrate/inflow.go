package calibrate

import (
	"fmt"

	"github.com/openhydrology/flume/internal/network"
	"github.com/openhydrology/flume/internal/node"
	"github.com/openhydrology/flume/internal/timeseries"
)

// noSkip marks that no inlet is excluded. Network ids are non-negative.
const noSkip network.ID = -1

// inflowFor sums the contribution of every inlet of id on the forcing
// grid. Returns nil when the node has no inlets.
func (s *session) inflowFor(id network.ID) ([]float64, error) {
	return s.inflowInto(id, noSkip, make(map[network.ID]bool))
}

// inflowExcluding is inflowFor with one inlet left out. Dependent
// objectives use it to hold a reservoir's sibling inflows fixed while
// the excluded inlet is re-simulated per candidate.
func (s *session) inflowExcluding(id, skip network.ID) ([]float64, error) {
	return s.inflowInto(id, skip, make(map[network.ID]bool))
}

func (s *session) inflowInto(id, skip network.ID, active map[network.ID]bool) ([]float64, error) {
	inlets, err := s.nw.Inlets(id)
	if err != nil {
		return nil, err
	}

	var total []float64
	for _, u := range inlets {
		if u == skip {
			continue
		}
		q, err := s.contribution(u, active)
		if err != nil {
			return nil, err
		}
		if q == nil {
			continue
		}
		if total == nil {
			total = make([]float64, s.forcing.Len())
		}
		for i := 0; i < len(total) && i < len(q); i++ {
			if !timeseries.IsMissing(q[i]) {
				total[i] += q[i]
			}
		}
	}
	return total, nil
}

// contribution returns the flow a single node feeds downstream: its
// observed flow series when one exists, otherwise its outflow simulated
// at current parameter values. Reservoir observations record level, not
// flow, so reservoirs are always simulated.
func (s *session) contribution(id network.ID, active map[network.ID]bool) ([]float64, error) {
	n, err := s.nw.Node(id)
	if err != nil {
		return nil, err
	}
	if series, ok := s.observed[n.Name()]; ok && n.Kind() != node.KindReservoir {
		return series, nil
	}

	if active[id] {
		return nil, fmt.Errorf("simulation cycle detected at node %q", n.Name())
	}
	active[id] = true
	defer delete(active, id)

	inflow, err := s.inflowInto(id, noSkip, active)
	if err != nil {
		return nil, err
	}
	if err := n.Run(s.forcing, node.RunOptions{Inflow: inflow}); err != nil {
		n.Reset()
		return nil, fmt.Errorf("simulating node %q: %w", n.Name(), err)
	}
	out := append([]float64(nil), n.Outflow()...)
	n.Reset()
	return out, nil
}
