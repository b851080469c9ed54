// Package node defines the simulation contract every network vertex
// fulfils: run forward over a forcing period, expose the produced series,
// reset transient state, and describe a bounded parameter vector. Two
// reference models live here, a conceptual two-store catchment and a
// level-pool reservoir; everything above this package depends only on the
// contract.
package node

import (
	"fmt"

	"github.com/openhydrology/flume/internal/timeseries"
)

// Kind tags the closed set of node variants. Objective composition selects
// behavior by this tag.
type Kind string

const (
	KindCatchment Kind = "catchment"
	KindReservoir Kind = "reservoir"
)

// Parameter describes one entry of a node's parameter vector. Value is the
// node's current setting and seeds the search; LevelOnly parameters shape
// the storage-level output without affecting outflow and are excluded from
// flow calibration.
type Parameter struct {
	Name      string
	Value     float64
	Lower     float64
	Upper     float64
	LevelOnly bool
}

// RunOptions carries the optional per-run inputs. Inflow is the summed
// outflow of upstream nodes; Extraction and Exchange, when set, override
// the corresponding forcing columns.
type RunOptions struct {
	Inflow     []float64
	Extraction []float64
	Exchange   []float64
}

// Node is the capability contract consumed by the topology and calibration
// layers.
type Node interface {
	Name() string
	ID() int
	Kind() Kind

	// Run simulates the node over the forcing period, replacing its
	// output series. State internal to the run is re-derived from the
	// current parameters, so identical inputs produce identical outputs.
	Run(f *timeseries.Forcing, opts RunOptions) error

	// Reset clears the output series produced by Run.
	Reset()

	// UpdateParameters overwrites the node's parameter vector. Values are
	// positional over ParameterInfo(withLevel=false) order.
	UpdateParameters(values ...float64) error

	// ParameterInfo lists the parameter vector. With withLevel=false,
	// level-only parameters are excluded.
	ParameterInfo(withLevel bool) ([]Parameter, error)

	// Outflow returns the series produced by the last Run, nil after Reset.
	Outflow() []float64
}

// LevelCarrier is implemented by variants that also produce a storage
// level series.
type LevelCarrier interface {
	Level() []float64
}

// Spec is the per-node entry of a network specification file.
type Spec struct {
	Type       string             `yaml:"node_type"`
	Parameters map[string]float64 `yaml:"parameters"`
	Inlets     []string           `yaml:"inlets"`
	Outlets    []string           `yaml:"outlets"`
}

// New builds a node from its specification entry. Unknown node types and
// unknown parameter names are fatal configuration errors.
func New(name string, id int, spec Spec) (Node, error) {
	var n Node
	switch Kind(spec.Type) {
	case KindCatchment:
		n = NewCatchment(name, id)
	case KindReservoir:
		n = NewReservoir(name, id)
	default:
		return nil, fmt.Errorf("node: unsupported node type %q for %q", spec.Type, name)
	}
	if err := applyNamed(n, spec.Parameters); err != nil {
		return nil, err
	}
	return n, nil
}

// applyNamed overwrites individual parameters by name, leaving the rest at
// their defaults.
func applyNamed(n Node, params map[string]float64) error {
	if len(params) == 0 {
		return nil
	}
	info, err := n.ParameterInfo(true)
	if err != nil {
		return err
	}
	byName := make(map[string]int, len(info))
	for i, p := range info {
		byName[p.Name] = i
	}
	for name, value := range params {
		i, ok := byName[name]
		if !ok {
			return fmt.Errorf("node: %s has no parameter %q", n.Name(), name)
		}
		info[i].Value = value
	}

	// Positional update covers the flow vector; level-only parameters go
	// through the variant's own setter.
	flow := make([]float64, 0, len(info))
	for _, p := range info {
		if !p.LevelOnly {
			flow = append(flow, p.Value)
		}
	}
	if err := n.UpdateParameters(flow...); err != nil {
		return err
	}
	if ls, ok := n.(levelSetter); ok {
		for _, p := range info {
			if p.LevelOnly {
				if err := ls.setLevelParameter(p.Name, p.Value); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// levelSetter lets the factory assign level-only parameters by name.
type levelSetter interface {
	setLevelParameter(name string, value float64) error
}

// checkLen verifies optional run inputs against the forcing period.
func checkLen(name string, got, want int) error {
	if got != want {
		return fmt.Errorf("node: %s length %d does not match forcing length %d", name, got, want)
	}
	return nil
}

// resolveRunInputs validates the forcing and merges option overrides.
func resolveRunInputs(f *timeseries.Forcing, opts RunOptions) (inflow, extraction, exchange []float64, err error) {
	if err := f.Validate(); err != nil {
		return nil, nil, nil, err
	}
	n := f.Len()
	if opts.Inflow != nil {
		if err := checkLen("inflow", len(opts.Inflow), n); err != nil {
			return nil, nil, nil, err
		}
		inflow = opts.Inflow
	}
	extraction = f.Extraction
	if opts.Extraction != nil {
		if err := checkLen("extraction", len(opts.Extraction), n); err != nil {
			return nil, nil, nil, err
		}
		extraction = opts.Extraction
	}
	exchange = f.Exchange
	if opts.Exchange != nil {
		if err := checkLen("exchange", len(opts.Exchange), n); err != nil {
			return nil, nil, nil, err
		}
		exchange = opts.Exchange
	}
	return inflow, extraction, exchange, nil
}
