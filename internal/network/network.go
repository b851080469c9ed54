// Package network owns the directed graph of simulation nodes and its
// structural queries. Every vertex holds exactly one node and at most one
// outgoing edge; inlets and outlets fall out of vertex degrees.
package network

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/openhydrology/flume/internal/node"
)

// ID identifies a vertex within one network.
type ID int

// Sentinel errors for lookups and registration.
var (
	ErrNodeNotFound = errors.New("network: node not found")
	ErrNameExists   = errors.New("network: node name already registered")
)

// MultipleOutletsError reports an edge insertion that would give a node
// more than one outgoing edge.
type MultipleOutletsError struct {
	Node    string
	Outlets int
}

func (e *MultipleOutletsError) Error() string {
	return fmt.Sprintf("network: node %q would have %d outlets, at most one is allowed", e.Node, e.Outlets)
}

// Network is the topology store. All methods are safe for concurrent use.
type Network struct {
	mu     sync.RWMutex
	nodes  map[ID]node.Node
	names  map[string]ID
	out    map[ID]ID   // at most one outgoing edge per vertex
	in     map[ID][]ID // incoming edges in insertion order
	props  map[ID]map[string]interface{}
	nextID ID
}

// New returns an empty network.
func New() *Network {
	return &Network{
		nodes: make(map[ID]node.Node),
		names: make(map[string]ID),
		out:   make(map[ID]ID),
		in:    make(map[ID][]ID),
		props: make(map[ID]map[string]interface{}),
	}
}

// CreateNode builds a node from its specification entry and registers it.
// Creating a name that already exists returns the existing id untouched.
func (nw *Network) CreateNode(name string, spec node.Spec) (ID, error) {
	nw.mu.Lock()
	defer nw.mu.Unlock()

	if id, ok := nw.names[name]; ok {
		return id, nil
	}
	id := nw.nextID
	n, err := node.New(name, int(id), spec)
	if err != nil {
		return 0, err
	}
	nw.register(id, n)
	return id, nil
}

// Add registers an already-built node. The name must be unused.
func (nw *Network) Add(n node.Node) (ID, error) {
	nw.mu.Lock()
	defer nw.mu.Unlock()

	if _, ok := nw.names[n.Name()]; ok {
		return 0, fmt.Errorf("%w: %q", ErrNameExists, n.Name())
	}
	id := nw.nextID
	nw.register(id, n)
	return id, nil
}

// register assumes the write lock is held.
func (nw *Network) register(id ID, n node.Node) {
	nw.nodes[id] = n
	nw.names[n.Name()] = id
	nw.props[id] = make(map[string]interface{})
	nw.nextID++
}

// AddEdge connects upstream to its immediate downstream. This is the one
// place the single-outlet constraint is enforced: a second distinct
// outgoing edge is rejected with the resulting outlet count. Re-adding an
// identical edge is a no-op.
func (nw *Network) AddEdge(upstream, downstream ID) error {
	nw.mu.Lock()
	defer nw.mu.Unlock()

	up, ok := nw.nodes[upstream]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrNodeNotFound, upstream)
	}
	if _, ok := nw.nodes[downstream]; !ok {
		return fmt.Errorf("%w: id %d", ErrNodeNotFound, downstream)
	}

	if existing, ok := nw.out[upstream]; ok {
		if existing == downstream {
			return nil
		}
		return &MultipleOutletsError{Node: up.Name(), Outlets: 2}
	}

	nw.out[upstream] = downstream
	nw.in[downstream] = append(nw.in[downstream], upstream)
	return nil
}

// Node returns the node registered under id.
func (nw *Network) Node(id ID) (node.Node, error) {
	nw.mu.RLock()
	defer nw.mu.RUnlock()

	n, ok := nw.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNodeNotFound, id)
	}
	return n, nil
}

// NodeID resolves a node name to its id.
func (nw *Network) NodeID(name string) (ID, error) {
	nw.mu.RLock()
	defer nw.mu.RUnlock()

	id, ok := nw.names[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrNodeNotFound, name)
	}
	return id, nil
}

// Inlets returns the ids feeding directly into id, in edge insertion
// order.
func (nw *Network) Inlets(id ID) ([]ID, error) {
	nw.mu.RLock()
	defer nw.mu.RUnlock()

	if _, ok := nw.nodes[id]; !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNodeNotFound, id)
	}
	return append([]ID(nil), nw.in[id]...), nil
}

// InletsByName is Inlets addressed by node name.
func (nw *Network) InletsByName(name string) ([]ID, error) {
	id, err := nw.NodeID(name)
	if err != nil {
		return nil, err
	}
	return nw.Inlets(id)
}

// Outlets returns the ids id feeds into: one element, or none for a
// terminal vertex.
func (nw *Network) Outlets(id ID) ([]ID, error) {
	nw.mu.RLock()
	defer nw.mu.RUnlock()

	if _, ok := nw.nodes[id]; !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNodeNotFound, id)
	}
	if down, ok := nw.out[id]; ok {
		return []ID{down}, nil
	}
	return nil, nil
}

// OutletsByName is Outlets addressed by node name.
func (nw *Network) OutletsByName(name string) ([]ID, error) {
	id, err := nw.NodeID(name)
	if err != nil {
		return nil, err
	}
	return nw.Outlets(id)
}

// Downstream returns the immediate downstream vertex of id. A missing
// successor is the normal terminal case, reported through ok.
func (nw *Network) Downstream(id ID) (ID, bool) {
	nw.mu.RLock()
	defer nw.mu.RUnlock()

	down, ok := nw.out[id]
	return down, ok
}

// IDs returns every vertex id, sorted.
func (nw *Network) IDs() []ID {
	nw.mu.RLock()
	defer nw.mu.RUnlock()
	return nw.sortedIDsLocked()
}

func (nw *Network) sortedIDsLocked() []ID {
	ids := make([]ID, 0, len(nw.nodes))
	for id := range nw.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of vertices.
func (nw *Network) Len() int {
	nw.mu.RLock()
	defer nw.mu.RUnlock()
	return len(nw.nodes)
}

// FindInletsAndOutlets scans vertex degrees and returns the inlet vertices
// (no incoming edges) and outlet vertices (no outgoing edges). The scan is
// read-only and independent per vertex, so chunks run in parallel; results
// are merged and sorted, making the output deterministic.
func (nw *Network) FindInletsAndOutlets() (inlets, outlets []ID) {
	nw.mu.RLock()
	ids := nw.sortedIDsLocked()
	nw.mu.RUnlock()

	workers := runtime.NumCPU()
	if workers > len(ids) {
		workers = len(ids)
	}
	if workers < 1 {
		return nil, nil
	}

	chunkIn := make([][]ID, workers)
	chunkOut := make([][]ID, workers)
	size := (len(ids) + workers - 1) / workers

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		start := w * size
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		g.Go(func() error {
			var in, out []ID
			for _, id := range ids[start:end] {
				nw.mu.RLock()
				indeg := len(nw.in[id])
				_, hasOut := nw.out[id]
				nw.mu.RUnlock()
				if indeg == 0 {
					in = append(in, id)
				}
				if !hasOut {
					out = append(out, id)
				}
			}
			chunkIn[w] = in
			chunkOut[w] = out
			return nil
		})
	}
	// The scan never fails; Wait only joins the workers.
	_ = g.Wait()

	for w := 0; w < workers; w++ {
		inlets = append(inlets, chunkIn[w]...)
		outlets = append(outlets, chunkOut[w]...)
	}
	sort.Slice(inlets, func(i, j int) bool { return inlets[i] < inlets[j] })
	sort.Slice(outlets, func(i, j int) bool { return outlets[i] < outlets[j] })
	return inlets, outlets
}

// Prop reads a metadata value attached to a vertex.
func (nw *Network) Prop(id ID, key string) (interface{}, bool) {
	nw.mu.RLock()
	defer nw.mu.RUnlock()

	props, ok := nw.props[id]
	if !ok {
		return nil, false
	}
	v, ok := props[key]
	return v, ok
}

// SetProp attaches a metadata value to a vertex.
func (nw *Network) SetProp(id ID, key string, value interface{}) error {
	nw.mu.Lock()
	defer nw.mu.Unlock()

	props, ok := nw.props[id]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrNodeNotFound, id)
	}
	props[key] = value
	return nil
}
