package network

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openhydrology/flume/internal/node"
)

func addCatchment(t *testing.T, nw *Network, name string) ID {
	t.Helper()
	id, err := nw.CreateNode(name, node.Spec{Type: "catchment"})
	if err != nil {
		t.Fatalf("failed to create node %s: %v", name, err)
	}
	return id
}

// fanIn builds a -> c, b -> c, c -> e, d -> e plus isolated f.
func fanIn(t *testing.T) (*Network, map[string]ID) {
	t.Helper()
	nw := New()
	ids := make(map[string]ID)
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		ids[name] = addCatchment(t, nw, name)
	}
	edges := [][2]string{{"a", "c"}, {"b", "c"}, {"c", "e"}, {"d", "e"}}
	for _, e := range edges {
		if err := nw.AddEdge(ids[e[0]], ids[e[1]]); err != nil {
			t.Fatalf("failed to add edge %s->%s: %v", e[0], e[1], err)
		}
	}
	return nw, ids
}

func TestCreateNodeIdempotent(t *testing.T) {
	nw := New()
	first, err := nw.CreateNode("upper", node.Spec{Type: "catchment"})
	if err != nil {
		t.Fatalf("failed to create node: %v", err)
	}
	second, err := nw.CreateNode("upper", node.Spec{Type: "reservoir"})
	if err != nil {
		t.Fatalf("repeat create failed: %v", err)
	}
	if first != second {
		t.Errorf("expected same id for same name, got %d and %d", first, second)
	}
	if nw.Len() != 1 {
		t.Errorf("expected 1 node, got %d", nw.Len())
	}

	n, err := nw.Node(first)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if n.Kind() != node.KindCatchment {
		t.Errorf("expected original node kept, got kind %s", n.Kind())
	}
}

func TestCreateNodeUnknownType(t *testing.T) {
	nw := New()
	if _, err := nw.CreateNode("x", node.Spec{Type: "glacier"}); err == nil {
		t.Error("expected error for unsupported node type")
	}
}

func TestAddRejectsDuplicateName(t *testing.T) {
	nw := New()
	if _, err := nw.Add(node.NewCatchment("upper", 0)); err != nil {
		t.Fatalf("first add failed: %v", err)
	}
	_, err := nw.Add(node.NewCatchment("upper", 1))
	if !errors.Is(err, ErrNameExists) {
		t.Errorf("expected ErrNameExists, got %v", err)
	}
}

func TestAddEdgeSingleOutletConstraint(t *testing.T) {
	nw := New()
	a := addCatchment(t, nw, "a")
	b := addCatchment(t, nw, "b")
	c := addCatchment(t, nw, "c")

	if err := nw.AddEdge(a, b); err != nil {
		t.Fatalf("first edge failed: %v", err)
	}
	// identical edge is a no-op
	if err := nw.AddEdge(a, b); err != nil {
		t.Fatalf("re-adding identical edge should succeed, got %v", err)
	}
	if in, _ := nw.Inlets(b); len(in) != 1 {
		t.Errorf("expected duplicate edge collapsed, got %d inlets", len(in))
	}

	err := nw.AddEdge(a, c)
	if err == nil {
		t.Fatal("expected error for second outgoing edge")
	}
	var moe *MultipleOutletsError
	if !errors.As(err, &moe) {
		t.Fatalf("expected MultipleOutletsError, got %T", err)
	}
	if moe.Outlets != 2 {
		t.Errorf("expected outlet count 2 in error, got %d", moe.Outlets)
	}
	if !strings.Contains(err.Error(), "2 outlets") {
		t.Errorf("expected message to cite the outlet count, got %q", err.Error())
	}
}

func TestAddEdgeUnknownNodes(t *testing.T) {
	nw := New()
	a := addCatchment(t, nw, "a")
	if err := nw.AddEdge(a, ID(99)); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("expected ErrNodeNotFound for downstream, got %v", err)
	}
	if err := nw.AddEdge(ID(99), a); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("expected ErrNodeNotFound for upstream, got %v", err)
	}
}

func TestInletsAndOutletsQueries(t *testing.T) {
	nw, ids := fanIn(t)

	in, err := nw.Inlets(ids["c"])
	if err != nil {
		t.Fatalf("inlets failed: %v", err)
	}
	if len(in) != 2 || in[0] != ids["a"] || in[1] != ids["b"] {
		t.Errorf("expected inlets [a b] in insertion order, got %v", in)
	}

	out, err := nw.Outlets(ids["c"])
	if err != nil {
		t.Fatalf("outlets failed: %v", err)
	}
	if len(out) != 1 || out[0] != ids["e"] {
		t.Errorf("expected outlets [e], got %v", out)
	}

	out, err = nw.Outlets(ids["e"])
	if err != nil {
		t.Fatalf("outlets failed: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected no outlets for terminal node, got %v", out)
	}

	byName, err := nw.InletsByName("c")
	if err != nil {
		t.Fatalf("inlets by name failed: %v", err)
	}
	if len(byName) != 2 {
		t.Errorf("expected 2 inlets by name, got %d", len(byName))
	}
}

func TestDownstream(t *testing.T) {
	nw, ids := fanIn(t)

	down, ok := nw.Downstream(ids["a"])
	if !ok || down != ids["c"] {
		t.Errorf("expected downstream c, got %v ok=%v", down, ok)
	}
	if _, ok := nw.Downstream(ids["e"]); ok {
		t.Error("expected no downstream for terminal node")
	}
}

func TestFindInletsAndOutlets(t *testing.T) {
	nw, ids := fanIn(t)

	inlets, outlets := nw.FindInletsAndOutlets()

	wantInlets := []ID{ids["a"], ids["b"], ids["d"], ids["f"]}
	wantOutlets := []ID{ids["e"], ids["f"]}

	if len(inlets) != len(wantInlets) {
		t.Fatalf("expected %d inlets, got %v", len(wantInlets), inlets)
	}
	for i := range wantInlets {
		if inlets[i] != wantInlets[i] {
			t.Errorf("expected inlet %d at position %d, got %d", wantInlets[i], i, inlets[i])
		}
	}
	if len(outlets) != len(wantOutlets) {
		t.Fatalf("expected %d outlets, got %v", len(wantOutlets), outlets)
	}
	for i := range wantOutlets {
		if outlets[i] != wantOutlets[i] {
			t.Errorf("expected outlet %d at position %d, got %d", wantOutlets[i], i, outlets[i])
		}
	}
}

// Every vertex with indegree 0 and only those vertices appear as inlets;
// same for outlets and outdegree 0. An isolated vertex appears in both.
func TestFindInletsAndOutletsMatchesDegrees(t *testing.T) {
	nw, ids := fanIn(t)
	inlets, outlets := nw.FindInletsAndOutlets()

	inletSet := make(map[ID]bool)
	for _, id := range inlets {
		inletSet[id] = true
	}
	outletSet := make(map[ID]bool)
	for _, id := range outlets {
		outletSet[id] = true
	}

	for name, id := range ids {
		in, _ := nw.Inlets(id)
		out, _ := nw.Outlets(id)
		if (len(in) == 0) != inletSet[id] {
			t.Errorf("node %s: indegree %d but inlet membership %v", name, len(in), inletSet[id])
		}
		if (len(out) == 0) != outletSet[id] {
			t.Errorf("node %s: outdegree %d but outlet membership %v", name, len(out), outletSet[id])
		}
	}

	if !inletSet[ids["f"]] || !outletSet[ids["f"]] {
		t.Error("expected isolated node in both inlet and outlet sets")
	}
}

func TestFindInletsAndOutletsEmpty(t *testing.T) {
	nw := New()
	inlets, outlets := nw.FindInletsAndOutlets()
	if len(inlets) != 0 || len(outlets) != 0 {
		t.Errorf("expected empty results, got %v / %v", inlets, outlets)
	}
}

func TestProps(t *testing.T) {
	nw := New()
	a := addCatchment(t, nw, "a")

	if _, ok := nw.Prop(a, "gauge"); ok {
		t.Error("expected missing prop before set")
	}
	if err := nw.SetProp(a, "gauge", "stn-042"); err != nil {
		t.Fatalf("set prop failed: %v", err)
	}
	v, ok := nw.Prop(a, "gauge")
	if !ok || v != "stn-042" {
		t.Errorf("expected stn-042, got %v ok=%v", v, ok)
	}

	if err := nw.SetProp(ID(99), "k", 1); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("expected ErrNodeNotFound, got %v", err)
	}
}

const specYAML = `
version: 1
nodes:
  upper:
    node_type: catchment
    parameters:
      capacity: 420
    outlets: [dam]
  side:
    node_type: catchment
    outlets: [dam]
  dam:
    node_type: reservoir
    inlets: [upper, side]
    outlets: [lower]
  lower:
    node_type: catchment
`

func TestLoadSpecFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "network.yaml")
	if err := os.WriteFile(path, []byte(specYAML), 0o644); err != nil {
		t.Fatalf("failed to write spec: %v", err)
	}

	nw, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load network: %v", err)
	}

	if nw.Len() != 4 {
		t.Fatalf("expected 4 nodes, got %d", nw.Len())
	}

	dam, err := nw.NodeID("dam")
	if err != nil {
		t.Fatalf("dam missing: %v", err)
	}
	in, _ := nw.Inlets(dam)
	if len(in) != 2 {
		t.Errorf("expected 2 inlets for dam (overlap collapsed), got %d", len(in))
	}
	out, _ := nw.Outlets(dam)
	if len(out) != 1 {
		t.Errorf("expected 1 outlet for dam, got %d", len(out))
	}

	upper, _ := nw.NodeID("upper")
	n, _ := nw.Node(upper)
	info, _ := n.ParameterInfo(false)
	if info[0].Value != 420 {
		t.Errorf("expected capacity 420 from spec, got %v", info[0].Value)
	}

	damNode, _ := nw.Node(dam)
	if damNode.Kind() != node.KindReservoir {
		t.Errorf("expected reservoir kind for dam, got %s", damNode.Kind())
	}
}

func TestBuildRejectsBadSpecs(t *testing.T) {
	cases := []struct {
		name string
		sf   *SpecFile
		want string
	}{
		{
			name: "bad version",
			sf:   &SpecFile{Version: 2, Nodes: map[string]node.Spec{"a": {Type: "catchment"}}},
			want: "version",
		},
		{
			name: "no nodes",
			sf:   &SpecFile{Version: 1},
			want: "no nodes",
		},
		{
			name: "unknown type",
			sf:   &SpecFile{Version: 1, Nodes: map[string]node.Spec{"a": {Type: "wetland"}}},
			want: "unsupported node type",
		},
		{
			name: "unknown outlet",
			sf: &SpecFile{Version: 1, Nodes: map[string]node.Spec{
				"a": {Type: "catchment", Outlets: []string{"ghost"}},
			}},
			want: "unknown node",
		},
		{
			name: "two outlets",
			sf: &SpecFile{Version: 1, Nodes: map[string]node.Spec{
				"a": {Type: "catchment", Outlets: []string{"b", "c"}},
				"b": {Type: "catchment"},
				"c": {Type: "catchment"},
			}},
			want: "2 outlets",
		},
	}

	for _, tc := range cases {
		_, err := Build(tc.sf)
		if err == nil {
			t.Errorf("%s: expected error", tc.name)
			continue
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: expected error containing %q, got %q", tc.name, tc.want, err.Error())
		}
	}
}
