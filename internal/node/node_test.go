package node

import (
	"testing"
	"time"

	"github.com/openhydrology/flume/internal/timeseries"
)

func testForcing(n int) *timeseries.Forcing {
	rain := make([]float64, n)
	evap := make([]float64, n)
	for i := range rain {
		// alternate wet and dry steps
		if i%2 == 0 {
			rain[i] = 20
		}
		evap[i] = 2
	}
	return &timeseries.Forcing{
		Start: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		Step:  24 * time.Hour,
		Rain:  rain,
		Evap:  evap,
	}
}

func TestNewBuildsKnownTypes(t *testing.T) {
	c, err := New("upper", 1, Spec{Type: "catchment"})
	if err != nil {
		t.Fatalf("failed to build catchment: %v", err)
	}
	if c.Kind() != KindCatchment {
		t.Errorf("expected catchment kind, got %s", c.Kind())
	}

	r, err := New("dam", 2, Spec{Type: "reservoir"})
	if err != nil {
		t.Fatalf("failed to build reservoir: %v", err)
	}
	if r.Kind() != KindReservoir {
		t.Errorf("expected reservoir kind, got %s", r.Kind())
	}
}

func TestNewRejectsUnknownType(t *testing.T) {
	if _, err := New("x", 1, Spec{Type: "aquifer"}); err == nil {
		t.Error("expected error for unsupported node type")
	}
}

func TestNewAppliesNamedParameters(t *testing.T) {
	n, err := New("upper", 1, Spec{
		Type:       "catchment",
		Parameters: map[string]float64{"capacity": 500, "recession": 0.25},
	})
	if err != nil {
		t.Fatalf("failed to build node: %v", err)
	}

	info, _ := n.ParameterInfo(false)
	if info[0].Value != 500 {
		t.Errorf("expected capacity 500, got %v", info[0].Value)
	}
	if info[1].Value != 0.25 {
		t.Errorf("expected recession 0.25, got %v", info[1].Value)
	}
	// untouched parameter keeps its default
	if info[2].Value != 0.6 {
		t.Errorf("expected split default 0.6, got %v", info[2].Value)
	}
}

func TestNewAppliesLevelOnlyParameter(t *testing.T) {
	n, err := New("dam", 1, Spec{
		Type:       "reservoir",
		Parameters: map[string]float64{"area": 2500},
	})
	if err != nil {
		t.Fatalf("failed to build node: %v", err)
	}

	info, _ := n.ParameterInfo(true)
	found := false
	for _, p := range info {
		if p.Name == "area" {
			found = true
			if p.Value != 2500 {
				t.Errorf("expected area 2500, got %v", p.Value)
			}
		}
	}
	if !found {
		t.Error("expected area in full parameter info")
	}
}

func TestNewRejectsUnknownParameter(t *testing.T) {
	if _, err := New("x", 1, Spec{Type: "catchment", Parameters: map[string]float64{"porosity": 1}}); err == nil {
		t.Error("expected error for unknown parameter name")
	}
}

func TestCatchmentRunDeterministic(t *testing.T) {
	c := NewCatchment("upper", 1)
	f := testForcing(30)

	if err := c.Run(f, RunOptions{}); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	first := append([]float64(nil), c.Outflow()...)

	c.Reset()
	if c.Outflow() != nil {
		t.Fatal("expected nil outflow after reset")
	}

	if err := c.Run(f, RunOptions{}); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	second := c.Outflow()

	if len(first) != len(second) {
		t.Fatalf("expected equal lengths, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("expected identical outputs, diverged at step %d: %v vs %v", i, first[i], second[i])
		}
	}
}

func TestCatchmentProducesFlow(t *testing.T) {
	c := NewCatchment("upper", 1)
	c.capacity = 50 // small store so the forcing spills

	if err := c.Run(testForcing(60), RunOptions{}); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	total := 0.0
	for _, q := range c.Outflow() {
		if q < 0 {
			t.Fatalf("negative outflow %v", q)
		}
		total += q
	}
	if total == 0 {
		t.Error("expected positive total outflow from wet forcing")
	}
}

func TestCatchmentInflowPassthrough(t *testing.T) {
	f := testForcing(10)

	base := NewCatchment("a", 1)
	if err := base.Run(f, RunOptions{}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	baseline := append([]float64(nil), base.Outflow()...)

	inflow := make([]float64, 10)
	for i := range inflow {
		inflow[i] = 3
	}
	fed := NewCatchment("a", 1)
	if err := fed.Run(f, RunOptions{Inflow: inflow}); err != nil {
		t.Fatalf("run with inflow failed: %v", err)
	}

	for i, q := range fed.Outflow() {
		if q != baseline[i]+3 {
			t.Fatalf("expected inflow passthrough at step %d: %v vs %v+3", i, q, baseline[i])
		}
	}
}

func TestCatchmentExtractionOverridesForcing(t *testing.T) {
	f := testForcing(10)
	f.Extraction = make([]float64, 10) // zero extraction column

	override := make([]float64, 10)
	for i := range override {
		override[i] = 1000 // extract far more than is generated
	}

	c := NewCatchment("a", 1)
	if err := c.Run(f, RunOptions{Extraction: override}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	for i, q := range c.Outflow() {
		if q != 0 {
			t.Fatalf("expected extraction override to drain flow at step %d, got %v", i, q)
		}
	}
}

func TestCatchmentRejectsBadInflowLength(t *testing.T) {
	c := NewCatchment("a", 1)
	if err := c.Run(testForcing(10), RunOptions{Inflow: []float64{1, 2}}); err == nil {
		t.Error("expected error for mismatched inflow length")
	}
}

func TestUpdateParametersArity(t *testing.T) {
	c := NewCatchment("a", 1)
	if err := c.UpdateParameters(1, 2); err == nil {
		t.Error("expected error for wrong parameter count")
	}
	if err := c.UpdateParameters(400, 0.5, 0.5); err != nil {
		t.Errorf("expected 3 values to apply, got %v", err)
	}
	info, _ := c.ParameterInfo(false)
	if info[0].Value != 400 {
		t.Errorf("expected capacity 400, got %v", info[0].Value)
	}
}

func TestReservoirParameterInfoWithLevel(t *testing.T) {
	r := NewReservoir("dam", 1)

	flow, _ := r.ParameterInfo(false)
	if len(flow) != 3 {
		t.Errorf("expected 3 flow parameters, got %d", len(flow))
	}
	for _, p := range flow {
		if p.LevelOnly {
			t.Errorf("expected no level-only parameters in flow info, got %s", p.Name)
		}
	}

	full, _ := r.ParameterInfo(true)
	if len(full) != 4 {
		t.Errorf("expected 4 parameters with level, got %d", len(full))
	}
}

func TestReservoirProducesLevelSeries(t *testing.T) {
	r := NewReservoir("dam", 1)
	f := testForcing(20)

	if err := r.Run(f, RunOptions{}); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if len(r.Level()) != f.Len() {
		t.Fatalf("expected level series of length %d, got %d", f.Len(), len(r.Level()))
	}
	for i, l := range r.Level() {
		if l < 0 {
			t.Fatalf("negative level %v at step %d", l, i)
		}
	}

	r.Reset()
	if r.Level() != nil || r.Outflow() != nil {
		t.Error("expected nil series after reset")
	}
}

func TestReservoirAreaScalesLevel(t *testing.T) {
	f := testForcing(20)

	small := NewReservoir("dam", 1)
	small.area = 100
	if err := small.Run(f, RunOptions{}); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	large := NewReservoir("dam", 1)
	large.area = 1000
	if err := large.Run(f, RunOptions{}); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	// same storage trajectory, ten times the area, a tenth of the level
	for i := range small.Level() {
		want := small.Level()[i] / 10
		diff := large.Level()[i] - want
		if diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("expected level scaled by area at step %d: %v vs %v", i, large.Level()[i], want)
		}
	}

	// outflow must not depend on the stage area
	for i := range small.Outflow() {
		if small.Outflow()[i] != large.Outflow()[i] {
			t.Fatalf("expected identical outflow regardless of area, diverged at step %d", i)
		}
	}
}

func TestReservoirStorageStaysBounded(t *testing.T) {
	r := NewReservoir("dam", 1)
	r.storageMax = 100
	r.dischargeCoeff = 0.001

	f := testForcing(50)
	for i := range f.Rain {
		f.Rain[i] = 500 // overwhelm the store
	}

	if err := r.Run(f, RunOptions{}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	for i, l := range r.Level() {
		if l*r.area > r.storageMax+1e-9 {
			t.Fatalf("storage exceeded ceiling at step %d: %v", i, l*r.area)
		}
	}
}
