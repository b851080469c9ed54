package calibrate

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/openhydrology/flume/internal/events"
	"github.com/openhydrology/flume/internal/optimizer"
)

// gateBackend blocks inside Optimize until released or cancelled, so
// tests can observe the service mid-run.
type gateBackend struct {
	entered chan struct{}
	release chan struct{}
}

func newGateBackend() *gateBackend {
	return &gateBackend{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (b *gateBackend) Name() string { return "gate" }

func (b *gateBackend) Optimize(ctx context.Context, obj optimizer.Objective, lower, upper []float64, opts optimizer.Options) (*optimizer.Result, error) {
	select {
	case b.entered <- struct{}{}:
	default:
	}

	stop := optimizer.StopMaxEvaluations
	select {
	case <-b.release:
	case <-ctx.Done():
		stop = optimizer.StopCanceled
	}

	x := make([]float64, len(lower))
	for i := range x {
		x[i] = (lower[i] + upper[i]) / 2
	}
	return &optimizer.Result{
		Params:      x,
		Fitness:     obj(x),
		Evaluations: 1,
		Stop:        stop,
		Handle:      optimizer.Handle{Backend: b.Name()},
	}, nil
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for run to finish")
	}
}

func newTestService(t *testing.T, backend optimizer.Backend, names ...string) (*Service, chan struct{}) {
	t.Helper()
	nw, _ := buildChain(t, names...)
	f := testForcing(12)
	observed := chainObservations(t, f, names...)

	opts := DefaultOptions()
	opts.Backend = backend
	opts.TargetFitness = math.NaN()

	svc := NewService(nw, f, func() map[string][]float64 { return observed }, opts)
	done := make(chan struct{}, 4)
	svc.OnComplete = func(results []*Result, err error) {
		done <- struct{}{}
	}
	return svc, done
}

func TestServiceRunsSingleNode(t *testing.T) {
	events.Clear()
	svc, done := newTestService(t, &probeBackend{fractions: []float64{0.25, 0.5}}, "alder")

	id, err := svc.StartRun("alder")
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if id == "" {
		t.Error("expected non-empty run id")
	}

	waitDone(t, done)

	st := svc.Status()
	if running, _ := st["running"].(bool); running {
		t.Error("expected running=false after completion")
	}
	if _, ok := st["last_error"]; ok {
		t.Errorf("unexpected last_error: %v", st["last_error"])
	}
	summary, ok := st["last_results"].([]map[string]interface{})
	if !ok || len(summary) != 1 {
		t.Fatalf("expected 1 result summary, got %v", st["last_results"])
	}
	if summary[0]["node"] != "alder" {
		t.Errorf("expected node 'alder', got %v", summary[0]["node"])
	}
}

func TestServiceWholeNetworkRun(t *testing.T) {
	events.Clear()
	svc, done := newTestService(t, &probeBackend{fractions: []float64{0.5}}, "alder", "birch")

	if _, err := svc.StartRun(""); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	waitDone(t, done)

	st := svc.Status()
	summary, _ := st["last_results"].([]map[string]interface{})
	if len(summary) != 2 {
		t.Fatalf("expected 2 result summaries, got %d", len(summary))
	}
	// Upstream before downstream.
	if summary[0]["node"] != "alder" || summary[1]["node"] != "birch" {
		t.Errorf("expected [alder birch], got [%v %v]", summary[0]["node"], summary[1]["node"])
	}
}

func TestServiceRejectsConcurrentRuns(t *testing.T) {
	events.Clear()
	gate := newGateBackend()
	svc, done := newTestService(t, gate, "alder")

	if _, err := svc.StartRun("alder"); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	<-gate.entered

	if _, err := svc.StartRun("alder"); err == nil {
		t.Error("expected second StartRun to fail while running")
	}

	st := svc.Status()
	if running, _ := st["running"].(bool); !running {
		t.Error("expected running=true mid-run")
	}
	if st["node"] != "alder" {
		t.Errorf("expected node 'alder' in status, got %v", st["node"])
	}

	close(gate.release)
	waitDone(t, done)

	if _, err := svc.StartRun("alder"); err != nil {
		t.Errorf("StartRun after completion: %v", err)
	}
	waitDone(t, done)
}

func TestServiceCancelRun(t *testing.T) {
	events.Clear()
	gate := newGateBackend()
	svc, done := newTestService(t, gate, "alder")

	if svc.CancelRun() {
		t.Error("CancelRun with nothing running should return false")
	}

	if _, err := svc.StartRun("alder"); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	<-gate.entered

	if !svc.CancelRun() {
		t.Error("CancelRun should return true while running")
	}
	waitDone(t, done)

	st := svc.Status()
	if running, _ := st["running"].(bool); running {
		t.Error("expected running=false after cancel")
	}
	// A cancelled run keeps its best-so-far result without reporting an error.
	if _, ok := st["last_error"]; ok {
		t.Errorf("cancel should not set last_error, got %v", st["last_error"])
	}
}

func TestServiceResetRefusedWhileRunning(t *testing.T) {
	events.Clear()
	gate := newGateBackend()
	svc, done := newTestService(t, gate, "alder")

	if _, err := svc.StartRun("alder"); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	<-gate.entered

	if err := svc.ResetNode("alder"); err == nil {
		t.Error("expected ResetNode to be refused mid-run")
	}

	close(gate.release)
	waitDone(t, done)

	if err := svc.ResetNode("alder"); err != nil {
		t.Errorf("ResetNode after completion: %v", err)
	}
}

func TestServiceNodeLookup(t *testing.T) {
	events.Clear()
	svc, _ := newTestService(t, midpointBackend{}, "alder")

	if !svc.HasNode("alder") {
		t.Error("expected HasNode('alder') = true")
	}
	if svc.HasNode("missing") {
		t.Error("expected HasNode('missing') = false")
	}

	if _, err := svc.StartRun("missing"); err == nil {
		t.Error("expected StartRun of unknown node to fail")
	}

	params, err := svc.NodeParameters("alder")
	if err != nil {
		t.Fatalf("NodeParameters: %v", err)
	}
	if len(params) == 0 {
		t.Error("expected non-empty parameter map")
	}
	if _, err := svc.NodeParameters("missing"); err == nil {
		t.Error("expected NodeParameters of unknown node to fail")
	}
}
