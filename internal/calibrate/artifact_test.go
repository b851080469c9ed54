package calibrate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openhydrology/flume/internal/optimizer"
)

func sampleResult() *Result {
	upstream := &Result{
		RunID:          "run-upstream",
		Node:           "alder",
		ParameterNames: []string{"capacity", "recession", "split"},
		Best: optimizer.Result{
			Params:      []float64{420, 0.25, 0.75},
			Fitness:     0.91,
			Evaluations: 40,
			Elapsed:     2 * time.Second,
			Stop:        optimizer.StopMaxEvaluations,
			Handle:      optimizer.Handle{Backend: "probe", Tuning: map[string]float64{"bound_penalty": 1000}},
		},
		StartedAt:  time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2024, 6, 1, 10, 0, 2, 0, time.UTC),
	}
	return &Result{
		RunID:          "run-target",
		Node:           "dam",
		ParameterNames: []string{"discharge_coeff", "storage_max", "initial_fill"},
		Best: optimizer.Result{
			Params:      []float64{0.2, 5e5, 0.4},
			Fitness:     0.88,
			Evaluations: 55,
			Elapsed:     3 * time.Second,
			Stop:        optimizer.StopTarget,
			Handle:      optimizer.Handle{Backend: "nelder-mead"},
		},
		StartedAt:  time.Date(2024, 6, 1, 10, 0, 2, 0, time.UTC),
		FinishedAt: time.Date(2024, 6, 1, 10, 0, 5, 0, time.UTC),
		Upstream:   []*Result{upstream},
	}
}

func TestArtifactRoundTrip(t *testing.T) {
	want := sampleResult()
	path := filepath.Join(t.TempDir(), "run.gob")

	written, err := Save(want, path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if written != path {
		t.Errorf("expected artifact at %q, got %q", path, written)
	}

	got, err := Load(written)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.RunID != want.RunID || got.Node != want.Node {
		t.Errorf("expected %s/%s, got %s/%s", want.RunID, want.Node, got.RunID, got.Node)
	}
	if got.Best.Fitness != want.Best.Fitness {
		t.Errorf("expected fitness %v, got %v", want.Best.Fitness, got.Best.Fitness)
	}
	if got.Best.Stop != optimizer.StopTarget {
		t.Errorf("expected stop cause %q, got %q", optimizer.StopTarget, got.Best.Stop)
	}
	for i, p := range want.Best.Params {
		if got.Best.Params[i] != p {
			t.Errorf("expected param %d to be %v, got %v", i, p, got.Best.Params[i])
		}
	}
	if !got.StartedAt.Equal(want.StartedAt) || !got.FinishedAt.Equal(want.FinishedAt) {
		t.Errorf("expected times %v/%v, got %v/%v", want.StartedAt, want.FinishedAt, got.StartedAt, got.FinishedAt)
	}

	if len(got.Upstream) != 1 {
		t.Fatalf("expected 1 upstream result, got %d", len(got.Upstream))
	}
	up := got.Upstream[0]
	if up.Node != "alder" {
		t.Errorf("expected upstream node alder, got %q", up.Node)
	}
	if up.Best.Handle.Backend != "probe" {
		t.Errorf("expected upstream backend probe, got %q", up.Best.Handle.Backend)
	}
	if up.Best.Handle.Tuning["bound_penalty"] != 1000 {
		t.Errorf("expected bound_penalty 1000, got %v", up.Best.Handle.Tuning["bound_penalty"])
	}
}

func TestArtifactDefaultsToTempFile(t *testing.T) {
	want := sampleResult()

	path, err := Save(want, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer os.Remove(path)

	if path == "" {
		t.Fatal("expected a generated artifact path")
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.RunID != want.RunID {
		t.Errorf("expected run id %q, got %q", want.RunID, got.RunID)
	}
}

func TestFlattenOrdersUpstreamFirst(t *testing.T) {
	res := sampleResult()
	flat := res.Flatten()
	if len(flat) != 2 {
		t.Fatalf("expected 2 results, got %d", len(flat))
	}
	if flat[0].Node != "alder" || flat[1].Node != "dam" {
		t.Errorf("expected order [alder dam], got [%s %s]", flat[0].Node, flat[1].Node)
	}
}

func TestParametersZipsNamesAndValues(t *testing.T) {
	res := sampleResult()
	params := res.Parameters()
	if len(params) != 3 {
		t.Fatalf("expected 3 parameters, got %d", len(params))
	}
	if params["storage_max"] != 5e5 {
		t.Errorf("expected storage_max 5e5, got %v", params["storage_max"])
	}
}
