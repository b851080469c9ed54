package telemetry

import (
	"math"
	"testing"
	"time"
)

func TestSeriesSinkRecord(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sink := NewSeriesSink(start, time.Hour)
	st := &Station{Code: "gauge_north", Node: "upper_creek", Kind: GaugeFlow}

	if err := sink.Record(st, start, 1.2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sink.Record(st, start.Add(2*time.Hour), 3.4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	values, ok := sink.Values("upper_creek")
	if !ok {
		t.Fatal("expected a series for upper_creek")
	}
	if len(values) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(values))
	}
	if values[0] != 1.2 {
		t.Errorf("expected 1.2 at index 0, got %v", values[0])
	}
	if !math.IsNaN(values[1]) {
		t.Errorf("expected missing sample at index 1, got %v", values[1])
	}
	if values[2] != 3.4 {
		t.Errorf("expected 3.4 at index 2, got %v", values[2])
	}
}

func TestSeriesSinkRejectsOffGrid(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sink := NewSeriesSink(start, time.Hour)
	st := &Station{Code: "gauge_north", Node: "upper_creek"}

	if err := sink.Record(st, start.Add(30*time.Minute), 1.0); err == nil {
		t.Error("expected error for off-grid timestamp")
	}
	if err := sink.Record(st, start.Add(-time.Hour), 1.0); err == nil {
		t.Error("expected error for timestamp before the grid start")
	}
}

func TestSeriesSinkRejectsStationWithoutNode(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sink := NewSeriesSink(start, time.Hour)

	err := sink.Record(&Station{Code: "gauge_orphan"}, start, 1.0)
	if err == nil {
		t.Error("expected error for station that observes no node")
	}
}

func TestSeriesSinkObservedSnapshot(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sink := NewSeriesSink(start, time.Hour)
	_ = sink.Record(&Station{Code: "g1", Node: "upper_creek"}, start, 1.0)
	_ = sink.Record(&Station{Code: "g2", Node: "millpond"}, start, 4.2)

	observed := sink.Observed()
	if len(observed) != 2 {
		t.Fatalf("expected 2 series, got %d", len(observed))
	}
	if observed["millpond"][0] != 4.2 {
		t.Errorf("expected 4.2 for millpond, got %v", observed["millpond"][0])
	}

	// The snapshot is a copy; writing through it must not reach the sink.
	observed["upper_creek"][0] = 99.0
	values, _ := sink.Values("upper_creek")
	if values[0] != 1.0 {
		t.Errorf("expected sink to keep 1.0, got %v", values[0])
	}
}

func TestSeriesSinkNodes(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sink := NewSeriesSink(start, time.Hour)
	_ = sink.Record(&Station{Code: "g1", Node: "upper_creek"}, start, 1.0)
	_ = sink.Record(&Station{Code: "g2", Node: "millpond"}, start, 2.0)

	nodes := make(map[string]bool)
	for _, n := range sink.Nodes() {
		nodes[n] = true
	}
	if !nodes["upper_creek"] || !nodes["millpond"] {
		t.Errorf("expected both nodes, got %v", sink.Nodes())
	}
}

func TestSeriesSinkUnknownNode(t *testing.T) {
	sink := NewSeriesSink(time.Now(), time.Hour)
	if _, ok := sink.Values("nonexistent"); ok {
		t.Error("expected no series for an unknown node")
	}
}
