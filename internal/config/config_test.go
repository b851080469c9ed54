package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSiteYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "site.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write site.yaml: %v", err)
	}
	return path
}

func TestLoadSiteConfig(t *testing.T) {
	path := writeSiteYAML(t, `
version: 1
basin:
  id: silver-creek
  revision: "2026.2"
  name: Silver Creek
  description: Headwater test basin
network:
  api_port: 9090
paths:
  network: model/network.yaml
  forcing: data/forcing.csv
  artifacts: runs
calibration:
  max_time: 120s
  trace_interval: 10s
  target_fitness: 0.85
  weighting: 0.7
  metric: nse
  isolated: true
stations:
  gauge_north:
    kind: flow
    node: upper_creek
    required: true
  gauge_pond:
    kind: level
    node: millpond
`)

	cfg, err := LoadSiteConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Basin.ID != "silver-creek" {
		t.Errorf("expected basin id silver-creek, got %q", cfg.Basin.ID)
	}
	if cfg.Basin.Name != "Silver Creek" {
		t.Errorf("expected basin name Silver Creek, got %q", cfg.Basin.Name)
	}
	if cfg.APIPort() != 9090 {
		t.Errorf("expected api port 9090, got %d", cfg.APIPort())
	}
	if cfg.Paths.Network != "model/network.yaml" {
		t.Errorf("expected network path model/network.yaml, got %q", cfg.Paths.Network)
	}
	if cfg.Paths.Artifacts != "runs" {
		t.Errorf("expected artifacts path runs, got %q", cfg.Paths.Artifacts)
	}

	if cfg.Calibration.MaxTime != "120s" {
		t.Errorf("expected max_time 120s, got %q", cfg.Calibration.MaxTime)
	}
	if cfg.Calibration.TargetFitness == nil || *cfg.Calibration.TargetFitness != 0.85 {
		t.Errorf("expected target_fitness 0.85, got %v", cfg.Calibration.TargetFitness)
	}
	if cfg.Calibration.Weighting == nil || *cfg.Calibration.Weighting != 0.7 {
		t.Errorf("expected weighting 0.7, got %v", cfg.Calibration.Weighting)
	}
	if cfg.Calibration.Metric != "nse" {
		t.Errorf("expected metric nse, got %q", cfg.Calibration.Metric)
	}
	if !cfg.Calibration.Isolated {
		t.Error("expected isolated calibration")
	}

	if len(cfg.Stations) != 2 {
		t.Fatalf("expected 2 stations, got %d", len(cfg.Stations))
	}
	north, ok := cfg.Stations["gauge_north"]
	if !ok {
		t.Fatal("expected station gauge_north")
	}
	if north.Kind != "flow" || north.Node != "upper_creek" || !north.Required {
		t.Errorf("unexpected gauge_north config: %+v", north)
	}
	pond := cfg.Stations["gauge_pond"]
	if pond.Required {
		t.Error("expected gauge_pond to be optional")
	}
}

func TestLoadSiteConfigDefaults(t *testing.T) {
	path := writeSiteYAML(t, `
version: 1
basin:
  id: minimal
paths:
  network: network.yaml
  forcing: forcing.csv
`)

	cfg, err := LoadSiteConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.APIPort() != 8080 {
		t.Errorf("expected default api port 8080, got %d", cfg.APIPort())
	}
	if cfg.Calibration.TargetFitness != nil {
		t.Errorf("expected nil target_fitness, got %v", *cfg.Calibration.TargetFitness)
	}
	if cfg.Calibration.Weighting != nil {
		t.Errorf("expected nil weighting, got %v", *cfg.Calibration.Weighting)
	}
	if len(cfg.Stations) != 0 {
		t.Errorf("expected no stations, got %d", len(cfg.Stations))
	}
}

func TestLoadSiteConfigBadVersion(t *testing.T) {
	path := writeSiteYAML(t, `
version: 3
basin:
  id: future
`)

	if _, err := LoadSiteConfig(path); err == nil {
		t.Error("expected error for unsupported version")
	}
}

func TestLoadSiteConfigMissingFile(t *testing.T) {
	if _, err := LoadSiteConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadSiteConfigInvalidYAML(t *testing.T) {
	path := writeSiteYAML(t, "version: [not\n  closed")

	if _, err := LoadSiteConfig(path); err == nil {
		t.Error("expected error for invalid yaml")
	}
}
