package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SiteConfig describes one deployment: the basin, where its model
// inputs live, calibration defaults, and the gauging stations expected
// to report. Broker and database endpoints come from the environment,
// not from here.
type SiteConfig struct {
	Version int `yaml:"version"`
	Basin   struct {
		ID          string `yaml:"id"`
		Revision    string `yaml:"revision"`
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
	} `yaml:"basin"`
	Network struct {
		APIPort int `yaml:"api_port"`
	} `yaml:"network"`
	Paths struct {
		Network   string `yaml:"network"`
		Forcing   string `yaml:"forcing"`
		Artifacts string `yaml:"artifacts"`
	} `yaml:"paths"`
	Calibration CalibrationConfig        `yaml:"calibration"`
	Stations    map[string]StationConfig `yaml:"stations"`
}

// CalibrationConfig carries the site's calibration defaults. Durations
// are Go duration strings; nil pointers mean "use the built-in default".
type CalibrationConfig struct {
	MaxTime       string   `yaml:"max_time"`
	TraceInterval string   `yaml:"trace_interval"`
	TargetFitness *float64 `yaml:"target_fitness"`
	Weighting     *float64 `yaml:"weighting"`
	Metric        string   `yaml:"metric"`
	Isolated      bool     `yaml:"isolated"`
}

// StationConfig declares a gauging station the site expects to register.
type StationConfig struct {
	Kind     string `yaml:"kind"`
	Node     string `yaml:"node"`
	Required bool   `yaml:"required"`
}

// APIPort returns the configured API port, defaulting to 8080 if not set.
func (c *SiteConfig) APIPort() int {
	if c.Network.APIPort == 0 {
		return 8080
	}
	return c.Network.APIPort
}

func LoadSiteConfig(path string) (*SiteConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg SiteConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}

	if cfg.Version != 1 {
		return nil, fmt.Errorf("unsupported site.yaml version: %d", cfg.Version)
	}

	return &cfg, nil
}
