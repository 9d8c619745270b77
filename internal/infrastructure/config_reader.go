// Package infrastructure holds the I/O adapters: configuration,
// catalogs of star stamps, fit-result tables and solution files.
package infrastructure

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"

	"starpsf/internal/domain"
)

// ReadConfig loads the YAML configuration and fills defaults for
// anything left unset.
func ReadConfig(path string) (*domain.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	var cfg domain.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing config file: %v", domain.ErrConfiguration, err)
	}
	setDefaults(&cfg)
	return &cfg, nil
}

func setDefaults(cfg *domain.Config) {
	if cfg.Backend == "" {
		cfg.Backend = "leastsq"
	}
	if cfg.Profile == "" {
		cfg.Profile = "gaussian"
	}
	if cfg.MoffatBeta == 0 {
		cfg.MoffatBeta = 3
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = 40
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.ErrorEstimate == 0 {
		cfg.ErrorEstimate = 1
	}
	if len(cfg.ShapeWeights) == 0 {
		cfg.ShapeWeights = []float64{0.5, 1, 1}
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.OutputFile == "" {
		cfg.OutputFile = "starpsf_results.txt"
	}
	if cfg.SolutionFile == "" {
		cfg.SolutionFile = "starpsf_solution.yaml"
	}
}
