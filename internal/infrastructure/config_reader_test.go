package infrastructure

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"starpsf/internal/domain"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadConfigDefaults(t *testing.T) {
	path := writeFile(t, "config.yaml", "catalog_file: stars.txt\n")
	cfg, err := ReadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "leastsq", cfg.Backend)
	assert.Equal(t, "gaussian", cfg.Profile)
	assert.Equal(t, 3.0, cfg.MoffatBeta)
	assert.Equal(t, 40, cfg.MaxIterations)
	assert.Equal(t, 1.0, cfg.ErrorEstimate)
	assert.Equal(t, []float64{0.5, 1, 1}, cfg.ShapeWeights)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "stars.txt", cfg.CatalogFile)
	assert.Greater(t, cfg.Workers, 0)
	assert.NotEmpty(t, cfg.OutputFile)
	assert.NotEmpty(t, cfg.SolutionFile)
}

func TestReadConfigOverrides(t *testing.T) {
	path := writeFile(t, "config.yaml", `
backend: sampling
profile: moffat
moffat_beta: 2.5
n_fit_stars: 100
seed: 12345
shape_weights: [1, 1, 1]
max_shapes: [0.2, 0.3, 0.3]
use_gradient: true
log_level: debug
`)
	cfg, err := ReadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "sampling", cfg.Backend)
	assert.Equal(t, "moffat", cfg.Profile)
	assert.Equal(t, 2.5, cfg.MoffatBeta)
	assert.Equal(t, 100, cfg.NFitStars)
	assert.Equal(t, int64(12345), cfg.Seed)
	assert.Equal(t, []float64{1, 1, 1}, cfg.ShapeWeights)
	assert.Equal(t, []float64{0.2, 0.3, 0.3}, cfg.MaxShapes)
	assert.True(t, cfg.UseGradient)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestReadConfigErrors(t *testing.T) {
	_, err := ReadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := writeFile(t, "bad.yaml", "backend: [not\n")
	_, err = ReadConfig(path)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}
