package infrastructure

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"starpsf/internal/domain"
)

const sampleCatalog = `# test catalog
# u v w h dudx dudy dvdx dvdy
0.5 -1.5 3 2 0.26 0 0 0.26
1 2 3
4 5 6
1 1 1
1 0 1

-0.25 0.75 2 2 0.1 0.02 -0.01 0.12
9 8
7 6
1 1
1 1
`

func TestReadStars(t *testing.T) {
	path := writeFile(t, "stars.txt", sampleCatalog)
	stars, err := NewCatalogReader().ReadStars(path)
	require.NoError(t, err)
	require.Len(t, stars, 2)

	first := stars[0]
	assert.Equal(t, 0.5, first.Pos.U)
	assert.Equal(t, -1.5, first.Pos.V)
	assert.Equal(t, 3, first.Image.Width)
	assert.Equal(t, 2, first.Image.Height)
	assert.Equal(t, 0.26, first.WCS.DuDx)
	assert.Equal(t, 6.0, first.Image.At(2, 1))
	assert.Equal(t, 0.0, first.Weight.At(1, 1))
	assert.Equal(t, 5, first.Weight.CountNonzero())
	require.NotNil(t, first.Fit)
	assert.Equal(t, 1.0, first.Fit.Flux)

	second := stars[1]
	assert.Equal(t, 2, second.Image.Width)
	assert.Equal(t, 0.02, second.WCS.DuDy)
	assert.Equal(t, 9.0, second.Image.At(0, 0))
}

func TestReadStarsErrors(t *testing.T) {
	reader := NewCatalogReader()

	_, err := reader.ReadStars(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)

	path := writeFile(t, "empty.txt", "# nothing here\n")
	_, err = reader.ReadStars(path)
	assert.ErrorIs(t, err, domain.ErrInvalidCatalog)

	path = writeFile(t, "short.txt", "0 0 2 2 1 0 0 1\n1 2\n")
	_, err = reader.ReadStars(path)
	assert.ErrorIs(t, err, domain.ErrInvalidCatalog)

	path = writeFile(t, "badheader.txt", "0 0 2 2 1 0 0\n")
	_, err = reader.ReadStars(path)
	assert.ErrorIs(t, err, domain.ErrInvalidCatalog)

	path = writeFile(t, "badrow.txt", "0 0 2 2 1 0 0 1\n1 x\n3 4\n1 1\n1 1\n")
	_, err = reader.ReadStars(path)
	assert.ErrorIs(t, err, domain.ErrInvalidCatalog)
}

func TestWriteStars(t *testing.T) {
	star := &domain.Star{
		Pos: domain.Position{U: 0.5, V: -0.25},
		Fit: &domain.FitRecord{
			Params: []float64{0.1, 0.2, 1.3, 0.05, -0.02},
			Flux:   123.5,
			Center: [2]float64{0.1, 0.2},
			Chisq:  42.25,
			Dof:    1018,
		},
		UsedInFit: true,
	}
	bare := &domain.Star{Pos: domain.Position{U: 1, V: 1}}

	path := filepath.Join(t.TempDir(), "results.txt")
	require.NoError(t, NewResultWriter().WriteStars(path, []*domain.Star{star, bare}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "#"))

	fields := strings.Fields(lines[1])
	require.Len(t, fields, 8+5)
	assert.Equal(t, "123.5", fields[2])
	assert.Equal(t, "1", fields[7])

	assert.Len(t, strings.Fields(lines[2]), 8)
}
