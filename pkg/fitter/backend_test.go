package fitter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"starpsf/internal/domain"
)

func TestParseBackend(t *testing.T) {
	for _, name := range []string{"moments", "leastsq", "gradient", "neldermead", "sampling"} {
		b, err := ParseBackend(name)
		require.NoError(t, err)
		assert.Equal(t, name, b.String())
	}

	_, err := ParseBackend("lbfgs")
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}
