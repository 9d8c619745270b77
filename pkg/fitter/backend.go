package fitter

import (
	"fmt"

	"starpsf/internal/domain"
)

// Backend selects the optimization strategy for the field fit.
type Backend int

const (
	// BackendMoments solves for the analytic moment-matching seed only.
	BackendMoments Backend = iota
	// BackendLeastSquares runs the damped least-squares solver.
	BackendLeastSquares
	// BackendGradient runs L-BFGS on the scalar chi-square.
	BackendGradient
	// BackendNelderMead runs a derivative-free simplex search.
	BackendNelderMead
	// BackendSampling explores the posterior with a random-walk sampler.
	BackendSampling
)

func (b Backend) String() string {
	switch b {
	case BackendMoments:
		return "moments"
	case BackendLeastSquares:
		return "leastsq"
	case BackendGradient:
		return "gradient"
	case BackendNelderMead:
		return "neldermead"
	case BackendSampling:
		return "sampling"
	}
	return fmt.Sprintf("backend(%d)", int(b))
}

// ParseBackend maps a configuration string to a Backend.
func ParseBackend(name string) (Backend, error) {
	switch name {
	case "moments":
		return BackendMoments, nil
	case "leastsq":
		return BackendLeastSquares, nil
	case "gradient":
		return BackendGradient, nil
	case "neldermead":
		return BackendNelderMead, nil
	case "sampling":
		return BackendSampling, nil
	}
	return 0, fmt.Errorf("%w: unknown fit backend %q", domain.ErrConfiguration, name)
}
