package domain

import "errors"

var (
	// ErrMomentFailure: adaptive-moment measurement did not converge.
	// Fatal for a single-star call; converted to exclusion at the
	// population boundary.
	ErrMomentFailure = errors.New("moment measurement failed")

	// ErrModelFit: a model evaluation was inconsistent or
	// non-convergent downstream of the moments.
	ErrModelFit = errors.New("model fit error")

	// ErrFitConvergence: the underlying optimizer failed to converge
	// within its iteration budget.
	ErrFitConvergence = errors.New("fit did not converge")

	// ErrConfiguration: unknown backend or invalid setup. Always fatal
	// at construction time, never deferred to the first fit call.
	ErrConfiguration = errors.New("invalid configuration")

	ErrInvalidCatalog = errors.New("invalid catalog format")
)
