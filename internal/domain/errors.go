package domain

import "errors"

var (
	// ErrNotFound is returned when an addressed row or buffer entry does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput marks validation failures raised before any side effect.
	ErrInvalidInput = errors.New("invalid input")
	// ErrForecastSource wraps failures of the external forecast service.
	ErrForecastSource = errors.New("forecast source failure")
)
