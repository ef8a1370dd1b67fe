package models

import "errors"

// Pipeline errors. Callers wrap them with %w and match with errors.Is.
var (
	// ErrConfiguration marks invalid chunking, provider or processor settings.
	ErrConfiguration = errors.New("configuration error")

	// ErrTransientProvider marks provider failures worth retrying (rate limit, timeout).
	ErrTransientProvider = errors.New("transient provider error")

	// ErrPermanentProvider marks provider failures that never succeed on retry.
	ErrPermanentProvider = errors.New("permanent provider error")

	// ErrDimensionMismatch signals that the provider and the index disagree on
	// vector size. The index must be reset before it can be used again.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrValidation marks malformed request parameters.
	ErrValidation = errors.New("validation error")

	// ErrProcessingInProgress is returned when a run or reset is already in flight.
	ErrProcessingInProgress = errors.New("processing in progress")

	// ErrNotFound indicates a requested document does not exist.
	ErrNotFound = errors.New("not found")
)

// IsFatal reports whether err must halt the current processing run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConfiguration) || errors.Is(err, ErrDimensionMismatch)
}
