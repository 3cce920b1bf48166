// Package apperr defines the error taxonomy shared by the coordinator's
// engines and the HTTP boundary.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound is returned when an entity is absent or belongs to a
	// different owner. The two cases are reported identically so that
	// lookups never leak the existence of another owner's data.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState is returned when an operation targets a file or
	// chunk outside the required lifecycle state.
	ErrInvalidState = errors.New("invalid state")

	// ErrOutOfRange is returned for a chunk index outside the declared
	// chunk count.
	ErrOutOfRange = errors.New("chunk index out of range")

	// ErrAlreadyProcessed is returned for a chunk re-upload after the
	// chunk has completed.
	ErrAlreadyProcessed = errors.New("chunk already processed")

	// ErrCapacityExhausted is returned when no replication target node
	// has sufficient available capacity.
	ErrCapacityExhausted = errors.New("storage capacity exhausted")

	// ErrMissingData is returned when assembly finds absent or
	// incomplete chunk bytes.
	ErrMissingData = errors.New("missing chunk data")

	// ErrInvalidToken is returned for a signed URL that fails either the
	// signature or the expiry check. The two causes are deliberately not
	// distinguished.
	ErrInvalidToken = errors.New("invalid or expired token")

	// ErrBusy is returned when the per-file processing lease is held by
	// another job and the operation should be retried.
	ErrBusy = errors.New("file is being processed")
)

// StatusCode maps a taxonomy error to the HTTP status the boundary reports.
// Unknown errors map to 500.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrOutOfRange),
		errors.Is(err, ErrAlreadyProcessed):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidToken):
		return http.StatusForbidden
	case errors.Is(err, ErrCapacityExhausted),
		errors.Is(err, ErrBusy):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// NotFoundf wraps ErrNotFound with entity context.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

// InvalidStatef wraps ErrInvalidState with state context.
func InvalidStatef(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalidState)...)
}
