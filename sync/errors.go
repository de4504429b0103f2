package sync

import (
	"errors"
	"fmt"
	"net/http"
)

// FatalError marks the failure of a required step (credential resolution or
// the feed fetch) and carries the HTTP status and detail to surface to the
// caller. Optional enrichment steps never produce a FatalError; they degrade
// to zero values and log.
type FatalError struct {
	Status  int
	Message string
	Details string
	Err     error
}

// Error fulfils the error interface.
func (e *FatalError) Error() string {
	if e.Details == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, e.Details)
}

// Unwrap supports errors.Is/As chains.
func (e *FatalError) Unwrap() error {
	return e.Err
}

// AsFatal unwraps a *FatalError from err, returning nil if none is found.
func AsFatal(err error) *FatalError {
	var fatalErr *FatalError
	if errors.As(err, &fatalErr) {
		return fatalErr
	}
	return nil
}

// badRequest builds a 400 FatalError.
func badRequest(message, details string, err error) *FatalError {
	return &FatalError{
		Status:  http.StatusBadRequest,
		Message: message,
		Details: details,
		Err:     err,
	}
}
