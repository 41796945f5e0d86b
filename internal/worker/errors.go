package worker

import (
	"errors"

	"go.temporal.io/sdk/temporal"

	krafterrs "github.com/ChadFarrow/stablekraft-app-sub011/internal/errors"
)

// Unwraps the application error from temporal into a structured error if possible.
//
// Returns true if the error carried one.
// Returns false otherwise.
func asKrafterr(err error, sErr **krafterrs.Error) bool {
	if err == nil {
		return false
	}

	var appErr *temporal.ApplicationError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Details(sErr) == nil
}
