package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ChadFarrow/stablekraft-app-sub011/internal/kraft"
)

// Error is the structured error the HTTP boundary writes back.
type Error struct {
	Status  int
	Err     error // The error this wraps
	Details []Detail
}

type Detail struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d: %s, details: %v", e.Status, e.Err, e.Details)
}

func (e *Error) Unwrap() error { return e.Err }

type transport struct {
	Message string   `json:"message"`
	Details []Detail `json:"details"`
	Status  int      `json:"status"`
}

func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(transport{
		Message: e.Err.Error(),
		Details: e.Details,
		Status:  e.Status,
	})
}

func (e *Error) UnmarshalJSON(byts []byte) error {
	t := transport{}
	if err := json.Unmarshal(byts, &t); err != nil {
		return err
	}

	e.Err = errors.New(t.Message)
	e.Details = t.Details
	e.Status = t.Status
	return nil
}

func E(args ...any) *Error {
	ret := &Error{
		Status:  http.StatusInternalServerError,
		Err:     nil,
		Details: nil,
	}

	for _, arg := range args {
		switch arg := arg.(type) {
		case string:
			ret.Err = errors.New(arg)
		case error:
			ret.Err = arg
		case int:
			ret.Status = arg
		case Detail:
			ret.Details = append(ret.Details, arg)
		case []Detail:
			ret.Details = append(ret.Details, arg...)
		}
	}

	return ret
}

// FromDomain maps pipeline errors onto a response. Anything unrecognized is
// an internal error and its message is not exposed.
func FromDomain(err error) *Error {
	var (
		sErr *Error
		pe   *kraft.ParseError
		te   *kraft.TransportError
	)
	switch {
	case errors.As(err, &sErr):
		return sErr
	case errors.Is(err, kraft.ErrNotFound):
		return E(http.StatusNotFound, "not found")
	case errors.Is(err, kraft.ErrResolutionNotFound):
		return E(http.StatusNotFound, err.Error())
	case errors.Is(err, kraft.ErrConflict):
		return E(http.StatusConflict, "already exists")
	case errors.As(err, &pe):
		return E(http.StatusUnprocessableEntity, pe.Error())
	case errors.As(err, &te):
		return E(http.StatusBadGateway, te.Error())
	default:
		return E(http.StatusInternalServerError, "internal server error")
	}
}
