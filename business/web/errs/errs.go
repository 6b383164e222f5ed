// Package errs provides the error types the web layer understands.
package errs

import (
	"errors"

	"github.com/ardanlabs/mixnode/foundation/validate"
)

// Response is the form used for API responses from failures in the API.
type Response struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// NewFieldsResponse builds a response out of validation failures.
func NewFieldsResponse(fields validate.FieldErrors) Response {
	m := make(map[string]string, len(fields))
	for _, fld := range fields {
		m[fld.Field] = fld.Error
	}

	return Response{
		Error:  "data validation error",
		Fields: m,
	}
}

// Trusted carries an error whose message is safe to show to a client
// together with the HTTP status to use.
type Trusted struct {
	Err    error
	Status int
}

// NewTrusted wraps a provided error with an HTTP status code. Handlers use
// it for the failures they expect.
func NewTrusted(err error, status int) error {
	return &Trusted{err, status}
}

// Error implements the error interface.
func (te *Trusted) Error() string {
	return te.Err.Error()
}

// Unwrap gives errors.Is access to the wrapped error.
func (te *Trusted) Unwrap() error {
	return te.Err
}

// IsTrusted checks if an error of type Trusted exists.
func IsTrusted(err error) bool {
	var te *Trusted
	return errors.As(err, &te)
}

// GetTrusted returns the Trusted value in the chain, if any.
func GetTrusted(err error) *Trusted {
	var te *Trusted
	if !errors.As(err, &te) {
		return nil
	}
	return te
}
