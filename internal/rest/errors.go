package rest

import (
	"errors"
	"fmt"
)

// ErrorClass buckets REST failures for user-visible surfacing. The
// stores map a class to a contextual message; the engine never retries
// validation-class failures automatically.
type ErrorClass string

const (
	ClassUnauthorized ErrorClass = "unauthorized" // 401: re-authenticate
	ClassForbidden    ErrorClass = "forbidden"    // 403: permission
	ClassNotFound     ErrorClass = "not_found"    // 404: resource gone
	ClassValidation   ErrorClass = "validation"   // other 4xx: bad input, duplicates, limits
	ClassGeneric      ErrorClass = "generic"      // 5xx and network failures
)

// APIError is a failed REST call: a non-2xx response or a transport
// failure (StatusCode 0).
type APIError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("rest: request failed: %v", e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("rest: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("rest: status %d", e.StatusCode)
}

func (e *APIError) Unwrap() error { return e.Err }

// Class maps the failure onto its user-visible bucket.
func (e *APIError) Class() ErrorClass {
	switch {
	case e.StatusCode == 401:
		return ClassUnauthorized
	case e.StatusCode == 403:
		return ClassForbidden
	case e.StatusCode == 404:
		return ClassNotFound
	case e.StatusCode >= 400 && e.StatusCode < 500:
		return ClassValidation
	default:
		return ClassGeneric
	}
}

// Classify extracts the error class from any error returned by the
// client. Non-API errors are generic.
func Classify(err error) ErrorClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Class()
	}
	return ClassGeneric
}
