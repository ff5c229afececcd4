// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors for domain layer.
var (
	ErrNotFound    = errors.New("resource not found")
	ErrDuplicate   = errors.New("duplicate entry")
	ErrValidation  = errors.New("validation failed")
	ErrUnavailable = errors.New("dependency unavailable")
)

type errorClass struct {
	target error
	status int
	title  string
}

var errorClasses = []errorClass{
	{ErrNotFound, http.StatusNotFound, "Not Found"},
	{ErrDuplicate, http.StatusConflict, "Duplicate"},
	{ErrValidation, http.StatusUnprocessableEntity, "Validation Failed"},
	{ErrUnavailable, http.StatusServiceUnavailable, "Service Unavailable"},
}

// StatusOf returns the HTTP status RespondError uses for err.
func StatusOf(err error) int {
	for _, c := range errorClasses {
		if errors.Is(err, c.target) {
			return c.status
		}
	}
	return http.StatusInternalServerError
}

// RespondError maps domain errors to RFC7807 responses. Unclassified errors
// become a 500 without detail.
func RespondError(w http.ResponseWriter, err error) {
	for _, c := range errorClasses {
		if errors.Is(err, c.target) {
			Problem(w, c.status, c.title, err.Error())
			return
		}
	}
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
}
