package httpx

import (
	"errors"
	"net/http"
)

// Sentinels wrapped by domain errors. RespondError maps them to statuses.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicate    = errors.New("duplicate entry")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrUnavailable  = errors.New("service unavailable")
)

type errorClass struct {
	sentinel   error
	status     int
	title      string
	showDetail bool
}

var errorClasses = []errorClass{
	{ErrNotFound, http.StatusNotFound, "Not Found", true},
	{ErrDuplicate, http.StatusConflict, "Duplicate", true},
	{ErrValidation, http.StatusBadRequest, "Validation Failed", true},
	{ErrForbidden, http.StatusForbidden, "Forbidden", true},
	{ErrUnauthorized, http.StatusUnauthorized, "Unauthorized", true},
	{ErrUnavailable, http.StatusServiceUnavailable, "Service Unavailable", false},
}

// RespondError writes the problem response matching the first sentinel err
// wraps. Anything else is a 500 without detail.
func RespondError(w http.ResponseWriter, err error) {
	for _, c := range errorClasses {
		if !errors.Is(err, c.sentinel) {
			continue
		}
		detail := ""
		if c.showDetail {
			detail = err.Error()
		}
		Problem(w, c.status, c.title, detail)
		return
	}
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
}

// Expected reports whether err is a client-side outcome that needs no error log.
func Expected(err error) bool {
	for _, c := range errorClasses {
		if c.showDetail && errors.Is(err, c.sentinel) {
			return true
		}
	}
	return false
}
