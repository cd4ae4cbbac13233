// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/repairdesk/repairdesk/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var fields shared.FieldErrors
	switch {
	case errors.As(err, &fields):
		JSON(w, http.StatusUnprocessableEntity, ProblemDetail{
			Title:  "Validation Failed",
			Status: http.StatusUnprocessableEntity,
			Detail: err.Error(),
			Fields: fields,
		})
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrAuthorization):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrInvalidState):
		Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, shared.ErrTransientIO):
		Problem(w, http.StatusServiceUnavailable, "Service Unavailable", shared.UserSafeMessage(err))
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

// Fail logs err and writes the mapped problem response. Expected domain
// errors are logged at warn level, everything else at error level.
func Fail(logger *slog.Logger, w http.ResponseWriter, op string, err error) {
	if logger != nil {
		if expected(err) {
			logger.Warn(op, slog.Any("error", err))
		} else {
			logger.Error(op, slog.Any("error", err))
		}
	}
	RespondError(w, err)
}

func expected(err error) bool {
	for _, target := range []error{
		shared.ErrValidation, shared.ErrAuthorization, shared.ErrNotFound,
		shared.ErrConflict, shared.ErrInvalidState,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
