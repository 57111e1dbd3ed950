package errormapper

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/thrillee/epccore/internal/bus"
	"github.com/thrillee/epccore/internal/persist"
	"github.com/thrillee/epccore/internal/timer"
	"github.com/thrillee/epccore/internal/ue"
	"github.com/thrillee/epccore/pkg/codes"
)

// Classify maps an error from any core package to its internal code.
func Classify(err error) string {
	switch {
	case err == nil:
		return StatusCodeOK
	case errors.Is(err, bus.ErrResourceExhausted):
		return ErrorCodeResourceExhausted
	case errors.Is(err, bus.ErrUnknownTask):
		return ErrorCodeUnknownTask
	case errors.Is(err, bus.ErrClosed):
		return ErrorCodeBusClosed
	case errors.Is(err, timer.ErrTimerSetupFailed):
		return ErrorCodeTimerSetupFailed
	case errors.Is(err, persist.ErrNotFound):
		return ErrorCodeStateNotFound
	case errors.Is(err, persist.ErrPersistenceUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return ErrorCodePersistenceUnavailable
	case errors.Is(err, ue.ErrInvariantViolation):
		return ErrorCodeInvariantViolation
	case errors.Is(err, ue.ErrDuplicatePDN),
		errors.Is(err, ue.ErrDuplicateBearer),
		errors.Is(err, ue.ErrInvalidEBI):
		return ErrorCodeValidationFailure
	default:
		return ErrorCodeSystemError
	}
}

// StatusCode converts an entry point result to the boundary convention:
// ReturnOK on success, ReturnError otherwise.
func StatusCode(err error) int {
	if err == nil {
		return codes.ReturnOK
	}
	return codes.ReturnError
}

var internalToHTTP = map[string]int{
	StatusCodeOK:                    http.StatusOK,
	ErrorCodeStateNotFound:          http.StatusNotFound,
	ErrorCodePersistenceUnavailable: http.StatusServiceUnavailable,
	ErrorCodeResourceExhausted:      http.StatusServiceUnavailable,
	ErrorCodeValidationFailure:      http.StatusBadRequest,
	ErrorCodeInvariantViolation:     http.StatusInternalServerError,
	ErrorCodeSystemError:            http.StatusInternalServerError,
}

// HTTPStatus translates an internal code for the manager API.
func HTTPStatus(internalCode string) int {
	internalCode = strings.ToUpper(internalCode)
	if status, ok := internalToHTTP[internalCode]; ok {
		return status
	}
	slog.Debug("No specific mapping found for error code, returning default",
		slog.String("internal_code", internalCode),
	)
	return http.StatusInternalServerError
}
