package apperrors

import (
	"context"
	"errors"
	"net/http"
)

// StatusClientClosedRequest is returned when the scheduler hung up before
// the executor answered. Nothing reads the body.
const StatusClientClosedRequest = 499

// HTTPStatus maps an error to the status the scheduler sees. Classified
// errors win over the context error they may wrap, so an orchestrator
// timeout wrapped in Transient stays 503.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrTransient):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrInternal):
		return http.StatusInternalServerError
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the text safe to put in a response body. Internal
// failures carry orchestrator detail (ops, daemon messages) that belongs in
// the log only.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	if HTTPStatus(err) == http.StatusInternalServerError {
		return "internal error"
	}
	return err.Error()
}
