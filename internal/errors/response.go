package errors

import (
	"net/http"

	"github.com/cockroachdb/errors"
)

// ErrorDetail is the inner payload of an API error response
type ErrorDetail struct {
	Message string                 `json:"message"`
	Hint    string                 `json:"hint,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ErrorResponse is the JSON shape returned by the API layer for all errors
type ErrorResponse struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

// NewErrorResponse converts any error into the API error shape
func NewErrorResponse(err error) *ErrorResponse {
	resp := &ErrorResponse{
		Success: false,
		Error: ErrorDetail{
			Message: err.Error(),
		},
	}

	var ie *InternalError
	if errors.As(err, &ie) {
		if ie.hint != "" {
			resp.Error.Message = ie.hint
		}
		resp.Error.Hint = ie.hint
		resp.Error.Details = ie.reportableDetails
	}

	return resp
}

// HTTPStatusFromErr maps the error taxonomy onto HTTP status codes
func HTTPStatusFromErr(err error) int {
	switch {
	case IsNotFound(err):
		return http.StatusNotFound
	case IsAlreadyExists(err) || IsVersionConflict(err):
		return http.StatusConflict
	case IsValidation(err) || errors.Is(err, ErrCouponExpired) || errors.Is(err, ErrCouponExhausted):
		return http.StatusBadRequest
	case IsInvalidOperation(err):
		return http.StatusUnprocessableEntity
	case IsDeclined(err):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrPermissionDenied):
		return http.StatusForbidden
	case IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
