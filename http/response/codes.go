package response

import "net/http"

// Machine-readable error codes carried in the envelope's error.code.
const (
	ErrSystem         = "SYS_INTERNAL_ERROR"
	ErrBadRequest     = "SYS_BAD_REQUEST"
	ErrServiceUnavail = "SYS_SERVICE_UNAVAILABLE"
	ErrGatewayTimeout = "SYS_GATEWAY_TIMEOUT"

	ErrValidation    = "VAL_INVALID_INPUT"
	ErrInvalidFormat = "VAL_INVALID_FORMAT"

	ErrMissingToken = "AUTH_MISSING_TOKEN"
	ErrInvalidToken = "AUTH_INVALID_TOKEN"
	ErrForbidden    = "AUTH_FORBIDDEN"

	ErrNotFound = "LOG_RECORD_NOT_FOUND"
	ErrConflict = "LOG_REQUEST_IN_FLIGHT"

	ErrInvalidAction    = "LOG_INVALID_ACTION"
	ErrInvalidDimension = "LOG_INVALID_DIMENSION"
	ErrUnknownFormat    = "LOG_UNKNOWN_EXPORT_FORMAT"

	ErrRateLimit = "LOG_RATE_LIMITED"
)

var statusOf = map[string]int{
	ErrBadRequest:       http.StatusBadRequest,
	ErrValidation:       http.StatusBadRequest,
	ErrInvalidFormat:    http.StatusBadRequest,
	ErrInvalidAction:    http.StatusBadRequest,
	ErrInvalidDimension: http.StatusBadRequest,
	ErrUnknownFormat:    http.StatusBadRequest,
	ErrMissingToken:     http.StatusUnauthorized,
	ErrInvalidToken:     http.StatusUnauthorized,
	ErrForbidden:        http.StatusForbidden,
	ErrNotFound:         http.StatusNotFound,
	ErrConflict:         http.StatusConflict,
	ErrRateLimit:        http.StatusTooManyRequests,
	ErrServiceUnavail:   http.StatusServiceUnavailable,
	ErrGatewayTimeout:   http.StatusGatewayTimeout,
}

// MapStatus returns the HTTP status for a code; unknown codes are 500.
func MapStatus(code string) int {
	if status, ok := statusOf[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
