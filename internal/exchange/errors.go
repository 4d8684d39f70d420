package exchange

import (
	"errors"
	"fmt"
)

// ErrorCode is the client-side classification of an exchange API failure.
type ErrorCode string

const (
	ErrCodeInvalidSession     ErrorCode = "INVALID_SESSION"
	ErrCodeTooMuchData        ErrorCode = "TOO_MUCH_DATA"
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeTimeout            ErrorCode = "TIMEOUT"
	ErrCodeRateLimited        ErrorCode = "RATE_LIMITED"
	ErrCodeUnknown            ErrorCode = "UNKNOWN"
)

// apiCodeClassification maps the exchange's own error codes onto the
// client taxonomy.
var apiCodeClassification = map[string]ErrorCode{
	"INVALID_SESSION_INFORMATION": ErrCodeInvalidSession,
	"NO_SESSION":                  ErrCodeInvalidSession,
	"TOO_MUCH_DATA":               ErrCodeTooMuchData,
	"INVALID_INPUT_DATA":          ErrCodeInvalidInput,
	"INVALID_APP_KEY":             ErrCodeInvalidInput,
	"SERVICE_BUSY":                ErrCodeServiceUnavailable,
	"TIMEOUT_ERROR":               ErrCodeTimeout,
}

// APIError is a classified exchange API failure. Endpoint and HTTPStatus are
// populated when known; APICode carries the exchange's raw error code.
type APIError struct {
	Code       ErrorCode
	APICode    string
	Message    string
	Endpoint   string
	HTTPStatus int
}

func (e *APIError) Error() string {
	if e.APICode != "" {
		return fmt.Sprintf("exchange %s: %s (%s): %s", e.Endpoint, e.Code, e.APICode, e.Message)
	}
	return fmt.Sprintf("exchange %s: %s: %s", e.Endpoint, e.Code, e.Message)
}

// Retryable reports whether the failure class is worth retrying with backoff.
// Invalid sessions are retryable because the client re-authenticates first.
func (e *APIError) Retryable() bool {
	switch e.Code {
	case ErrCodeInvalidSession, ErrCodeServiceUnavailable, ErrCodeTimeout, ErrCodeRateLimited:
		return true
	default:
		return false
	}
}

// classifyAPICode maps a raw exchange error code to the client taxonomy.
func classifyAPICode(apiCode string) ErrorCode {
	if code, ok := apiCodeClassification[apiCode]; ok {
		return code
	}
	return ErrCodeUnknown
}

// AsAPIError unwraps err into an APIError if it is one.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsTooMuchData reports whether err is the exchange refusing a batch for
// weight reasons. Callers shrink or skip the batch instead of retrying.
func IsTooMuchData(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Code == ErrCodeTooMuchData
}

// IsInvalidInput reports whether err is a permanent request defect.
func IsInvalidInput(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Code == ErrCodeInvalidInput
}
