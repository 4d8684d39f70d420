package exchange

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyAPICode(t *testing.T) {
	tests := []struct {
		apiCode string
		want    ErrorCode
	}{
		{"INVALID_SESSION_INFORMATION", ErrCodeInvalidSession},
		{"NO_SESSION", ErrCodeInvalidSession},
		{"TOO_MUCH_DATA", ErrCodeTooMuchData},
		{"INVALID_INPUT_DATA", ErrCodeInvalidInput},
		{"INVALID_APP_KEY", ErrCodeInvalidInput},
		{"SERVICE_BUSY", ErrCodeServiceUnavailable},
		{"TIMEOUT_ERROR", ErrCodeTimeout},
		{"SOMETHING_NEW", ErrCodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.apiCode, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyAPICode(tt.apiCode))
		})
	}
}

func TestAPIError_Retryable(t *testing.T) {
	retryable := []ErrorCode{ErrCodeInvalidSession, ErrCodeServiceUnavailable, ErrCodeTimeout, ErrCodeRateLimited}
	for _, code := range retryable {
		assert.True(t, (&APIError{Code: code}).Retryable(), "code %s", code)
	}

	permanent := []ErrorCode{ErrCodeTooMuchData, ErrCodeInvalidInput, ErrCodeUnknown}
	for _, code := range permanent {
		assert.False(t, (&APIError{Code: code}).Retryable(), "code %s", code)
	}
}

func TestAsAPIError_Unwraps(t *testing.T) {
	inner := &APIError{Code: ErrCodeTooMuchData, Endpoint: "listMarketBook", Message: "too much"}
	wrapped := fmt.Errorf("snapshot batch: %w", inner)

	apiErr, ok := AsAPIError(wrapped)
	require.True(t, ok)
	assert.Equal(t, ErrCodeTooMuchData, apiErr.Code)

	assert.True(t, IsTooMuchData(wrapped))
	assert.False(t, IsInvalidInput(wrapped))

	_, ok = AsAPIError(fmt.Errorf("plain error"))
	assert.False(t, ok)
}

func TestAPIError_Message(t *testing.T) {
	err := &APIError{
		Code:     ErrCodeInvalidInput,
		APICode:  "INVALID_INPUT_DATA",
		Message:  "bad filter",
		Endpoint: "listMarketCatalogue",
	}
	assert.Contains(t, err.Error(), "listMarketCatalogue")
	assert.Contains(t, err.Error(), "INVALID_INPUT_DATA")
}
