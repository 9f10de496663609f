package errors

import (
	"fmt"
	"net/http"
)

// ClassifyHTTPError determines whether an HTTP error should be retried:
// 4xx client errors (except 408 and 429) are irrecoverable, 5xx are
// recoverable.
func ClassifyHTTPError(statusCode int, message, body string, underlyingErr error) *ClassifiedError {
	return &ClassifiedError{
		Category:   getHTTPErrorCategory(statusCode),
		StatusCode: statusCode,
		Message:    message,
		Body:       body,
		Underlying: underlyingErr,
	}
}

func getHTTPErrorCategory(statusCode int) ErrorCategory {
	switch {
	case statusCode >= 400 && statusCode < 500:
		switch statusCode {
		case http.StatusRequestTimeout, http.StatusTooManyRequests:
			return Recoverable
		default:
			return Irrecoverable
		}
	case statusCode >= 500 && statusCode < 600:
		return Recoverable
	default:
		return Recoverable
	}
}

// NewHTTPError creates a classified error for an unexpected status.
func NewHTTPError(statusCode int, message, body, operation string) *ClassifiedError {
	underlying := fmt.Errorf("%s failed: HTTP %d", operation, statusCode)
	if message != "" {
		underlying = fmt.Errorf("%s failed: %s", operation, message)
	}
	return ClassifyHTTPError(statusCode, message, body, underlying)
}

// NewNetworkError wraps a transport-level failure.
func NewNetworkError(operation string, err error) *NetworkError {
	return &NetworkError{Op: operation, Err: err}
}
