package api

import (
	"fmt"
	"net/http"
	"strings"
)

// ApiError is the JSON error envelope. Success is always false so
// clients can branch on one field regardless of status code.
type ApiError struct {
	StatusCode int    `json:"-"`
	Success    bool   `json:"success"`
	Message    string `json:"error"`
	RetryAfter int    `json:"retryAfter,omitempty"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

func NewBadRequestError(message string) *ApiError {
	if message == "" {
		message = lower(http.StatusText(http.StatusBadRequest))
	}

	return &ApiError{
		StatusCode: http.StatusBadRequest,
		Message:    message,
	}
}

func NewUnauthorizedError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusUnauthorized,
		Message:    lower(http.StatusText(http.StatusUnauthorized)),
	}
}

func NewNotFoundError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusNotFound,
		Message:    lower(http.StatusText(http.StatusNotFound)),
	}
}

func NewRateLimitError(retryAfterSec int) *ApiError {
	return &ApiError{
		StatusCode: http.StatusTooManyRequests,
		Message:    lower(http.StatusText(http.StatusTooManyRequests)),
		RetryAfter: retryAfterSec,
	}
}

func NewInternalServerError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusInternalServerError,
		Message:    lower(http.StatusText(http.StatusInternalServerError)),
		Err:        err,
	}
}

func NewBadGatewayError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusBadGateway,
		Message:    lower(http.StatusText(http.StatusBadGateway)),
		Err:        err,
	}
}

func NewServiceUnavailableError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusServiceUnavailable,
		Message:    lower(http.StatusText(http.StatusServiceUnavailable)),
		Err:        err,
	}
}
