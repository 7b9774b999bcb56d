package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrUpstreamFetch    = errors.New("upstream fetch failed")
	ErrPersistence      = errors.New("persistence failed")
	ErrPublish          = errors.New("event publish failed")
	ErrUnimplemented    = errors.New("stage not implemented")
	ErrDuplicateEvent   = errors.New("event already processed")
	ErrEventInFlight    = errors.New("event claimed by another delivery")
	ErrPayloadTooLarge  = errors.New("payload too large")
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrInternal         = errors.New("internal error")
	ErrTimeout          = errors.New("operation timed out")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// Retryable reports whether a failed stage may succeed if the same event is
// executed again. Bad input and missing stages never heal on their own.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrUnimplemented),
		errors.Is(err, ErrDuplicateEvent),
		errors.Is(err, ErrPayloadTooLarge),
		errors.Is(err, ErrDocumentNotFound):
		return false
	default:
		return true
	}
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateEvent), errors.Is(err, ErrEventInFlight):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrUnimplemented):
		return http.StatusNotImplemented
	case errors.Is(err, ErrUpstreamFetch), errors.Is(err, ErrPublish):
		return http.StatusBadGateway
	case errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}

}
