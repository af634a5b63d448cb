package gotrue

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError captures a non 2xx API response.
type APIError struct {
	Operation string
	Status    int
	Code      string
	Message   string
}

// Error returns the server message so known messages can be localized.
func (e *APIError) Error() string {
	if e == nil {
		return "gotrue error"
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return fmt.Sprintf("gotrue %s failed: %s", e.Operation, e.Code)
	}
	return fmt.Sprintf("gotrue %s failed with status %d", e.Operation, e.Status)
}

// Temporary reports server side and throttling failures worth retrying.
func (e *APIError) Temporary() bool {
	if e == nil {
		return false
	}
	return e.Status >= http.StatusInternalServerError || e.Status == http.StatusTooManyRequests
}

// IsRejected reports whether err is a client side rejection (4xx other than
// throttling), e.g. bad credentials or an unknown refresh token.
func IsRejected(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status >= 400 && apiErr.Status < 500 && !apiErr.Temporary()
}

func apiError(op string, status int, body ErrorResponse) *APIError {
	e := &APIError{
		Operation: op,
		Status:    status,
		Code:      body.ErrorCode,
		Message:   body.Msg,
	}
	if e.Code == "" {
		e.Code = body.Error
	}
	if e.Message == "" {
		e.Message = body.ErrorDescription
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}
