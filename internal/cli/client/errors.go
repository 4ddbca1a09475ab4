package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

var (
	// ErrSessionExpired is wrapped by errors of non-login calls answered with 401.
	// By the time the caller sees it the stored session has been cleared.
	ErrSessionExpired = errors.New("session expired")

	// ErrPayloadTooLarge is wrapped by errors of calls answered with 413
	ErrPayloadTooLarge = errors.New("payload too large")
)

// APIError is a non-2xx answer from the backend
type APIError struct {
	StatusCode int
	Message    string // backend "error" or "message" field, if any
	Body       string

	sessionExpired bool
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
	}
	if e.Body != "" {
		return fmt.Sprintf("request failed (status %d): %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("request failed (status %d)", e.StatusCode)
}

func (e *APIError) Unwrap() error {
	switch {
	case e.sessionExpired:
		return ErrSessionExpired
	case e.StatusCode == http.StatusRequestEntityTooLarge:
		return ErrPayloadTooLarge
	default:
		return nil
	}
}

// newAPIError builds an APIError from a response body
func newAPIError(statusCode int, body []byte) *APIError {
	apiErr := &APIError{
		StatusCode: statusCode,
		Body:       strings.TrimSpace(string(body)),
	}

	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Error != "" {
			apiErr.Message = payload.Error
		} else {
			apiErr.Message = payload.Message
		}
	}
	return apiErr
}

// IsSessionExpired reports whether err comes from a forced logout
func IsSessionExpired(err error) bool {
	return errors.Is(err, ErrSessionExpired)
}

// IsPayloadTooLarge reports whether the backend refused the body size
func IsPayloadTooLarge(err error) bool {
	return errors.Is(err, ErrPayloadTooLarge)
}

// IsTimeout reports whether err is a client-side timeout
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// StatusCode returns the backend status carried by err, or 0
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// Message returns the backend-supplied message carried by err, or ""
func Message(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return ""
}
