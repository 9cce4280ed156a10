package client

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by the client.
var (
	// ErrContextCancelled is returned when the context is cancelled during a retry wait.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrNotModifiedWithoutEntry is wrapped when a 304 arrives for a request
	// that had no stored validator.
	ErrNotModifiedWithoutEntry = errors.New("not modified without cached entry")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 responses.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents failures without an HTTP status
	// (transport errors, undecodable bodies).
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassEnvelope represents a 2xx response whose envelope said success:false.
	ErrorClassEnvelope ErrorClass = "envelope"

	// ErrorClassProtocol represents responses the client cannot interpret,
	// such as a 304 with nothing cached.
	ErrorClassProtocol ErrorClass = "protocol"
)

// APIError is the single error type produced by the request client.
type APIError struct {
	// Status is the HTTP status, or 0 when no response was received.
	Status int

	// URL is the resolved request URL.
	URL string

	// Message is the user-facing message for the status bucket.
	Message string

	// ServerMessage is the message extracted from the response, if any.
	ServerMessage string

	Class ErrorClass
	Err   error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Detail renders the error with status and URL for logs.
func (e *APIError) Detail() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error (status %d, %s): %s: %v", e.Class, e.Status, e.URL, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error (status %d, %s): %s", e.Class, e.Status, e.URL, e.Message)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// IsStatus reports whether err carries the given HTTP status.
func IsStatus(err error, status int) bool {
	return StatusOf(err) == status
}

// classifyStatus categorizes an HTTP status for observability and retry.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ErrorClassProtocol
	}
}

// StatusMessage returns the user-facing message for a failed status. The
// server's own message is appended where the bucket benefits from it.
func StatusMessage(status int, serverMsg string) string {
	switch {
	case status == http.StatusBadRequest:
		if serverMsg != "" {
			return "Invalid request: " + serverMsg
		}
		return "Invalid request."
	case status == http.StatusUnauthorized:
		return "Your session has expired. Please log in again."
	case status == http.StatusForbidden:
		return "You do not have permission to perform this action."
	case status == http.StatusNotFound:
		return "The requested resource was not found."
	case status == http.StatusConflict:
		if serverMsg != "" {
			return "Conflict: " + serverMsg
		}
		return "Conflict: the resource was modified by someone else."
	case status == http.StatusTooManyRequests:
		return "Too many requests. Please wait a moment and try again."
	case status >= 500:
		return "Server error. Please try again later."
	default:
		if serverMsg != "" {
			return serverMsg
		}
		return fmt.Sprintf("Request failed with status %d.", status)
	}
}

func newHTTPError(status int, url, serverMsg string) *APIError {
	return &APIError{
		Status:        status,
		URL:           url,
		Message:       StatusMessage(status, serverMsg),
		ServerMessage: serverMsg,
		Class:         classifyStatus(status),
	}
}

func newNetworkError(url string, err error) *APIError {
	msg := "Network error. Please check your connection."
	return &APIError{
		URL:     url,
		Message: msg,
		Class:   ErrorClassNetwork,
		Err:     err,
	}
}

// RetryOnRateLimit is the default retry predicate: only 429 and 503 are
// retried.
func RetryOnRateLimit(err error) bool {
	status := StatusOf(err)
	return status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
}
