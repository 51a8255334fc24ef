package tts

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is returned when Speak is called before Initialize succeeds
	ErrNotInitialized = errors.New("not initialized")

	// ErrInvalidInput covers empty or oversized text and unknown audio formats
	ErrInvalidInput = errors.New("invalid input")

	// ErrNetworkConnect covers Wi-Fi bring-up, TLS and mid-stream network failures
	ErrNetworkConnect = errors.New("network connection failed")

	// ErrHTTP is wrapped by HTTPError for non-200 responses
	ErrHTTP = errors.New("http request failed")

	// ErrSocket is returned when the blocking player cannot open its socket
	ErrSocket = errors.New("socket connection failed")
)

// HTTPError is returned when the API answers with anything but 200
type HTTPError struct {
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string {
	if e.Status != "" {
		return "HTTP Error: " + e.Status
	}
	return fmt.Sprintf("HTTP Error: %d", e.StatusCode)
}

func (e *HTTPError) Unwrap() error {
	return ErrHTTP
}

// ErrorHandler observes every error the speaker reports
type ErrorHandler interface {
	OnError(message string)
}

// ErrorHandlerFunc adapts a function to ErrorHandler
type ErrorHandlerFunc func(message string)

// OnError calls f(message)
func (f ErrorHandlerFunc) OnError(message string) {
	f(message)
}

// errorType returns the metrics label for err
func errorType(err error) string {
	switch {
	case errors.Is(err, ErrNotInitialized):
		return "not_initialized"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrHTTP):
		return "http"
	case errors.Is(err, ErrSocket):
		return "socket"
	case errors.Is(err, ErrNetworkConnect):
		return "network"
	default:
		return "other"
	}
}
