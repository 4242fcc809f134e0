package httpfetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/italolelis/downloadables/internal/downloadables"
)

// NetworkError represents connection failures and unexpected HTTP responses
// while fetching a bundle.
type NetworkError struct {
	Operation  string // The operation that failed (e.g., "get_bundle")
	Bundle     string // Bundle being fetched
	StatusCode int    // HTTP status code, if applicable (0 for non-HTTP errors)
	Message    string // Error message from the server or network layer
	Err        error  // Underlying error, if any
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("network error during %s of %s (HTTP %d): %s", e.Operation, e.Bundle, e.StatusCode, e.Message)
	}

	return fmt.Sprintf("network error during %s of %s: %s", e.Operation, e.Bundle, e.Message)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// DownloadErrorType maps the failure onto the downloadables taxonomy.
func (e *NetworkError) DownloadErrorType() downloadables.ErrorType {
	switch e.StatusCode {
	case 0:
		var netErr net.Error
		if errors.Is(e.Err, context.DeadlineExceeded) || (errors.As(e.Err, &netErr) && netErr.Timeout()) {
			return downloadables.ErrorTimeout
		}

		return downloadables.ErrorNoConnection
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return downloadables.ErrorTimeout
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable:
		return downloadables.ErrorNoConnection
	default:
		return downloadables.ErrorServer
	}
}

// StorageError represents failures writing a bundle into the content directory.
type StorageError struct {
	Path      string // File that could not be written
	Operation string // open, write, mkdir
	Err       error  // Underlying error, if any
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s of %s: %v", e.Operation, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) DownloadErrorType() downloadables.ErrorType {
	return downloadables.ErrorStorage
}

// ContentError represents a catalog entry that cannot be fetched as described,
// such as an unusable URL or a bundle name escaping the content directory.
type ContentError struct {
	Bundle string // Name of the bundle that failed validation
	Reason string // Human-readable explanation of why the content is invalid
	Err    error  // Underlying error, if any
}

func (e *ContentError) Error() string {
	return fmt.Sprintf("invalid bundle %s: %s", e.Bundle, e.Reason)
}

func (e *ContentError) Unwrap() error {
	return e.Err
}

func (e *ContentError) DownloadErrorType() downloadables.ErrorType {
	return downloadables.ErrorServer
}
