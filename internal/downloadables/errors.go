package downloadables

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"syscall"
)

// ErrorType classifies why a group failed to download.
type ErrorType string

const (
	ErrorNone             ErrorType = "NONE"
	ErrorNoConnection     ErrorType = "NO_CONNECTION"
	ErrorStorage          ErrorType = "STORAGE"
	ErrorServer           ErrorType = "SERVER"
	ErrorTimeout          ErrorType = "TIMEOUT"
	ErrorRetriesExhausted ErrorType = "RETRIES_EXHAUSTED"
)

var (
	ErrNotInitialized  = errors.New("downloadables manager is not initialized")
	ErrUnknownGroup    = errors.New("unknown downloadable group")
	ErrInvalidState    = errors.New("operation not valid in current state")
	ErrActionOrder     = errors.New("action thresholds must be strictly increasing")
	ErrRetriesExceeded = errors.New("retry budget exhausted")
	ErrStalled         = errors.New("no byte progress within stall timeout")
)

// Transient reports whether the error clears on its own and may be retried
// automatically.
func (t ErrorType) Transient() bool {
	return t == ErrorNoConnection || t == ErrorTimeout
}

// CanRetry reports whether a host may offer a Retry affordance.
func (t ErrorType) CanRetry() bool {
	return t != ErrorNone && t != ErrorRetriesExhausted
}

func (t ErrorType) String() string {
	if t == "" {
		return string(ErrorNone)
	}

	return string(t)
}

// Classified is implemented by transport errors that know their own category.
type Classified interface {
	DownloadErrorType() ErrorType
}

// DownloadError is the structured error recorded on a failed Handle.
type DownloadError struct {
	GroupID string
	Type    ErrorType
	Err     error
}

func (e *DownloadError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("download of group %s failed: %s", e.GroupID, e.Type)
	}

	return fmt.Sprintf("download of group %s failed (%s): %v", e.GroupID, e.Type, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

func (e *DownloadError) DownloadErrorType() ErrorType {
	return e.Type
}

// Classify maps an arbitrary transport error onto the error taxonomy.
func Classify(err error) ErrorType {
	if err == nil {
		return ErrorNone
	}

	var c Classified
	if errors.As(err, &c) {
		return c.DownloadErrorType()
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrStalled) {
		return ErrorTimeout
	}

	if errors.Is(err, ErrRetriesExceeded) {
		return ErrorRetriesExhausted
	}

	if errors.Is(err, syscall.ENOSPC) || errors.Is(err, fs.ErrPermission) || errors.Is(err, syscall.EROFS) {
		return ErrorStorage
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorTimeout
		}

		return ErrorNoConnection
	}

	return ErrorServer
}
