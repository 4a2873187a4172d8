package gateway

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

// ErrAborted marks the transport's spurious-abort defect: the request was
// dropped in flight without reaching the backend. Always safe to retry the
// identical request.
var ErrAborted = errors.New("gateway: request aborted in flight")

// ErrNoSession is returned by CurrentSession when no credential is
// persisted. It is the normal cold-start outcome, not a failure.
var ErrNoSession = errors.New("gateway: no stored session")

// AuthError is a definitive rejection from the auth endpoints: bad
// credentials, duplicate registration, weak password, expired token.
// Never retried automatically.
type AuthError struct {
	Status  int
	Code    string
	Message string
}

func (e *AuthError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway: auth rejected (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("gateway: auth rejected (%d): %s", e.Status, e.Message)
}

// DataError is a query or mutation rejected by the backend: validation,
// permission denied by row-level security, not found, conflict.
type DataError struct {
	Status     int
	Collection string
	Message    string
}

func (e *DataError) Error() string {
	return fmt.Sprintf("gateway: %s rejected (%d): %s", e.Collection, e.Status, e.Message)
}

// NotFound reports whether the backend definitively said the row does not
// exist, as opposed to refusing or failing to answer.
func (e *DataError) NotFound() bool { return e.Status == 404 || e.Status == 406 }

// StorageError is an object-storage upload, sign or delete failure. It never
// affects session state.
type StorageError struct {
	Status  int
	Bucket  string
	Path    string
	Message string
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("gateway: storage %s/%s failed (%d): %s", e.Bucket, e.Path, e.Status, e.Message)
}

// IsTransient reports whether the error is the spurious-abort condition and
// the identical request may be retried immediately.
func IsTransient(err error) bool { return errors.Is(err, ErrAborted) }

// classifyTransport maps a raw round-trip error either onto ErrAborted (the
// known defect: the connection died mid-request) or passes it through as a
// genuine network failure.
func classifyTransport(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return fmt.Errorf("%w: %v", ErrAborted, err)
	}
	// net/http reports a mid-flight drop as a plain string in some paths.
	if strings.Contains(err.Error(), "request canceled while waiting") ||
		strings.Contains(err.Error(), "http2: client connection lost") {
		return fmt.Errorf("%w: %v", ErrAborted, err)
	}
	return err
}
