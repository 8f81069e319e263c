package gcache

import (
	"context"
	"errors"
	"fmt"

	"github.com/unkn0wn-root/gcache/pipeline"
)

// Validation errors. They are raised before any remote call and are never retried.
var (
	ErrInvalidKey           = errors.New("gcache: key not set")
	ErrInvalidContainer     = errors.New("gcache: invalid container name")
	ErrInvalidEncryptionKey = pipeline.ErrInvalidEncryptionKey
	ErrInvalidExpiration    = errors.New("gcache: invalid expiration")
	ErrUnknownMode          = errors.New("gcache: unknown expiration mode")
)

var (
	ErrClosed = errors.New("gcache: client closed")
	ErrNoConn = errors.New("gcache: no conn or dialer configured")
)

// validationErrors is the closed set of sentinels a server may report back
// and a transport may map onto its own status codes.
var validationErrors = []error{
	ErrInvalidKey,
	ErrInvalidContainer,
	ErrInvalidEncryptionKey,
	ErrInvalidExpiration,
	ErrUnknownMode,
}

// ValidationErrors returns the sentinels that describe caller mistakes.
func ValidationErrors() []error {
	out := make([]error, len(validationErrors))
	copy(out, validationErrors)
	return out
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Nil stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err must be surfaced without another attempt.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var pe *permanentError
	if errors.As(err, &pe) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrClosed) {
		return true
	}
	for _, v := range validationErrors {
		if errors.Is(err, v) {
			return true
		}
	}
	return false
}

// OpError is returned when a remote operation failed on its final attempt.
type OpError struct {
	Op       string
	Key      string
	Attempts int
	Err      error
}

func (e *OpError) Error() string {
	switch {
	case e.Key != "" && e.Attempts > 1:
		return fmt.Sprintf("gcache: %s %q failed after %d attempts: %v", e.Op, e.Key, e.Attempts, e.Err)
	case e.Key != "":
		return fmt.Sprintf("gcache: %s %q: %v", e.Op, e.Key, e.Err)
	case e.Attempts > 1:
		return fmt.Sprintf("gcache: %s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
	default:
		return fmt.Sprintf("gcache: %s: %v", e.Op, e.Err)
	}
}

func (e *OpError) Unwrap() error { return e.Err }
