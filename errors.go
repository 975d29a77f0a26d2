package fetchkit

import (
	"errors"
	"fmt"
)

var (
	// ErrShutdown is returned by Enqueue after the client has been shut down.
	// The rejected request never enters the queue.
	ErrShutdown = errors.New("fetchkit: client is shut down")

	// ErrCancelled is the terminal outcome of a request whose cancellation
	// was observed before or during execution.
	ErrCancelled = errors.New("fetchkit: request cancelled")

	// ErrBadStatus indicates the server answered with an error status code.
	// It is always wrapped in a *RequestError carrying the status.
	ErrBadStatus = errors.New("fetchkit: server returned error status")
)

// RequestError wraps a failure that occurred while executing a request.
type RequestError struct {
	Op         string // operation that failed (e.g., "execute", "download")
	URL        string // request URL
	StatusCode int    // HTTP status, if one was received
	Err        error  // underlying error
}

func (e *RequestError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetchkit: %s %s: status %d: %v", e.Op, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetchkit: %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// IsCancelled reports whether err represents a cancelled request.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
