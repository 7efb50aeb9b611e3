package backgrounderase

import (
	"errors"
	"fmt"
)

var (
	ErrMissingAPIKey  = errors.New("missing API key")
	ErrSourceNotFound = errors.New("source file not found")
)

// PreconditionError is returned before any network activity when the
// inputs of an upload are unusable.
type PreconditionError struct {
	Reason string
	Err    error
}

func (e *PreconditionError) Error() string {
	if e.Reason == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *PreconditionError) Unwrap() error { return e.Err }

// TransportError wraps DNS, connect, TLS, timeout and read failures of the
// exchange with the API.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("request failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ServerError is any response with a status other than 200. Body is the raw
// response payload, kept for display.
type ServerError struct {
	StatusCode int
	Body       []byte
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Body)
}

// FilesystemError means the result could not be stored at its destination,
// after the API call itself succeeded.
type FilesystemError struct {
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }
