package taskman

import (
	"errors"
	"fmt"
)

var (
	// ErrRemoteAuth is returned when the tracker rejects the token.
	ErrRemoteAuth = errors.New("remote tracker rejected credentials")
	// ErrRemotePermission is returned when the token is valid but may not
	// write to the project.
	ErrRemotePermission = errors.New("remote tracker denied permission")
	// ErrTaskNotFound is returned when a task does not exist remotely.
	ErrTaskNotFound = errors.New("task not found")
	// ErrMissingToken is returned by calls that need a token and got none.
	ErrMissingToken = errors.New("missing tracker token")
)

// PermissionError reports a write denial on a specific project.
type PermissionError struct {
	Project string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("user doesn't have write permission in %s project.", e.Project)
}

func (e *PermissionError) Unwrap() error { return ErrRemotePermission }

// RemoteError wraps an unexpected tracker response.
type RemoteError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *RemoteError) Error() string {
	msg := e.Op + ": remote tracker"
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" returned %d", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RemoteError) Unwrap() error { return e.Err }

// IsRemote reports whether err came from the tracker, as opposed to local
// validation or storage.
func IsRemote(err error) bool {
	var re *RemoteError
	var pe *PermissionError
	return errors.As(err, &re) || errors.As(err, &pe) ||
		errors.Is(err, ErrRemoteAuth) || errors.Is(err, ErrTaskNotFound)
}
