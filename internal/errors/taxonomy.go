package errors

import (
	stderrors "errors"
	"fmt"
)

// Sentinels for errors.Is matching against the typed errors below.
var (
	ErrAuth     = stderrors.New("authentication failed")
	ErrUpload   = stderrors.New("upload failed")
	ErrNotFound = stderrors.New("memory not found")
	ErrDelete   = stderrors.New("delete failed")
	ErrNetwork  = stderrors.New("network error")
)

// AuthError reports bad credentials or an expired session.
type AuthError struct {
	Message    string
	StatusCode int
	Err        error
}

func (e *AuthError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("auth: %s (HTTP %d)", e.Message, e.StatusCode)
	}
	return "auth: " + e.Message
}

func (e *AuthError) Unwrap() error        { return e.Err }
func (e *AuthError) Is(target error) bool { return target == ErrAuth }

// UploadError reports a failed memory creation (network or validation).
type UploadError struct {
	Message    string
	StatusCode int
	Err        error
}

func (e *UploadError) Error() string { return "upload: " + e.Message }

func (e *UploadError) Unwrap() error        { return e.Err }
func (e *UploadError) Is(target error) bool { return target == ErrUpload }

// NotFoundError reports an operation on an id absent from local state.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string        { return fmt.Sprintf("memory %q not found", e.ID) }
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// DeleteError reports a removal that failed at the backend after the local
// optimistic removal. RolledBack tells whether the record was restored.
type DeleteError struct {
	ID         string
	RolledBack bool
	Err        error
}

func (e *DeleteError) Error() string {
	return fmt.Sprintf("delete %q: %v (rolled back: %t)", e.ID, e.Err, e.RolledBack)
}

func (e *DeleteError) Unwrap() error        { return e.Err }
func (e *DeleteError) Is(target error) bool { return target == ErrDelete }

// NetworkError is a connectivity failure with no structured backend body.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string        { return fmt.Sprintf("%s: network error: %v", e.Op, e.Err) }
func (e *NetworkError) Unwrap() error        { return e.Err }
func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

// Message extracts the human-readable text of err for display.
func Message(err error) string {
	var ae *AuthError
	if stderrors.As(err, &ae) {
		return ae.Message
	}
	var ue *UploadError
	if stderrors.As(err, &ue) {
		return ue.Message
	}
	var ce *ClassifiedError
	if stderrors.As(err, &ce) && ce.Message != "" {
		return ce.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
