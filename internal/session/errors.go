package session

import (
	"errors"
	"fmt"
)

// ErrorCode classifies remote failures.
type ErrorCode string

const (
	CodeSession               ErrorCode = "session_error"
	CodePageNotFound          ErrorCode = "page_not_found"
	CodeUnsupportedVisualType ErrorCode = "unsupported_visual_type"
	CodeLayout                ErrorCode = "layout_error"
	CodeUnsupportedRole       ErrorCode = "unsupported_role"
	CodeIncompatibleField     ErrorCode = "incompatible_field"
	CodeExportUnsupported     ErrorCode = "export_unsupported"
)

// RemoteError is a failure reported by the remote session.
type RemoteError struct {
	Code    ErrorCode `json:"code"`
	Op      string    `json:"op,omitempty"`
	Message string    `json:"message"`
}

func (e *RemoteError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.Code, e.Message)
}

// Is lets errors.Is match on the code alone.
func (e *RemoteError) Is(target error) bool {
	var t *RemoteError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// ErrNoReport is returned when no report is loaded into the session.
var ErrNoReport = &RemoteError{Code: CodeSession, Message: "no report is loaded"}

// NewError builds a RemoteError for an operation.
func NewError(code ErrorCode, op, format string, args ...any) *RemoteError {
	return &RemoteError{Code: code, Op: op, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the remote error code carried by err, or "" when err did
// not come from the remote session.
func CodeOf(err error) ErrorCode {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.Code
	}
	return ""
}
