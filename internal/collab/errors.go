package collab

import "fmt"

// Stable error codes surfaced to clients through the error event.
const (
	CodeAccessDenied     = "access_denied"
	CodeLockNotHeld      = "lock_not_held"
	CodeStoreUnavailable = "store_unavailable"
	CodeMalformedPayload = "malformed_payload"
	CodeInternal         = "internal_error"
)

// Error carries a stable code and a human-readable message suitable for the
// originating connection. The wrapped cause stays server-side.
type Error struct {
	code    string
	message string
	cause   error
}

func newError(code, message string, cause error) *Error {
	return &Error{code: code, message: message, cause: cause}
}

func (e *Error) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("%s: %s", e.code, e.message)
	}
	return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Code returns the wire code for the error event.
func (e *Error) Code() string {
	return e.code
}

// Message returns the client-facing description.
func (e *Error) Message() string {
	return e.message
}

func errAccessDenied(projectID string) *Error {
	return newError(CodeAccessDenied, fmt.Sprintf("access denied to project %s", projectID), nil)
}

func errLockNotHeld(componentID string) *Error {
	return newError(CodeLockNotHeld, fmt.Sprintf("you do not hold the lock on component %s", componentID), nil)
}

func errStoreUnavailable(cause error) *Error {
	return newError(CodeStoreUnavailable, "coordination store unavailable, try again", cause)
}
