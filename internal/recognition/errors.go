package recognition

import (
	"errors"
	"fmt"
)

// Kinds of failure in the upload-to-result cycle. Match them with errors.Is.
var (
	ErrCredential    = errors.New("credential request failed")
	ErrTransfer      = errors.New("storage transfer failed")
	ErrLookup        = errors.New("result lookup failed")
	ErrPollExhausted = errors.New("classification not ready within retry budget")
)

var (
	// ErrNotReady is the backend's "accepted but not classified yet" signal.
	ErrNotReady = errors.New("classification not ready")

	// ErrUnsupportedMediaType rejects files the backend will not accept.
	ErrUnsupportedMediaType = errors.New("unsupported media type")

	// ErrEmptyPayload rejects zero-byte uploads.
	ErrEmptyPayload = errors.New("empty payload")
)

// Error is a failure of one step of the cycle. Kind is one of ErrCredential,
// ErrTransfer, ErrLookup or ErrPollExhausted.
type Error struct {
	Kind       error
	ID         string
	StatusCode int
	Attempts   int
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.ID != "" {
		msg = fmt.Sprintf("%s for %s", msg, e.ID)
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Attempts != 0 {
		msg = fmt.Sprintf("%s after %d attempts", msg, e.Attempts)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes both the kind and the cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewCredentialError reports a refused or failed credential request.
func NewCredentialError(statusCode int, err error) *Error {
	return &Error{Kind: ErrCredential, StatusCode: statusCode, Err: err}
}

// NewTransferError reports a failed storage write for id.
func NewTransferError(id string, statusCode int, err error) *Error {
	return &Error{Kind: ErrTransfer, ID: id, StatusCode: statusCode, Err: err}
}

// NewLookupError reports a status query that failed for a reason other than
// the not-ready signal.
func NewLookupError(id string, statusCode int, err error) *Error {
	return &Error{Kind: ErrLookup, ID: id, StatusCode: statusCode, Err: err}
}

// NewPollExhausted reports that id was still not ready after attempts queries.
func NewPollExhausted(id string, attempts int) *Error {
	return &Error{Kind: ErrPollExhausted, ID: id, Attempts: attempts, Err: ErrNotReady}
}

// KindOf returns the cycle failure kind of err, or nil when err is not one.
func KindOf(err error) error {
	for _, kind := range []error{ErrCredential, ErrTransfer, ErrLookup, ErrPollExhausted} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
