package logging

import "fmt"

// OperationError annotates an error with the operation that produced it and
// the upload it belongs to, when one is known.
type OperationError struct {
	Operation string
	UploadID  string
	Err       error
}

// Error implements the error interface.
func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	if e.UploadID != "" {
		return fmt.Sprintf("%s (upload_id=%s): %v", e.Operation, e.UploadID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewOperationError wraps err with the operation name and upload id.
// It returns nil when err is nil so call sites can wrap unconditionally.
func NewOperationError(operation, uploadID string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, UploadID: uploadID, Err: err}
}
