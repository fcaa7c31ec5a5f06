package logging

import "fmt"

// OperationError annotates an error with the operation that failed and the
// request it belonged to.
type OperationError struct {
	Operation string
	RequestID string
	Err       error
}

func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	if e.RequestID != "" {
		return fmt.Sprintf("%s (request_id=%s): %v", e.Operation, e.RequestID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error so sentinel checks keep working.
func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewOperationError wraps err; a nil err stays nil.
func NewOperationError(operation, requestID string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, RequestID: requestID, Err: err}
}

// Cause returns the innermost error below any OperationError layers, for
// messages shown to API clients.
func Cause(err error) error {
	for {
		opErr, ok := err.(*OperationError)
		if !ok || opErr.Err == nil {
			return err
		}
		err = opErr.Err
	}
}
