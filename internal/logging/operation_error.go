package logging

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// OperationError tags an error with the step that produced it and the request
// it belongs to.
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

// ErrorFields returns zap fields for err, adding the innermost failing
// operation when err carries one.
func ErrorFields(err error) []zap.Field {
	fields := []zap.Field{zap.Error(err)}
	var innermost *OperationError
	for cur := err; cur != nil; cur = errors.Unwrap(cur) {
		var opErr *OperationError
		if !errors.As(cur, &opErr) {
			break
		}
		innermost = opErr
		cur = opErr
	}
	if innermost != nil {
		fields = append(fields, zap.String("failed_operation", innermost.Operation))
	}
	return fields
}
