package batchbuilder

import (
	"errors"
	"fmt"
)

// ErrMissingResponse is returned by [Builder.Request] when the user's
// runBatch call returned no response matching the request's key.
var ErrMissingResponse = errors.New(`batchbuilder: missing response`)

// ErrDisposed is returned by [Builder.Request] once [Builder.Dispose] has
// been called and the request could not be accepted.
var ErrDisposed = errors.New(`batchbuilder: disposed`)

// BatchError wraps the error returned by a failed runBatch call. Every
// request in the offending batch fails with an equivalent BatchError.
// errors.Is/As against the wrapped cause works via [BatchError.Unwrap].
type BatchError struct {
	Cause error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf(`batchbuilder: batch failed: %v`, e.Cause)
}

func (e *BatchError) Unwrap() error {
	return e.Cause
}
