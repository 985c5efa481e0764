package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the remote object does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrPreconditionFailed indicates a conditional request lost a race with
	// another writer.
	ErrPreconditionFailed = errors.New("precondition failed")
)

// ServiceError is a failure reported by, or on the way to, the remote store.
// It ends the current reconciliation pass; retrying is left to whoever
// schedules passes.
type ServiceError struct {
	// Op is the store operation that failed, e.g. "HeadObject".
	Op     string
	Bucket string
	Key    string
	// Code is the provider error code when one was returned.
	Code string
	Err  error
}

func (e *ServiceError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s %s/%s: %s: %v", e.Op, e.Bucket, e.Key, e.Code, e.Err)
	}
	return fmt.Sprintf("%s %s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func notFound(op, bucket, key string) error {
	return fmt.Errorf("%s %s/%s: %w", op, bucket, key, ErrNotFound)
}

// IsServiceError reports whether err came from the remote store.
func IsServiceError(err error) bool {
	var svcErr *ServiceError
	return errors.As(err, &svcErr)
}
