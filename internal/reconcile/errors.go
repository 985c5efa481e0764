package reconcile

import (
	"errors"
	"fmt"

	"github.com/openmined/objmirror/internal/digest"
	"github.com/openmined/objmirror/internal/store"
)

// IOError is a local filesystem failure during a pass.
type IOError struct {
	// Op is the step that failed: "stat", "digest", "backup", "promote", ...
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// DigestMismatchError reports a downloaded body whose digest differs from the
// digest recorded in its own metadata. It means the store or its metadata is
// inconsistent, which is distinct from local and remote simply differing.
type DigestMismatchError struct {
	Bucket string
	Key    string
	// Path is where the downloaded body was written.
	Path     string
	Expected digest.Digest
	Actual   digest.Digest
}

func (e *DigestMismatchError) Error() string {
	return fmt.Sprintf("digest mismatch after download of %s/%s: metadata has %s, body hashes to %s",
		e.Bucket, e.Key, e.Expected.Short(), e.Actual.Short())
}

// IsDigestMismatch reports whether err is or wraps a DigestMismatchError.
func IsDigestMismatch(err error) bool {
	var mismatch *DigestMismatchError
	return errors.As(err, &mismatch)
}

// localErr wraps err as an IOError unless it already came from the store.
func localErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if store.IsServiceError(err) || errors.Is(err, store.ErrNotFound) {
		return err
	}
	var ioErr *IOError
	if errors.As(err, &ioErr) {
		return err
	}
	return &IOError{Op: op, Path: path, Err: err}
}
