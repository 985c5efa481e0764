package store

import (
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/openmined/objmirror/internal/utils"
)

// bodyReadError marks a failure reading the remote body, as opposed to
// writing it locally.
type bodyReadError struct {
	err error
}

func (e *bodyReadError) Error() string { return e.err.Error() }
func (e *bodyReadError) Unwrap() error { return e.err }

type bodyReader struct {
	r io.Reader
}

func (b bodyReader) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, &bodyReadError{err: err}
	}
	return n, err
}

// writeFileAtomic copies r into a temp file beside dest and renames it over
// dest once fully written and synced. A new dest is created 0644 less the
// umask; an existing one keeps its permission bits.
func writeFileAtomic(dest string, r io.Reader) (int64, error) {
	if err := utils.EnsureParent(dest); err != nil {
		return 0, err
	}

	tmpPath := utils.SiblingPath(filepath.Join(filepath.Dir(dest), "."+filepath.Base(dest)), ".part")
	tmp, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, err
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	n, err := io.Copy(tmp, bodyReader{r: r})
	if err != nil {
		return n, err
	}
	if err := tmp.Sync(); err != nil {
		return n, err
	}
	if err := tmp.Close(); err != nil {
		return n, err
	}
	if err := utils.CopyMode(dest, tmpPath); err != nil {
		return n, err
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return n, err
	}
	committed = true
	return n, nil
}
