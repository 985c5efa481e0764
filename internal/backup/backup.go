// Package backup moves local files aside before they are replaced.
package backup

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Suffix is appended to a path to form its backup path.
const Suffix = ".bak"

// timeFormat stamps rotated backups so they sort lexicographically by age.
const timeFormat = "20060102150405"

// ErrBackupExists is returned under PolicyFail when the backup path is taken.
var ErrBackupExists = errors.New("backup already exists")

// Policy decides what happens to an existing backup when a new one is made.
type Policy string

const (
	// PolicyRotate renames the existing backup to a timestamped name first.
	PolicyRotate Policy = "rotate"
	// PolicyOverwrite replaces the existing backup.
	PolicyOverwrite Policy = "overwrite"
	// PolicyFail refuses to back up while a backup exists.
	PolicyFail Policy = "fail"
)

// Policies lists the accepted policy names.
var Policies = []Policy{PolicyRotate, PolicyOverwrite, PolicyFail}

// ParsePolicy validates a policy name. An empty name selects PolicyRotate.
func ParsePolicy(s string) (Policy, error) {
	if s == "" {
		return PolicyRotate, nil
	}
	p := Policy(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Policies {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown backup policy %q (want rotate, overwrite or fail)", s)
}

// Mover moves files to their backup path.
type Mover struct {
	policy Policy
	now    func() time.Time
}

func NewMover(policy Policy) (*Mover, error) {
	p, err := ParsePolicy(string(policy))
	if err != nil {
		return nil, err
	}
	return &Mover{policy: p, now: time.Now}, nil
}

func (m *Mover) Policy() Policy {
	return m.policy
}

// Path returns the backup path for path.
func Path(path string) string {
	return path + Suffix
}

// Backup renames path to path+".bak" and returns the backup path. The file is
// moved, not copied; the rename is atomic within a filesystem.
func (m *Mover) Backup(path string) (string, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return "", fmt.Errorf("cannot back up %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("cannot back up %s: is a directory", path)
	}

	bakPath := Path(path)

	exists, err := pathExists(bakPath)
	if err != nil {
		return "", err
	}
	if exists {
		switch m.policy {
		case PolicyFail:
			return "", fmt.Errorf("%s: %w", bakPath, ErrBackupExists)
		case PolicyRotate:
			rotated, err := m.rotate(bakPath)
			if err != nil {
				return "", err
			}
			slog.Debug("rotated backup", "from", bakPath, "to", rotated)
		case PolicyOverwrite:
			slog.Debug("overwriting backup", "path", bakPath)
		}
	}

	if err := os.Rename(path, bakPath); err != nil {
		return "", fmt.Errorf("failed to back up %s to %s: %w", path, bakPath, err)
	}

	return bakPath, nil
}

// Restore moves a backup made by Backup back to path. It is used to undo a
// backup when the replacement could not be put in place.
func Restore(bakPath, path string) error {
	exists, err := pathExists(path)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("cannot restore %s: %s exists", bakPath, path)
	}
	return os.Rename(bakPath, path)
}

// rotate renames an existing backup to path.<timestamp>, or
// path.<timestamp>.<n> if that name is taken too.
func (m *Mover) rotate(bakPath string) (string, error) {
	base := fmt.Sprintf("%s.%s", bakPath, m.now().Format(timeFormat))
	rotated := base
	for i := 1; ; i++ {
		exists, err := pathExists(rotated)
		if err != nil {
			return "", err
		}
		if !exists {
			break
		}
		rotated = fmt.Sprintf("%s.%d", base, i)
	}

	if err := os.Rename(bakPath, rotated); err != nil {
		return "", fmt.Errorf("failed to rotate backup %s to %s: %w", bakPath, rotated, err)
	}
	return rotated, nil
}

func pathExists(path string) (bool, error) {
	_, err := os.Lstat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}
