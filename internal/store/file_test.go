package store

import (
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic_Modes(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permission bits")
	}
	dir := t.TempDir()

	ref := filepath.Join(dir, "ref")
	require.NoError(t, os.WriteFile(ref, nil, 0o644))
	refInfo, err := os.Stat(ref)
	require.NoError(t, err)

	fresh := filepath.Join(dir, "sub", "fresh.txt")
	_, err = writeFileAtomic(fresh, strings.NewReader("ABC"))
	require.NoError(t, err)
	info, err := os.Stat(fresh)
	require.NoError(t, err)
	assert.Equal(t, refInfo.Mode().Perm(), info.Mode().Perm(), "new files follow the umask")

	existing := filepath.Join(dir, "existing.txt")
	require.NoError(t, os.WriteFile(existing, []byte("old"), 0o600))
	require.NoError(t, os.Chmod(existing, 0o664))
	_, err = writeFileAtomic(existing, strings.NewReader("new"))
	require.NoError(t, err)
	info, err = os.Stat(existing)
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o664), info.Mode().Perm())

	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	leftovers, err := filepath.Glob(filepath.Join(dir, ".*.part"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}
