package filesystem

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetCanonicalPath(t *testing.T) {
	t.Setenv("HOME", "/home/alice")
	t.Setenv("TEXMESH_TEST_DIR", "papers")

	require.Equal(t, filepath.Clean("/home/alice/texmesh"), GetCanonicalPath("~/texmesh"))
	require.Equal(t, filepath.Clean("/data/papers"), GetCanonicalPath("/data/$TEXMESH_TEST_DIR"))
	require.Equal(t, filepath.Clean("/data/b"), GetCanonicalPath("/data/a/../b/"))
}

func TestEnsureDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	path, err := EnsureDirectory(dir)
	require.NoError(t, err)
	require.Equal(t, dir, path)
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.True(t, info.IsDir())

	_, err = EnsureDirectory(dir)
	require.NoError(t, err)
}
