package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutCreatesDatePartitionedDirectories(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	s, err := New(base)
	require.NoError(t, err)

	err = s.Put(context.Background(), "pageload/2026/08/29/abc", []byte("<response/>"))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(base, "pageload", "2026", "08", "29", "abc"))
	require.NoError(t, err)
	require.Equal(t, "<response/>", string(data))
}

func TestPutRejectsTraversal(t *testing.T) {
	t.Parallel()

	s, err := New(t.TempDir())
	require.NoError(t, err)

	err = s.Put(context.Background(), "../escape", []byte("x"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "traversal")
}

func TestNewCreatesMissingBaseDir(t *testing.T) {
	t.Parallel()

	base := filepath.Join(t.TempDir(), "reports")
	_, err := New(base)
	require.NoError(t, err)

	info, err := os.Stat(base)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestNewRequiresBaseDir(t *testing.T) {
	t.Parallel()

	_, err := New("  ")
	require.Error(t, err)
}
