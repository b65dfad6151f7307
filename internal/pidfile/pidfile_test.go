package pidfile

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAcquireWritesOwnPID(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rank.pid")

	lock, err := Acquire(path, zap.NewNop())
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, strconv.Itoa(os.Getpid()), string(data))

	require.NoError(t, lock.Release())
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestAcquireRefusesLiveProcess(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rank.pid")

	// The test process itself is guaranteed to be alive.
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600))

	_, err := Acquire(path, zap.NewNop())
	require.Error(t, err)
	require.Contains(t, err.Error(), "still running")
}

func TestAcquireReplacesStaleLock(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rank.pid")

	// Pid 1 is init and not signalable from an unprivileged test process;
	// an absurdly large pid is simply dead. Either way the lock is stale.
	require.NoError(t, os.WriteFile(path, []byte("999999999"), 0o600))

	lock, err := Acquire(path, zap.NewNop())
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, strconv.Itoa(os.Getpid()), string(data))
	require.NoError(t, lock.Release())
}

func TestAcquireTreatsGarbageAsStale(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rank.pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid"), 0o600))

	lock, err := Acquire(path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, lock.Release())
}
