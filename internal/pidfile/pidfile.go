// Package pidfile implements the single-instance guard used by every
// collection job: a plain text file holding the owning process id.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"
)

// Lock represents an acquired pid file.
type Lock struct {
	path   string
	logger *zap.Logger
}

// Acquire claims the pid file at path for the current process.
//
// A file whose recorded pid belongs to a live process means another
// instance is running and Acquire fails. A file left by a dead process is a
// stale lock: it is removed and replaced.
func Acquire(path string, logger *zap.Logger) (*Lock, error) {
	if pid, ok := readPID(path); ok {
		if processAlive(pid) {
			return nil, fmt.Errorf("pid file %s: process %d is still running, only one instance is allowed", path, pid)
		}
		logger.Info("removing stale pid file",
			zap.String("path", path),
			zap.Int("pid", pid),
		)
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("remove stale pid file %s: %w", path, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create pid directory: %w", err)
	}
	pid := strconv.Itoa(os.Getpid())
	if err := os.WriteFile(path, []byte(pid), 0o600); err != nil {
		return nil, fmt.Errorf("write pid file %s: %w", path, err)
	}
	return &Lock{path: path, logger: logger}, nil
}

// Release removes the pid file. A failed removal is reported to the caller:
// a lock left behind would block the next scheduled run.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil {
		return fmt.Errorf("remove pid file %s: %w", l.path, err)
	}
	return nil
}

func readPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// processAlive probes the pid with signal 0. On Unix FindProcess always
// succeeds, so the signal result is the liveness answer.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
