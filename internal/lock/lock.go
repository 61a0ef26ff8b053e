// Package lock serializes jobs for the same employee on one host.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/staffctl/staffctl/internal/config"
)

const DefaultDir = "~/.staffctl/locks"

// ErrHeld is returned when another live process holds the employee lock.
var ErrHeld = errors.New("lock: held by another process")

// Lock is a held per-employee lock file containing the owner PID.
type Lock struct {
	path string
}

// Path returns the lock file for an employee under dir.
func Path(dir, employeeID string) string {
	if dir == "" {
		dir = config.ExpandHome(DefaultDir)
	}
	return filepath.Join(dir, employeeID+".lock")
}

// Acquire takes the employee lock. A lock file left behind by a dead process
// is replaced.
func Acquire(dir, employeeID string) (*Lock, error) {
	path := Path(dir, employeeID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	for range 2 {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
			cerr := f.Close()
			if werr != nil || cerr != nil {
				os.Remove(path)
				return nil, fmt.Errorf("writing lock file: %w", errors.Join(werr, cerr))
			}
			return &Lock{path: path}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("creating lock file: %w", err)
		}

		held, pid, err := IsHeld(path)
		if err != nil {
			return nil, err
		}
		if held {
			return nil, fmt.Errorf("employee %s is being processed (PID %d): %w", employeeID, pid, ErrHeld)
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("removing stale lock: %w", err)
		}
	}
	return nil, fmt.Errorf("employee %s: %w", employeeID, ErrHeld)
}

// Release removes the lock file.
func (l *Lock) Release() error {
	err := os.Remove(l.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// IsHeld reports whether the lock file at path belongs to a running process.
func IsHeld(path string) (bool, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, nil
		}
		return false, 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false, 0, nil
	}
	return isProcessRunning(pid), pid, nil
}

func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
