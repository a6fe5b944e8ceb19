package run

import (
	"errors"
	"fmt"
	"os"
	"strconv"
)

// ErrLocked is returned when another process already holds the run lock.
var ErrLocked = errors.New("run: another process holds the lock for this organism")

// Lock is an advisory, file-presence lock: one per organism prefix, so two
// assignment runs against the same tree can never race each other. It is
// advisory only, not a kernel flock, so it only protects against other
// cooperating invocations of this tool.
type Lock struct {
	path string
}

// AcquireLock creates the lock file at path, failing with ErrLocked if it
// already exists. The file records the acquiring process's pid for
// diagnostics.
func AcquireLock(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("run: acquiring lock %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("run: writing lock %s: %w", path, err)
	}
	return &Lock{path: path}, nil
}

// Release removes the lock file.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("run: releasing lock %s: %w", l.path, err)
	}
	return nil
}
