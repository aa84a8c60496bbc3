package observability

import (
	"fmt"
	"os"
	"syscall"
)

// withFileLock runs fn while holding an exclusive advisory lock on f, so
// that tsync processes sharing one event log (a dashboard and a CLI call,
// say) never interleave partial lines.
func withFileLock(f *os.File, fn func() error) error {
	fd := int(f.Fd())
	if err := syscall.Flock(fd, syscall.LOCK_EX); err != nil {
		return fmt.Errorf("acquiring event log lock: %w", err)
	}
	defer func() { _ = syscall.Flock(fd, syscall.LOCK_UN) }()
	return fn()
}
