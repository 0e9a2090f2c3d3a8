package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"syscall"
)

// WithTransaction runs fn while holding an exclusive advisory lock on the
// lock file. A second process contending for the lock fails fast with
// ErrConcurrentOperation instead of queueing. The kernel releases the lock
// when the process dies, so crashed operations never leave the environment
// locked. The holder's PID is written into the lock file for diagnostics.
func (s *Store) WithTransaction(ctx context.Context, fn func() error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("transaction cancelled: %w", ctx.Err())
	}

	lockFile, err := os.OpenFile(s.LockPath(), os.O_RDWR|os.O_CREATE, filePermissions)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}

	defer func() { _ = lockFile.Close() }()

	flockErr := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if flockErr != nil {
		if errors.Is(flockErr, syscall.EWOULDBLOCK) {
			return fmt.Errorf("%w (holder pid: %s)", ErrConcurrentOperation, lockHolder(lockFile))
		}

		return fmt.Errorf("failed to acquire operation lock: %w", flockErr)
	}

	defer func() { _ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN) }()

	recordHolder(lockFile)

	return fn()
}

// recordHolder stamps the current PID into the lock file. Best effort; the
// lock itself does not depend on the content.
func recordHolder(lockFile *os.File) {
	_ = lockFile.Truncate(0)
	_, _ = lockFile.Seek(0, 0)
	_, _ = lockFile.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	_ = lockFile.Sync()
}

func lockHolder(lockFile *os.File) string {
	_, _ = lockFile.Seek(0, 0)

	buf := make([]byte, 32)

	n, err := lockFile.Read(buf)
	if err != nil || n == 0 {
		return "unknown"
	}

	pid := string(buf[:n])
	for len(pid) > 0 && (pid[len(pid)-1] == '\n' || pid[len(pid)-1] == '\r') {
		pid = pid[:len(pid)-1]
	}

	if pid == "" {
		return "unknown"
	}

	return pid
}
