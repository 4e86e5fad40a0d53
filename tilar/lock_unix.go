//go:build unix

package tilar

import (
	"os"

	"golang.org/x/sys/unix"
)

// lockFile takes an exclusive, non-blocking OS-level lock on f, per spec
// §4.3/§5's "exactly one writer per Tilar file (enforced by an OS-level
// exclusive lock on open)".
func lockFile(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return errLockHeld(f.Name(), err)
	}
	return nil
}

// unlockFile releases a lock taken by lockFile.
func unlockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
