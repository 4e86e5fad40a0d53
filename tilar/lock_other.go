//go:build !unix

package tilar

import "os"

// lockFile is a no-op on non-unix platforms: golang.org/x/sys/unix.Flock
// isn't available there, and this module's deployment targets are unix
// servers. A caller relying on single-writer safety on such a platform
// needs to enforce it out of band.
func lockFile(f *os.File) error { return nil }

// unlockFile is the no-op counterpart of lockFile.
func unlockFile(f *os.File) error { return nil }
