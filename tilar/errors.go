package tilar

import "github.com/opentiles/tilestore/tileerror"

func errTruncated(what string) error {
	return tileerror.New(tileerror.FormatError, "tilar: truncated %s", what)
}

func errBadMagic(what string, got []byte) error {
	return tileerror.New(tileerror.FormatError, "tilar: bad %s magic %q", what, got)
}

func errBadCRC(what string) error {
	return tileerror.New(tileerror.FormatError, "tilar: %s crc mismatch", what)
}

func errLockHeld(path string, cause error) error {
	return tileerror.Wrapf(tileerror.ReadOnlyViolation, cause, "tilar: %s is locked by another writer", path)
}
