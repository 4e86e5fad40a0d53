package tilar

import (
	"io"
	"os"
	"path/filepath"
	"testing"
)

func readAll(t *testing.T, rc io.ReadCloser) []byte {
	t.Helper()
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	return b
}

func TestCreatePutGetFlushReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.tilar")
	a, err := Create(path, 4, 3)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	fi1 := FileIndex{X: 0, Y: 0, Type: 0}
	fi2 := FileIndex{X: 1, Y: 2, Type: 1}
	if err := a.Put(fi1, []byte("mesh bytes")); err != nil {
		t.Fatalf("Put fi1: %v", err)
	}
	if err := a.Put(fi2, []byte("atlas bytes, a bit longer")); err != nil {
		t.Fatalf("Put fi2: %v", err)
	}

	rc, err := a.Get(fi1)
	if err != nil || rc == nil {
		t.Fatalf("Get fi1 before flush: rc=%v err=%v", rc, err)
	}
	if got := readAll(t, rc); string(got) != "mesh bytes" {
		t.Fatalf("Get fi1 = %q", got)
	}

	if err := a.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	rc2, err := r.Get(fi2)
	if err != nil || rc2 == nil {
		t.Fatalf("Get fi2 after reopen: rc=%v err=%v", rc2, err)
	}
	if got := readAll(t, rc2); string(got) != "atlas bytes, a bit longer" {
		t.Fatalf("Get fi2 after reopen = %q", got)
	}

	missing, err := r.Get(FileIndex{X: 9, Y: 9, Type: 2})
	if err != nil {
		t.Fatalf("Get missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("Get on unwritten fileIndex should return nil, not a reader")
	}
}

func TestPutAfterFlushOverwritesTrailerRegion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.tilar")
	a, err := Create(path, 2, 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	fi1 := FileIndex{X: 0, Y: 0, Type: 0}
	fi2 := FileIndex{X: 1, Y: 1, Type: 0}

	if err := a.Put(fi1, []byte("v1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := a.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := a.Put(fi2, []byte("v2")); err != nil {
		t.Fatalf("Put after flush: %v", err)
	}
	if err := a.Flush(); err != nil {
		t.Fatalf("second Flush: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()
	for fi, want := range map[FileIndex]string{fi1: "v1", fi2: "v2"} {
		rc, err := r.Get(fi)
		if err != nil || rc == nil {
			t.Fatalf("Get(%v): rc=%v err=%v", fi, rc, err)
		}
		if got := readAll(t, rc); string(got) != want {
			t.Fatalf("Get(%v) = %q, want %q", fi, got, want)
		}
	}
}

func TestCrashRecoveryTruncatesPartialTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.tilar")
	a, err := Create(path, 2, 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	good := FileIndex{X: 0, Y: 0, Type: 0}
	if err := a.Put(good, []byte("complete")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	tailStart := a.nextOffset
	if err := a.file.Close(); err != nil {
		t.Fatalf("closing underlying file: %v", err)
	}

	// Simulate a crash mid-write: append a journal record whose blob never
	// made it to disk.
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("reopen raw: %v", err)
	}
	bad := FileIndex{X: 1, Y: 1, Type: 0}
	rec := record{FileIndex: bad, Offset: tailStart + recordSize, Length: 100, CRC: 0xDEADBEEF}
	if _, err := f.WriteAt(encodeRecord(rec), int64(tailStart)); err != nil {
		t.Fatalf("writing partial record: %v", err)
	}
	f.Close()

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader after crash: %v", err)
	}
	defer r.Close()

	rc, err := r.Get(good)
	if err != nil || rc == nil {
		t.Fatalf("Get(good) after recovery: rc=%v err=%v", rc, err)
	}
	if got := readAll(t, rc); string(got) != "complete" {
		t.Fatalf("Get(good) = %q", got)
	}
	rc2, err := r.Get(bad)
	if err != nil {
		t.Fatalf("Get(bad): %v", err)
	}
	if rc2 != nil {
		t.Fatalf("Get(bad) should be absent after truncating the incomplete frame")
	}
}

func TestWriterLockExcludesSecondWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.tilar")
	a, err := Create(path, 2, 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer a.Close()

	_, err = OpenWriter(path)
	if err == nil {
		t.Fatalf("second writer should be rejected while the first holds the lock")
	}
}

func TestReadOnlyArchiveRejectsPut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.tilar")
	a, err := Create(path, 2, 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := a.Put(FileIndex{X: 0, Y: 0, Type: 0}, []byte("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := a.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	a.Close()

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()
	if err := r.Put(FileIndex{X: 1, Y: 1, Type: 0}, []byte("y")); err == nil {
		t.Fatalf("Put on a read-only archive should fail")
	}
	if err := r.Flush(); err == nil {
		t.Fatalf("Flush on a read-only archive should fail")
	}
}
