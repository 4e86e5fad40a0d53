package tileerror

import (
	"errors"
	"testing"
)

func TestKindOf(t *testing.T) {
	base := errors.New("boom")
	err := Wrap(IOError, base, "writing blob")
	if got := KindOf(err); got != IOError {
		t.Fatalf("KindOf() = %v, want IOError", got)
	}
	if !errors.Is(err, base) {
		t.Fatalf("errors.Is did not find wrapped base error")
	}
}

func TestKindOfUnclassified(t *testing.T) {
	if got := KindOf(errors.New("plain")); got != Internal {
		t.Fatalf("KindOf(plain error) = %v, want Internal", got)
	}
}

func TestWrapNil(t *testing.T) {
	if err := Wrap(IOError, nil, "x"); err != nil {
		t.Fatalf("Wrap(nil) = %v, want nil", err)
	}
}

func TestIs(t *testing.T) {
	err := New(Cancelled, "stopped at tile %d", 7)
	if !Is(err, Cancelled) {
		t.Fatalf("Is(err, Cancelled) = false")
	}
	if Is(err, IOError) {
		t.Fatalf("Is(err, IOError) = true, want false")
	}
}
