package derrors

import (
	"errors"
	"io"
	"testing"
)

func TestWrap(t *testing.T) {
	var err error = io.ErrUnexpectedEOF
	Wrap(&err, "reading %s", "pool")
	if got, want := err.Error(), "reading pool: unexpected EOF"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("Wrap result does not unwrap to the original error")
	}

	var nilErr error
	Wrap(&nilErr, "ignored")
	if nilErr != nil {
		t.Errorf("Wrap of nil error: got %v, want nil", nilErr)
	}
}

func TestAdd(t *testing.T) {
	var err error = io.ErrUnexpectedEOF
	Add(&err, "reading")
	if errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("Add result should not unwrap")
	}
}

func TestErrorf(t *testing.T) {
	err := Errorf(MalformedPool, "index %d out of range", 7)
	if !errors.Is(err, MalformedPool) {
		t.Fatalf("errors.Is(%v, MalformedPool) = false", err)
	}
	if errors.Is(err, MalformedCode) {
		t.Error("error matches an unrelated kind")
	}
	if got, want := err.Error(), "malformed constant pool: index 7 out of range"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
