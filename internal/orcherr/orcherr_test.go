package orcherr

import (
	"errors"
	"testing"
)

func TestKindOfDefaultsInternal(t *testing.T) {
	if KindOf(errors.New("plain")) != Internal {
		t.Fatalf("expected Internal for untyped error")
	}
}

func TestIsMatchesWrappedKind(t *testing.T) {
	err := New(NotFound, "statestore.Get", errors.New("no such session"))
	wrapped := errors.Join(err)
	if !Is(wrapped, NotFound) {
		t.Fatalf("expected wrapped error to report NotFound")
	}
	if Is(wrapped, Conflict) {
		t.Fatalf("did not expect Conflict")
	}
}

func TestInternalCapturesStack(t *testing.T) {
	err := New(Internal, "bootstrap.run", errors.New("boom"))
	if err.Stack == "" {
		t.Fatalf("expected stack trace for Internal error")
	}
}

func TestErrorStringIncludesOp(t *testing.T) {
	err := New(InvalidArgument, "validator.CheckWorkerName", errors.New("bad name"))
	got := err.Error()
	want := "InvalidArgument: validator.CheckWorkerName: bad name"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
