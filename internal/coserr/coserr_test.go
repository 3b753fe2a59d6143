package coserr

import (
	"errors"
	"fmt"
	"os"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := New(KindNotFound, "tasks.Update", "no task %q", "t1")
	if KindOf(err) != KindNotFound {
		t.Errorf("expected not_found, got %s", KindOf(err))
	}
	if KindOf(errors.New("plain")) != KindInternal {
		t.Error("untagged errors should report internal")
	}
}

func TestWrapPreservesChain(t *testing.T) {
	wrapped := Wrap(KindIO, "persistence.WriteJSON", os.ErrPermission)
	if !errors.Is(wrapped, os.ErrPermission) {
		t.Error("wrapped error lost its cause")
	}
	if !Is(wrapped, KindIO) {
		t.Error("wrapped error lost its kind")
	}

	// Kind survives another fmt.Errorf layer
	outer := fmt.Errorf("saving state: %w", wrapped)
	if !Is(outer, KindIO) {
		t.Error("kind not visible through fmt.Errorf wrapping")
	}
}

func TestErrorString(t *testing.T) {
	e := New(KindConflict, "scheduler.Start", "already running")
	want := "scheduler.Start: already running"
	if e.Error() != want {
		t.Errorf("got %q, want %q", e.Error(), want)
	}
}
