package ltfserr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMessage(t *testing.T) {
	err := New(InvalidPath, "name contains NUL")
	want := "invalid_path: name contains NUL"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(NoSpace, "data partition append", cause)

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
	if err.Unwrap() != cause {
		t.Error("Unwrap should return the original cause")
	}
}

func TestIsMatchesByKindOnly(t *testing.T) {
	err := Wrap(WriteProtect, "medium is read-only", errors.New("x"))
	sentinel := New(WriteProtect, "")

	if !errors.Is(err, sentinel) {
		t.Error("expected errors.Is to match on Kind regardless of message/cause")
	}

	other := New(NoSpace, "")
	if errors.Is(err, other) {
		t.Error("errors.Is should not match a different Kind")
	}
}

func TestOf(t *testing.T) {
	err := fmt.Errorf("context: %w", New(EodMissing, "trailing filemark absent"))
	kind, ok := Of(err)
	if !ok || kind != EodMissing {
		t.Errorf("Of() = %v, %v; want EodMissing, true", kind, ok)
	}

	_, ok = Of(errors.New("plain error"))
	if ok {
		t.Error("Of() should report false for a non-ltfserr error")
	}
}

func TestSoftKinds(t *testing.T) {
	soft := []Kind{EarlyWarning, ProgEarlyWarning, FilemarkDetected, Underrun, CleaningRequired, ModeParameterRounded}
	for _, k := range soft {
		if !k.Soft() {
			t.Errorf("%v should be soft", k)
		}
	}

	hard := []Kind{NoSpace, WriteProtect, IndexInvalid, LbpReadError}
	for _, k := range hard {
		if k.Soft() {
			t.Errorf("%v should not be soft", k)
		}
	}
}
