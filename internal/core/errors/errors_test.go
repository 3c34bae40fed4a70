package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestDomainError(t *testing.T) {
	t.Run("New", func(t *testing.T) {
		err := New(CodeNotFound, "snapshot not found")
		if err.Error() != "[NOT_FOUND] snapshot not found" {
			t.Errorf("unexpected message %q", err.Error())
		}
	})

	t.Run("Wrap", func(t *testing.T) {
		err := Wrap(errors.New("disk full"), CodeStorage, "save run")
		expected := "[STORAGE_ERROR] save run: disk full"
		if err.Error() != expected {
			t.Errorf("expected %q, got %q", expected, err.Error())
		}
		if Wrap(nil, CodeStorage, "noop") != nil {
			t.Error("expected Wrap(nil) to return nil")
		}
	})

	t.Run("WrapCanceled", func(t *testing.T) {
		err := Wrap(fmt.Errorf("detect: %w", context.Canceled), CodeInternal, "analyze")
		if !IsCode(err, CodeCanceled) {
			t.Errorf("expected CANCELED, got %s", CodeOf(err))
		}
		if !errors.Is(err, context.Canceled) {
			t.Error("expected the cause to stay reachable through Unwrap")
		}
	})

	t.Run("IsCodeNested", func(t *testing.T) {
		inner := New(CodeInvalidSnapshot, "bad json")
		err := Wrap(inner, CodeInternal, "load")
		if !IsCode(err, CodeInternal) || !IsCode(err, CodeInvalidSnapshot) {
			t.Error("expected both codes in the chain to match")
		}
		if IsCode(err, CodeNotFound) {
			t.Error("unexpected NOT_FOUND match")
		}
		if CodeOf(err) != CodeInternal {
			t.Errorf("expected outermost code INTERNAL_ERROR, got %s", CodeOf(err))
		}
	})

	t.Run("AddContext", func(t *testing.T) {
		err := AddContext(New(CodeNotFound, "missing"), CtxPath, "graph.json")
		if err.Error() != "[NOT_FOUND] missing path=graph.json" {
			t.Errorf("unexpected message %q", err.Error())
		}
		plain := AddContext(errors.New("boom"), CtxOperation, "render")
		if CodeOf(plain) != CodeInternal {
			t.Errorf("expected plain errors to become INTERNAL_ERROR, got %s", CodeOf(plain))
		}
	})
}
