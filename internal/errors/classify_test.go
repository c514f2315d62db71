package errors

import (
	"context"
	stderrors "errors"
	"testing"
)

func TestClassify_ContextErrorsAreIrrecoverable(t *testing.T) {
	for _, err := range []error{context.Canceled, context.DeadlineExceeded} {
		c := Classify("relay query", err)
		if c.Category != Irrecoverable {
			t.Fatalf("expected %v to classify irrecoverable, got %s", err, c.Category)
		}
		if !IsIrrecoverable(c) {
			t.Fatalf("IsIrrecoverable must hold for %v", c)
		}
	}
}

func TestClassify_PlainErrorsAreRecoverable(t *testing.T) {
	c := Classify("relay query", stderrors.New("connection reset"))
	if c.Category != Recoverable {
		t.Fatalf("expected recoverable, got %s", c.Category)
	}
	if IsIrrecoverable(c) {
		t.Fatal("recoverable error reported as irrecoverable")
	}
}

func TestNewNetworkError_RecoverableAndUnwraps(t *testing.T) {
	base := stderrors.New("dial tcp: connection refused")
	c := NewNetworkError("relay connect", base)
	if c.Category != Recoverable {
		t.Fatalf("expected recoverable, got %s", c.Category)
	}
	if !stderrors.Is(c, base) {
		t.Fatal("expected the original error to survive wrapping")
	}
	if c.Operation != "relay connect" {
		t.Fatalf("unexpected operation: %q", c.Operation)
	}
}

func TestNewPermanent_IsIrrecoverable(t *testing.T) {
	base := stderrors.New("bad data")
	c := NewPermanent("derive", base)
	if !IsIrrecoverable(c) {
		t.Fatal("permanent error must be irrecoverable")
	}
	if !stderrors.Is(c, base) {
		t.Fatal("expected the original error to survive wrapping")
	}
}
