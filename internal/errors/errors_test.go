package errors

import (
	"fmt"
	"testing"
)

func TestExitCodeFromWrappedError(t *testing.T) {
	base := New(CodeValidation, "insufficient balance")
	wrapped := fmt.Errorf("validate: %w", base)
	if got := ExitCode(wrapped); got != 17 {
		t.Fatalf("expected exit code 17, got %d", got)
	}
	if got := ExitCode(fmt.Errorf("plain")); got != int(CodeInternal) {
		t.Fatalf("expected internal exit code, got %d", got)
	}
	if got := ExitCode(nil); got != 0 {
		t.Fatalf("expected success, got %d", got)
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(Wrap(CodeUnavailable, "provider timeout", fmt.Errorf("i/o"))) {
		t.Fatal("expected unavailable to be retryable")
	}
	if Retryable(New(CodeAuth, "bad key")) {
		t.Fatal("auth errors must not be retried")
	}
	if CodeValidation.Type() != "submission_blocked" {
		t.Fatalf("unexpected type name: %s", CodeValidation.Type())
	}
}
