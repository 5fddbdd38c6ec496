package logging

import (
	"errors"
	"testing"
)

func TestNewOperationErrorNil(t *testing.T) {
	if err := NewOperationError("op", "id", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestOperationErrorMessage(t *testing.T) {
	base := errors.New("boom")

	err := NewOperationError("upload.transfer", "abc123.png", base)
	if got, want := err.Error(), "upload.transfer (upload_id=abc123.png): boom"; got != want {
		t.Fatalf("unexpected message %q, want %q", got, want)
	}
	if !errors.Is(err, base) {
		t.Fatal("expected wrapped error to match base error")
	}

	err = NewOperationError("upload.request_credential", "", base)
	if got, want := err.Error(), "upload.request_credential: boom"; got != want {
		t.Fatalf("unexpected message %q, want %q", got, want)
	}
}

func TestNewLoggerLevels(t *testing.T) {
	for _, level := range []string{"", "debug", "warn", "bogus"} {
		logger, err := NewLogger(level)
		if err != nil {
			t.Fatalf("level %q: unexpected error: %v", level, err)
		}
		if logger == nil {
			t.Fatalf("level %q: expected logger", level)
		}
	}
}
