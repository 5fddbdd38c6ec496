package recognition

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorKinds(t *testing.T) {
	cause := errors.New("connection reset")

	tests := []struct {
		name string
		err  error
		kind error
		msg  string
	}{
		{
			name: "credential",
			err:  NewCredentialError(500, cause),
			kind: ErrCredential,
			msg:  "credential request failed (status 500): connection reset",
		},
		{
			name: "transfer",
			err:  NewTransferError("abc123.png", 403, nil),
			kind: ErrTransfer,
			msg:  "storage transfer failed for abc123.png (status 403)",
		},
		{
			name: "lookup",
			err:  NewLookupError("abc123.png", 404, nil),
			kind: ErrLookup,
			msg:  "result lookup failed for abc123.png (status 404)",
		},
		{
			name: "exhausted",
			err:  NewPollExhausted("abc123.png", 6),
			kind: ErrPollExhausted,
			msg:  "classification not ready within retry budget for abc123.png after 6 attempts: classification not ready",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			if !errors.Is(wrapped, tt.kind) {
				t.Fatalf("expected %v to match kind %v", wrapped, tt.kind)
			}
			if got := KindOf(wrapped); got != tt.kind {
				t.Fatalf("KindOf returned %v, want %v", got, tt.kind)
			}
			if tt.err.Error() != tt.msg {
				t.Fatalf("unexpected message %q, want %q", tt.err.Error(), tt.msg)
			}
		})
	}
}

func TestErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := NewCredentialError(0, cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be reachable")
	}
	if errors.Is(err, ErrTransfer) {
		t.Fatal("credential error must not match transfer kind")
	}

	var recErr *Error
	if !errors.As(fmt.Errorf("wrap: %w", err), &recErr) {
		t.Fatal("expected errors.As to find *Error")
	}
}

func TestPollExhaustedIsNotReady(t *testing.T) {
	if !errors.Is(NewPollExhausted("x", 6), ErrNotReady) {
		t.Fatal("expected exhaustion to carry the not-ready cause")
	}
	if KindOf(errors.New("plain")) != nil {
		t.Fatal("plain error has no kind")
	}
}
