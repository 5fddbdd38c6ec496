package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/rekognify/internal/logging"
	"github.com/example/rekognify/internal/retry"
)

type transientTestError struct{}

func (transientTestError) Error() string   { return "transient" }
func (transientTestError) Timeout() bool   { return true }
func (transientTestError) Temporary() bool { return true }

func testRepository() *UploadRepository {
	return &UploadRepository{
		logger:  zap.NewNop(),
		backoff: retry.Backoff{Attempts: 3, Initial: time.Millisecond, Max: 2 * time.Millisecond},
	}
}

func TestExecuteWithRetryRetriesTransientErrors(t *testing.T) {
	repo := testRepository()

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "test.operation", "abc123.png", func() error {
		attempts++
		if attempts < 2 {
			return transientTestError{}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestExecuteWithRetryReturnsOperationError(t *testing.T) {
	repo := testRepository()

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "test.operation", "abc123.png", func() error {
		attempts++
		return ErrNotFound
	})

	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound to survive wrapping, got %v", err)
	}

	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "test.operation" {
		t.Fatalf("unexpected operation: %s", opErr.Operation)
	}
	if opErr.UploadID != "abc123.png" {
		t.Fatalf("unexpected upload id: %s", opErr.UploadID)
	}
}

func TestUploadRecordTableName(t *testing.T) {
	if got := (UploadRecord{}).TableName(); got != "upload_records" {
		t.Fatalf("unexpected table name %q", got)
	}
}
