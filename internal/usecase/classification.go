package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/rekognify/internal/logging"
	"github.com/example/rekognify/internal/recognition"
	"github.com/example/rekognify/internal/repository"
	"github.com/example/rekognify/internal/retry"
	"github.com/example/rekognify/internal/session"
)

var (
	// ErrNotFound is returned for ids unknown to the caller.
	ErrNotFound = errors.New("result not found")

	// ErrProcessing is returned while an id has no labels yet.
	ErrProcessing = errors.New("classification still processing")
)

// Result statuses exposed to callers.
const (
	ResultProcessing = "processing"
	ResultCompleted  = "completed"
	ResultFailed     = "failed"
)

// UploadRepository defines the persistence operations needed by the use case.
type UploadRepository interface {
	SaveRecord(ctx context.Context, record *repository.UploadRecord) error
	MarkCompleted(ctx context.Context, imageID string, info *recognition.ImageInfo, at time.Time) error
	MarkFailed(ctx context.Context, imageID, kind, reason string, at time.Time) error
	FindByImageIDAndUser(ctx context.Context, imageID, userID string) (*repository.UploadRecord, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*repository.UploadRecord, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// Uploader runs the credential and transfer steps.
type Uploader interface {
	Upload(ctx context.Context, filename string, payload []byte, mimeType string) (*recognition.UploadCredential, error)
}

// ResultFetcher waits for the labels of an uploaded image.
type ResultFetcher interface {
	Fetch(ctx context.Context, id string) (*recognition.ImageInfo, error)
}

// Submission is the answer to a started cycle.
type Submission struct {
	ID         string `json:"id"`
	Generation uint64 `json:"generation"`
	CycleID    string `json:"cycle_id"`
}

// Result is the stored outcome of one upload.
type Result struct {
	ID            string              `json:"id"`
	Status        string              `json:"status"`
	Filename      string              `json:"filename,omitempty"`
	URL           string              `json:"url,omitempty"`
	Labels        []recognition.Label `json:"labels,omitempty"`
	FailureKind   string              `json:"failure_kind,omitempty"`
	FailureReason string              `json:"failure_reason,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	CompletedAt   *time.Time          `json:"completed_at,omitempty"`
}

type cachedResult struct {
	UserID string `json:"user_id"`
	Result
}

// Options tunes the use case.
type Options struct {
	PollTimeout time.Duration
	CacheTTL    time.Duration
}

// ClassificationUseCase runs upload-to-result cycles on behalf of users and
// keeps their session, cache and history in step.
type ClassificationUseCase struct {
	repo        UploadRepository
	cache       Cache
	uploader    Uploader
	fetcher     ResultFetcher
	sessions    *session.Store
	logger      *zap.Logger
	backoff     retry.Backoff
	pollTimeout time.Duration
	cacheTTL    time.Duration
	now         func() time.Time

	wg       sync.WaitGroup
	inFlight atomic.Int64
}

// NewClassificationUseCase constructs a new use case instance.
func NewClassificationUseCase(repo UploadRepository, cache Cache, uploader Uploader, fetcher ResultFetcher, sessions *session.Store, opts Options, logger *zap.Logger) *ClassificationUseCase {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 2 * time.Minute
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
	}
	return &ClassificationUseCase{
		repo:        repo,
		cache:       cache,
		uploader:    uploader,
		fetcher:     fetcher,
		sessions:    sessions,
		logger:      logger.Named("classification_usecase"),
		backoff:     retry.Default(),
		pollTimeout: opts.PollTimeout,
		cacheTTL:    opts.CacheTTL,
		now:         time.Now,
	}
}

// Submit starts a new cycle for userID, abandoning any cycle in flight. The
// upload runs synchronously; polling continues in the background and its
// outcome lands in the session, the cache and the history.
func (uc *ClassificationUseCase) Submit(ctx context.Context, userID, filename, mimeType string, payload []byte) (*Submission, error) {
	ticket := uc.sessions.Begin(userID, filename)
	opLogger := logging.WithOperation(uc.logger, "usecase.submit", "").With(
		zap.String("cycle_id", ticket.CycleID),
		zap.String("user_id", userID),
	)

	cred, err := uc.uploader.Upload(ctx, filename, payload, mimeType)
	if err != nil {
		if !uc.sessions.Fail(ticket, err) {
			opLogger.Info("dropping upload failure of superseded cycle", zap.Error(err))
		}
		return nil, err
	}

	pollCtx, cancel := context.WithTimeout(context.Background(), uc.pollTimeout)
	if err := uc.sessions.Publish(ticket, cred.ID, cancel); err != nil {
		cancel()
		opLogger.Info("cycle superseded during upload", zap.String("upload_id", cred.ID))
		return nil, logging.NewOperationError("usecase.submit", cred.ID, err)
	}

	record := &repository.UploadRecord{
		ImageID:   cred.ID,
		UserID:    userID,
		CycleID:   ticket.CycleID,
		Filename:  filename,
		MimeType:  strings.ToLower(strings.TrimSpace(mimeType)),
		Status:    repository.StatusProcessing,
		CreatedAt: uc.now().UTC(),
	}
	if err := uc.repo.SaveRecord(ctx, record); err != nil {
		opLogger.Error("failed to persist upload record", zap.Error(err), zap.String("upload_id", cred.ID))
	}

	pending := cachedResult{
		UserID: userID,
		Result: Result{ID: cred.ID, Status: ResultProcessing, Filename: filename, CreatedAt: record.CreatedAt},
	}
	if err := uc.storeResult(ctx, pending, uc.pollTimeout+uc.cacheTTL); err != nil {
		opLogger.Error("failed to cache processing flag", zap.Error(err), zap.String("upload_id", cred.ID))
	}

	uc.wg.Add(1)
	uc.inFlight.Add(1)
	go uc.poll(pollCtx, cancel, ticket, pending)

	return &Submission{ID: cred.ID, Generation: ticket.Generation, CycleID: ticket.CycleID}, nil
}

func (uc *ClassificationUseCase) poll(ctx context.Context, cancel context.CancelFunc, ticket session.Ticket, pending cachedResult) {
	defer uc.wg.Done()
	defer uc.inFlight.Add(-1)
	defer cancel()

	id := pending.ID
	opLogger := logging.WithOperation(uc.logger, "usecase.poll", id).With(zap.String("cycle_id", ticket.CycleID))

	info, err := uc.fetcher.Fetch(ctx, id)

	// The poll context may be gone by now; bookkeeping gets its own deadline.
	storeCtx, storeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer storeCancel()
	finishedAt := uc.now().UTC()

	outcome := pending
	outcome.CompletedAt = &finishedAt

	if err != nil {
		if !uc.sessions.Fail(ticket, err) {
			opLogger.Info("dropping poll failure of superseded cycle", zap.Error(err))
		}
		outcome.Status = ResultFailed
		outcome.FailureKind = session.FailureKind(err)
		outcome.FailureReason = err.Error()
		if err := uc.repo.MarkFailed(storeCtx, id, outcome.FailureKind, outcome.FailureReason, finishedAt); err != nil {
			opLogger.Error("failed to record poll failure", zap.Error(err))
		}
		if err := uc.storeResult(storeCtx, outcome, uc.cacheTTL); err != nil {
			opLogger.Error("failed to cache poll failure", zap.Error(err))
		}
		return
	}

	if !uc.sessions.Complete(ticket, info) {
		opLogger.Info("dropping labels of superseded cycle", zap.Int("labels", len(info.Labels)))
	}
	outcome.Status = ResultCompleted
	outcome.URL = info.URL
	outcome.Labels = info.Labels
	if err := uc.repo.MarkCompleted(storeCtx, id, info, finishedAt); err != nil {
		opLogger.Error("failed to record labels", zap.Error(err))
	}
	if err := uc.storeResult(storeCtx, outcome, uc.cacheTTL); err != nil {
		opLogger.Error("failed to cache labels", zap.Error(err))
	}
}

// Session returns the caller's current session.
func (uc *ClassificationUseCase) Session(userID string) session.Snapshot {
	return uc.sessions.Get(userID)
}

// Reset abandons the caller's cycle; used when a new file is selected.
func (uc *ClassificationUseCase) Reset(userID string) session.Snapshot {
	return uc.sessions.Reset(userID)
}

// GetResult retrieves a cached outcome or loads it from persistence.
func (uc *ClassificationUseCase) GetResult(ctx context.Context, userID, imageID string) (*Result, error) {
	if cached, err := uc.withCacheGet(ctx, imageID, "cache.get.result", resultKey(imageID)); err == nil {
		var payload cachedResult
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			logging.WithOperation(uc.logger, "usecase.get_result", imageID).Warn("failed to decode cached result", zap.Error(err))
		} else if payload.UserID == userID {
			result := payload.Result
			return &result, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logging.WithOperation(uc.logger, "usecase.get_result", imageID).Warn("failed to read cache", zap.Error(err))
	}

	record, err := uc.repo.FindByImageIDAndUser(ctx, imageID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return resultFromRecord(record), nil
}

// History lists the caller's previous uploads, newest first.
func (uc *ClassificationUseCase) History(ctx context.Context, userID string, limit int) ([]*Result, error) {
	records, err := uc.repo.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	results := make([]*Result, 0, len(records))
	for _, record := range records {
		results = append(results, resultFromRecord(record))
	}
	return results, nil
}

// Shutdown abandons every cycle and waits for the poll goroutines to record
// their outcome.
func (uc *ClassificationUseCase) Shutdown(ctx context.Context) error {
	uc.sessions.Close()

	done := make(chan struct{})
	go func() {
		uc.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func resultFromRecord(record *repository.UploadRecord) *Result {
	return &Result{
		ID:            record.ImageID,
		Status:        strings.ToLower(record.Status),
		Filename:      record.Filename,
		URL:           record.ResultURL,
		Labels:        record.Labels,
		FailureKind:   record.FailureKind,
		FailureReason: record.FailureReason,
		CreatedAt:     record.CreatedAt,
		CompletedAt:   record.CompletedAt,
	}
}

func (uc *ClassificationUseCase) storeResult(ctx context.Context, result cachedResult, ttl time.Duration) error {
	serialized, err := json.Marshal(result)
	if err != nil {
		return logging.NewOperationError("cache.set.result", result.ID, err)
	}
	return uc.withCacheRetry(ctx, result.ID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, resultKey(result.ID), string(serialized), ttl)
	})
}

func (uc *ClassificationUseCase) withCacheRetry(ctx context.Context, imageID, operation string, fn func() error) error {
	return retry.Do(ctx, uc.backoff, uc.logger, operation, imageID, fn)
}

func (uc *ClassificationUseCase) withCacheGet(ctx context.Context, imageID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withCacheRetry(ctx, imageID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}
