package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/rekognify/internal/recognition"
	"github.com/example/rekognify/internal/retry"
)

// Upload statuses as stored in the status column.
const (
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// ErrNotFound is returned when no upload matches the lookup.
var ErrNotFound = errors.New("upload not found")

// UploadRecord is the history entry of one upload-to-result cycle.
type UploadRecord struct {
	ID            uint                `gorm:"primaryKey"`
	ImageID       string              `gorm:"column:image_id;uniqueIndex;size:128"`
	UserID        string              `gorm:"column:user_id;index;size:64"`
	CycleID       string              `gorm:"column:cycle_id;size:36"`
	Filename      string              `gorm:"column:filename;size:255"`
	MimeType      string              `gorm:"column:mime_type;size:64"`
	Status        string              `gorm:"column:status;size:16;index"`
	Labels        []recognition.Label `gorm:"column:labels;type:jsonb;serializer:json"`
	LabelCount    int                 `gorm:"column:label_count"`
	ResultURL     string              `gorm:"column:result_url;size:512"`
	FailureKind   string              `gorm:"column:failure_kind;size:32"`
	FailureReason string              `gorm:"column:failure_reason;type:text"`
	CreatedAt     time.Time           `gorm:"column:created_at"`
	CompletedAt   *time.Time          `gorm:"column:completed_at"`
}

// TableName overrides the default table name.
func (UploadRecord) TableName() string {
	return "upload_records"
}

// MetricsAggregation holds aggregate figures over all uploads.
type MetricsAggregation struct {
	TotalCount               int64
	CompletedCount           int64
	FailedCount              int64
	AverageLabelCount        float64
	AverageCompletionSeconds float64
}

// UploadRepository persists upload history.
type UploadRepository struct {
	db      *gorm.DB
	logger  *zap.Logger
	backoff retry.Backoff
}

// NewUploadRepository creates a new repository instance.
func NewUploadRepository(db *gorm.DB, logger *zap.Logger) *UploadRepository {
	return &UploadRepository{
		db:      db,
		logger:  logger.Named("upload_repository"),
		backoff: retry.Default(),
	}
}

// AutoMigrate ensures the schema is available.
func (r *UploadRepository) AutoMigrate(ctx context.Context) error {
	return r.executeWithRetry(ctx, "repository.auto_migrate", "", func() error {
		return r.db.WithContext(ctx).AutoMigrate(&UploadRecord{})
	})
}

// SaveRecord persists a new upload entry.
func (r *UploadRepository) SaveRecord(ctx context.Context, record *UploadRecord) error {
	return r.executeWithRetry(ctx, "repository.save_record", record.ImageID, func() error {
		return r.db.WithContext(ctx).Create(record).Error
	})
}

// MarkCompleted stores the labels of imageID.
func (r *UploadRepository) MarkCompleted(ctx context.Context, imageID string, info *recognition.ImageInfo, at time.Time) error {
	return r.executeWithRetry(ctx, "repository.mark_completed", imageID, func() error {
		res := r.db.WithContext(ctx).Model(&UploadRecord{}).Where("image_id = ?", imageID).Updates(UploadRecord{
			Status:      StatusCompleted,
			Labels:      info.Labels,
			LabelCount:  len(info.Labels),
			ResultURL:   info.URL,
			CompletedAt: &at,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// MarkFailed records why imageID never got labels.
func (r *UploadRepository) MarkFailed(ctx context.Context, imageID, kind, reason string, at time.Time) error {
	return r.executeWithRetry(ctx, "repository.mark_failed", imageID, func() error {
		res := r.db.WithContext(ctx).Model(&UploadRecord{}).Where("image_id = ?", imageID).Updates(UploadRecord{
			Status:        StatusFailed,
			FailureKind:   kind,
			FailureReason: reason,
			CompletedAt:   &at,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// FindByImageIDAndUser retrieves an upload matching the image and owner.
func (r *UploadRepository) FindByImageIDAndUser(ctx context.Context, imageID, userID string) (*UploadRecord, error) {
	var record UploadRecord
	err := r.executeWithRetry(ctx, "repository.find_by_image_id", imageID, func() error {
		err := r.db.WithContext(ctx).First(&record, "image_id = ? AND user_id = ?", imageID, userID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ListByUser returns the most recent uploads of userID.
func (r *UploadRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*UploadRecord, error) {
	var records []*UploadRecord
	err := r.executeWithRetry(ctx, "repository.list_by_user", "", func() error {
		return r.db.WithContext(ctx).
			Where("user_id = ?", userID).
			Order("created_at DESC").
			Limit(limit).
			Find(&records).Error
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// AggregateMetrics computes totals over every stored upload.
func (r *UploadRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).Model(&UploadRecord{}).Select(
			"COUNT(*) AS total_count, "+
				"COUNT(*) FILTER (WHERE status = ?) AS completed_count, "+
				"COUNT(*) FILTER (WHERE status = ?) AS failed_count, "+
				"COALESCE(AVG(label_count) FILTER (WHERE status = ?), 0) AS average_label_count, "+
				"COALESCE(AVG(EXTRACT(EPOCH FROM completed_at - created_at)) FILTER (WHERE status = ?), 0) AS average_completion_seconds",
			StatusCompleted, StatusFailed, StatusCompleted, StatusCompleted,
		).Scan(&agg).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

func (r *UploadRepository) executeWithRetry(ctx context.Context, operation, imageID string, fn func() error) error {
	return retry.Do(ctx, r.backoff, r.logger, operation, imageID, fn)
}
