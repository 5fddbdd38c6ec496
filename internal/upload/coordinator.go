// Package upload runs the first half of the classification cycle: it obtains a
// write credential, transfers the file to storage and hands back the id under
// which results will appear.
package upload

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/example/rekognify/internal/logging"
	"github.com/example/rekognify/internal/recognition"
)

// Media types the recognition backend accepts.
var supportedTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// Supported reports whether mimeType is accepted for classification.
func Supported(mimeType string) bool {
	return supportedTypes[normalize(mimeType)]
}

func normalize(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

// DetectMimeType sniffs payload and reconciles it with the declared type.
// An empty declared type adopts the sniffed one. A declared type must be
// supported and agree with the content.
func DetectMimeType(payload []byte, declared string) (string, error) {
	if len(payload) == 0 {
		return "", recognition.ErrEmptyPayload
	}

	detected := mimetype.Detect(payload)
	declared = normalize(declared)
	if declared == "" {
		sniffed := normalize(detected.String())
		if !supportedTypes[sniffed] {
			return "", fmt.Errorf("%w: %s", recognition.ErrUnsupportedMediaType, sniffed)
		}
		return sniffed, nil
	}

	if !supportedTypes[declared] {
		return "", fmt.Errorf("%w: %s", recognition.ErrUnsupportedMediaType, declared)
	}
	if !detected.Is(declared) {
		return "", fmt.Errorf("%w: content is %s, declared %s", recognition.ErrUnsupportedMediaType, detected.String(), declared)
	}
	return declared, nil
}

// Coordinator sequences credential request and storage transfer. It never
// retries: every call requests exactly one credential.
type Coordinator struct {
	credentials     recognition.Credentials
	storage         recognition.Storage
	logger          *zap.Logger
	transferTimeout time.Duration
}

// NewCoordinator builds a coordinator. transferTimeout bounds the storage
// write; zero leaves it to the caller's context.
func NewCoordinator(credentials recognition.Credentials, storage recognition.Storage, transferTimeout time.Duration, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		credentials:     credentials,
		storage:         storage,
		logger:          logger.Named("upload_coordinator"),
		transferTimeout: transferTimeout,
	}
}

// RequestCredential obtains a write credential for req. A response without an
// id or url is treated as a refusal.
func (c *Coordinator) RequestCredential(ctx context.Context, req recognition.UploadRequest) (*recognition.UploadCredential, error) {
	cred, err := c.credentials.RequestCredential(ctx, req)
	if err != nil {
		return nil, logging.NewOperationError("upload.request_credential", "", err)
	}
	if cred == nil || cred.ID == "" || cred.URL == "" {
		return nil, logging.NewOperationError("upload.request_credential", "", recognition.NewCredentialError(0, fmt.Errorf("incomplete credential")))
	}
	return cred, nil
}

// Transfer writes payload to the credential's storage URL.
func (c *Coordinator) Transfer(ctx context.Context, cred recognition.UploadCredential, payload []byte, contentType string) error {
	if c.transferTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.transferTimeout)
		defer cancel()
	}
	if err := c.storage.Transfer(ctx, cred, payload, contentType); err != nil {
		return logging.NewOperationError("upload.transfer", cred.ID, err)
	}
	return nil
}

// Upload validates the file, requests a credential and transfers the bytes.
// The returned credential's ID becomes valid for lookups only once Upload
// returns without error.
func (c *Coordinator) Upload(ctx context.Context, filename string, payload []byte, mimeType string) (*recognition.UploadCredential, error) {
	contentType, err := DetectMimeType(payload, mimeType)
	if err != nil {
		return nil, logging.NewOperationError("upload.validate", "", err)
	}

	started := time.Now()
	cred, err := c.RequestCredential(ctx, recognition.UploadRequest{Filename: filename, MimeType: contentType})
	if err != nil {
		c.logger.Warn("upload aborted: no credential", zap.String("filename", filename), zap.Error(err))
		return nil, err
	}

	opLogger := logging.WithOperation(c.logger, "upload.upload", cred.ID)
	if err := c.Transfer(ctx, *cred, payload, contentType); err != nil {
		opLogger.Warn("upload aborted: transfer failed", zap.Error(err))
		return nil, err
	}

	opLogger.Info("upload complete",
		zap.String("filename", filename),
		zap.String("content_type", contentType),
		zap.Int("bytes", len(payload)),
		zap.Duration("elapsed", time.Since(started)),
	)
	return cred, nil
}
