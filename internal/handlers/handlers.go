package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/rekognify/internal/auth"
	"github.com/example/rekognify/internal/recognition"
	"github.com/example/rekognify/internal/session"
	"github.com/example/rekognify/internal/upload"
	"github.com/example/rekognify/internal/usecase"
)

// DefaultMaxUploadSize limits the size of uploaded images.
const DefaultMaxUploadSize int64 = 10 << 20

// multipartOverhead is the room left for multipart framing around the file.
const multipartOverhead int64 = 1 << 20

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// ClassificationService is what the routes need from the use case.
type ClassificationService interface {
	Submit(ctx context.Context, userID, filename, mimeType string, payload []byte) (*usecase.Submission, error)
	Session(userID string) session.Snapshot
	Reset(userID string) session.Snapshot
	GetResult(ctx context.Context, userID, imageID string) (*usecase.Result, error)
	History(ctx context.Context, userID string, limit int) ([]*usecase.Result, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

type handler struct {
	svc           ClassificationService
	maxUploadSize int64
	logger        *zap.Logger
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, svc ClassificationService, authMiddleware gin.HandlerFunc, maxUploadSize int64, logger *zap.Logger) {
	if maxUploadSize <= 0 {
		maxUploadSize = DefaultMaxUploadSize
	}
	h := &handler{svc: svc, maxUploadSize: maxUploadSize, logger: logger.Named("handlers")}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	protected := router.Group("/")
	if authMiddleware != nil {
		protected.Use(authMiddleware)
	}

	protected.POST("/images", h.submit)
	protected.GET("/images/:id", h.result)
	protected.GET("/session", h.session)
	protected.DELETE("/session", h.reset)
	protected.GET("/history", h.history)
	protected.GET("/metrics", h.metrics)
}

func (h *handler) submit(c *gin.Context) {
	userID, ok := auth.UserID(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize+multipartOverhead)

	file, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}

	if file.Size > h.maxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}

	declared := file.Header.Get("Content-Type")
	if declared == "application/octet-stream" {
		declared = ""
	}
	if declared != "" && !upload.Supported(declared) {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported content type"})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open file"})
		return
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read file"})
		return
	}

	submission, err := h.svc.Submit(c.Request.Context(), userID, file.Filename, declared, data)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, submission)
}

func (h *handler) result(c *gin.Context) {
	userID, _ := auth.UserID(c.Request.Context())
	imageID := c.Param("id")
	if imageID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}

	result, err := h.svc.GetResult(c.Request.Context(), userID, imageID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	if result.Status == usecase.ResultProcessing {
		c.JSON(http.StatusConflict, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *handler) session(c *gin.Context) {
	userID, _ := auth.UserID(c.Request.Context())
	c.JSON(http.StatusOK, h.svc.Session(userID))
}

func (h *handler) reset(c *gin.Context) {
	userID, _ := auth.UserID(c.Request.Context())
	c.JSON(http.StatusOK, h.svc.Reset(userID))
}

func (h *handler) history(c *gin.Context) {
	userID, _ := auth.UserID(c.Request.Context())

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(parsed, maxHistoryLimit)
	}

	results, err := h.svc.History(c.Request.Context(), userID, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": results})
}

func (h *handler) metrics(c *gin.Context) {
	summary, err := h.svc.GetMetricsSummary(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *handler) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Int("status", status), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": session.FailureKind(err)})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, recognition.ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, recognition.ErrEmptyPayload):
		return http.StatusBadRequest
	case errors.Is(err, usecase.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrStale):
		return http.StatusConflict
	case errors.Is(err, recognition.ErrPollExhausted), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, recognition.ErrCredential),
		errors.Is(err, recognition.ErrTransfer),
		errors.Is(err, recognition.ErrLookup):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
