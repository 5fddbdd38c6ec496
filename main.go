package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/rekognify/internal/auth"
	"github.com/example/rekognify/internal/config"
	"github.com/example/rekognify/internal/handlers"
	"github.com/example/rekognify/internal/httpclient"
	"github.com/example/rekognify/internal/logging"
	"github.com/example/rekognify/internal/poller"
	"github.com/example/rekognify/internal/repository"
	"github.com/example/rekognify/internal/session"
	"github.com/example/rekognify/internal/upload"
	"github.com/example/rekognify/internal/usecase"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	db := initDatabase(ctx, cfg.DatabaseDSN, logger)
	repo := repository.NewUploadRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient := initRedis(redisCtx, cfg.RedisAddr, logger)
	defer redisClient.Close()

	backend, err := httpclient.New(cfg.APIBaseURL, cfg.HTTPClientTimeout, logger)
	if err != nil {
		logger.Fatal("invalid recognition backend", zap.Error(err))
	}

	coordinator := upload.NewCoordinator(backend, backend, cfg.TransferTimeout, logger)
	resultPoller := poller.New(backend, cfg.Poll, logger, poller.WithObserver(logTransitions(logger)))

	uc := usecase.NewClassificationUseCase(
		repo,
		usecase.NewRedisCache(redisClient),
		coordinator,
		resultPoller,
		session.NewStore(),
		usecase.Options{PollTimeout: cfg.PollTimeout, CacheTTL: cfg.ResultCacheTTL},
		logger,
	)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))
	r.MaxMultipartMemory = cfg.MaxUploadSize

	authMiddleware := auth.Middleware(auth.Config{Secret: cfg.JWTSecret, Audience: cfg.JWTAudience})
	handlers.RegisterRoutes(r, uc, authMiddleware, cfg.MaxUploadSize, logger)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("rekognify listening",
		zap.String("addr", cfg.HTTPAddr),
		zap.String("api", cfg.APIBaseURL),
		zap.Durations("poll_schedule", cfg.Poll.Schedule()),
	)
	serveErr := serveHTTPServer(server, cfg.ShutdownTimeout, logger)

	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer drainCancel()
	if err := uc.Shutdown(drainCtx); err != nil {
		logger.Warn("poll goroutines still running at exit", zap.Error(err))
	}

	if serveErr != nil {
		logger.Fatal("server failed", zap.Error(serveErr))
	}
}

func initDatabase(ctx context.Context, dsn string, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func logTransitions(logger *zap.Logger) poller.Observer {
	named := logger.Named("poller")
	return func(id string, from, to poller.State) {
		named.Debug("poll transition",
			zap.String("upload_id", id),
			zap.Stringer("from", from.Phase),
			zap.Stringer("to", to.Phase),
			zap.Int("attempt", to.Attempt),
		)
	}
}

// requestLogger tags each request with an id and logs it once served.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	named := logger.Named("http")
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)

		started := time.Now()
		c.Next()

		named.Info("request served",
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(started)),
		)
	}
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
