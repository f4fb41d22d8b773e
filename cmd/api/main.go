package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/SergeiKhy/click-analytics/internal/config"
	"github.com/SergeiKhy/click-analytics/internal/handler"
	"github.com/SergeiKhy/click-analytics/internal/middleware"
	"github.com/SergeiKhy/click-analytics/internal/repository"
	"github.com/SergeiKhy/click-analytics/internal/service"
	"github.com/SergeiKhy/click-analytics/pkg/logging"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Загрузка конфига
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация логгера
	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Хранилище событий (mongo по умолчанию, postgres по STORAGE_DRIVER)
	storage, err := repository.NewStorage(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to init storage", zap.Error(err))
	}

	connectCtx, cancelConnect := context.WithTimeout(ctx, 15*time.Second)
	err = storage.Connect(connectCtx)
	cancelConnect()
	if err != nil {
		logger.Fatal("Failed to connect to storage", zap.String("driver", storage.Driver), zap.Error(err))
	}
	logger.Info("Connected to storage", zap.String("driver", storage.Driver))

	// Клиент url-service, при наличии Redis с кэшем longUrl
	resolver := service.NewURLResolver(cfg.URLs, logger)
	var redis *repository.RedisDB
	if cfg.Redis.Addr != "" {
		redis, err = repository.NewRedisClient(cfg.Redis)
		if err != nil {
			logger.Warn("Redis unavailable, long URL cache disabled", zap.Error(err))
		} else {
			logger.Info("Connected to Redis")
			resolver = service.NewCachedURLResolver(resolver, repository.NewURLCacheRepository(redis), cfg.Redis.CacheTTL, logger)
		}
	}

	analyticsService := service.NewAnalyticsService(storage.Clicks, resolver, logger,
		service.WithEnrichmentBudget(cfg.URLs.Budget),
	)

	// Консьюмер очереди кликов, не блокирует запуск HTTP
	consumer := service.NewClickConsumer(cfg.RabbitMQ, storage.Clicks, logger)
	consumer.Start()

	rateLimiter := middleware.NewRateLimiter(middleware.FromConfig(cfg.RateLimit))

	router := handler.NewRouter(analyticsService, rateLimiter, logger)

	srv := handler.NewServer(cfg.App.Port, router, cfg.URLs)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Server starting", zap.String("port", cfg.App.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Graceful Shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		consumer.Stop()
		rateLimiter.Stop()

		err := srv.Shutdown(shutdownCtx)

		if closeErr := storage.Close(shutdownCtx); closeErr != nil {
			logger.Warn("Failed to close storage", zap.Error(closeErr))
		}
		if redis != nil {
			_ = redis.Close()
		}
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server exited with error", zap.Error(err))
		return
	}

	logger.Info("Server exited")
}
