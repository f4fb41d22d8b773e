package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/SergeiKhy/click-analytics/internal/config"
	"github.com/SergeiKhy/click-analytics/internal/models"
	"go.uber.org/zap"
)

const clickEventsCollection = "click_events"

var (
	ErrUnknownDriver = errors.New("unknown storage driver")
	ErrCacheMiss     = errors.New("cache miss")
)

// ClickRepository хранилище сырых событий кликов и агрегаций над ними
type ClickRepository interface {
	Insert(ctx context.Context, event *models.ClickEvent) error
	CountByShortCode(ctx context.Context, shortCode string) (int64, error)
	CountByCountry(ctx context.Context, shortCode string) (models.OrderedCounts, error)
	CountByDate(ctx context.Context, shortCode string) (models.OrderedCounts, error)
	Recent(ctx context.Context, shortCode string, limit int64) ([]models.RecentClick, error)
	CountShortCodes(ctx context.Context) (int64, error)
	TopShortCodes(ctx context.Context, skip, limit int64) ([]models.CodeClicks, error)
}

// Storage связывает репозиторий кликов с ленивым подключением к конкретной БД
type Storage struct {
	Clicks  ClickRepository
	Driver  string
	connect func(ctx context.Context) error
	close   func(ctx context.Context) error
}

// NewStorage выбирает драйвер по STORAGE_DRIVER. Подключение не открывается до первого обращения.
func NewStorage(cfg *config.Config, logger *zap.Logger) (*Storage, error) {
	switch cfg.Storage.Driver {
	case "", "mongo", "mongodb":
		db := NewMongoDB(cfg.Mongo, logger)
		return &Storage{
			Clicks: NewMongoClickRepository(db),
			Driver: "mongo",
			connect: func(ctx context.Context) error {
				_, err := db.Database(ctx)
				return err
			},
			close: db.Close,
		}, nil
	case "postgres", "postgresql":
		db := NewPostgresDB(cfg.Postgres, logger)
		return &Storage{
			Clicks: NewPostgresClickRepository(db),
			Driver: "postgres",
			connect: func(ctx context.Context) error {
				_, err := db.Pool(ctx)
				return err
			},
			close: func(context.Context) error {
				db.Close()
				return nil
			},
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Storage.Driver)
	}
}

// Connect принудительно выполняет ленивую инициализацию (подключение и индексы)
func (s *Storage) Connect(ctx context.Context) error {
	return s.connect(ctx)
}

func (s *Storage) Close(ctx context.Context) error {
	return s.close(ctx)
}
