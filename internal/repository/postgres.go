package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/SergeiKhy/click-analytics/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Схема повторяет коллекцию click_events: timestamp хранится строкой
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS click_events (
		id          BIGSERIAL PRIMARY KEY,
		short_code  TEXT,
		"timestamp" TEXT NOT NULL DEFAULT '',
		ip_address  TEXT,
		user_agent  TEXT,
		referrer    TEXT,
		country     TEXT NOT NULL DEFAULT 'unknown'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_click_events_short_code ON click_events (short_code)`,
	`CREATE INDEX IF NOT EXISTS idx_click_events_timestamp ON click_events ("timestamp")`,
	`CREATE INDEX IF NOT EXISTS idx_click_events_code_ts ON click_events (short_code ASC, "timestamp" DESC)`,
}

// PostgresDB альтернативное хранилище событий (STORAGE_DRIVER=postgres).
// Пул создаётся лениво по тем же правилам, что и MongoDB.
type PostgresDB struct {
	url    string
	logger *zap.Logger

	mu   sync.Mutex
	pool *pgxpool.Pool
}

func NewPostgresDB(cfg config.PostgresConfig, logger *zap.Logger) *PostgresDB {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresDB{url: cfg.URL, logger: logger}
}

func (db *PostgresDB) Pool(ctx context.Context) (*pgxpool.Pool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.pool != nil {
		return db.pool, nil
	}

	poolConfig, err := pgxpool.ParseConfig(db.url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DB config: %w", err)
	}

	// Настройка пула соединений
	poolConfig.MaxConns = 25
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	for _, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to ensure click_events schema: %w", err)
		}
	}

	db.logger.Info("Connected to PostgreSQL")
	db.pool = pool
	return pool, nil
}

func (db *PostgresDB) Close() {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.pool != nil {
		db.pool.Close()
		db.pool = nil
	}
}
