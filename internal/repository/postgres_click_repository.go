package repository

import (
	"context"
	"fmt"

	"github.com/SergeiKhy/click-analytics/internal/models"
	"github.com/jackc/pgx/v5"
)

type postgresClickRepository struct {
	db *PostgresDB
}

func NewPostgresClickRepository(db *PostgresDB) ClickRepository {
	return &postgresClickRepository{db: db}
}

func (r *postgresClickRepository) Insert(ctx context.Context, event *models.ClickEvent) error {
	pool, err := r.db.Pool(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO click_events (short_code, "timestamp", ip_address, user_agent, referrer, country)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err = pool.Exec(ctx, query,
		event.ShortCode,
		event.Timestamp,
		event.IPAddress,
		event.UserAgent,
		event.Referrer,
		event.Country,
	)
	if err != nil {
		return fmt.Errorf("failed to insert click event: %w", err)
	}

	return nil
}

func (r *postgresClickRepository) CountByShortCode(ctx context.Context, shortCode string) (int64, error) {
	pool, err := r.db.Pool(ctx)
	if err != nil {
		return 0, err
	}

	var total int64
	err = pool.QueryRow(ctx, `SELECT COUNT(*) FROM click_events WHERE short_code = $1`, shortCode).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to count clicks: %w", err)
	}

	return total, nil
}

func (r *postgresClickRepository) CountByCountry(ctx context.Context, shortCode string) (models.OrderedCounts, error) {
	query := `
		SELECT country, COUNT(*) AS clicks
		FROM click_events
		WHERE short_code = $1
		GROUP BY country
		ORDER BY clicks DESC, country ASC
	`
	return r.buckets(ctx, query, shortCode)
}

func (r *postgresClickRepository) CountByDate(ctx context.Context, shortCode string) (models.OrderedCounts, error) {
	query := `
		SELECT substr("timestamp", 1, 10) AS day, COUNT(*) AS clicks
		FROM click_events
		WHERE short_code = $1
		GROUP BY day
		ORDER BY day ASC
	`
	return r.buckets(ctx, query, shortCode)
}

func (r *postgresClickRepository) buckets(ctx context.Context, query string, args ...any) (models.OrderedCounts, error) {
	pool, err := r.db.Pool(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate clicks: %w", err)
	}

	buckets, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.CountBucket, error) {
		var b models.CountBucket
		err := row.Scan(&b.Key, &b.Count)
		return b, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan click buckets: %w", err)
	}

	return buckets, nil
}

func (r *postgresClickRepository) Recent(ctx context.Context, shortCode string, limit int64) ([]models.RecentClick, error) {
	pool, err := r.db.Pool(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT "timestamp", ip_address, user_agent, referrer, country
		FROM click_events
		WHERE short_code = $1
		ORDER BY "timestamp" DESC
		LIMIT $2
	`

	rows, err := pool.Query(ctx, query, shortCode, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent clicks: %w", err)
	}
	defer rows.Close()

	recent := []models.RecentClick{}
	for rows.Next() {
		var c models.RecentClick
		if err := rows.Scan(&c.Timestamp, &c.IPAddress, &c.UserAgent, &c.Referrer, &c.Country); err != nil {
			return nil, fmt.Errorf("failed to scan recent click: %w", err)
		}
		recent = append(recent, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recent clicks: %w", err)
	}

	return recent, nil
}

// CountShortCodes учитывает NULL как отдельную группу, так же как GROUP BY в TopShortCodes
func (r *postgresClickRepository) CountShortCodes(ctx context.Context) (int64, error) {
	pool, err := r.db.Pool(ctx)
	if err != nil {
		return 0, err
	}

	var total int64
	err = pool.QueryRow(ctx, `SELECT COUNT(*) FROM (SELECT DISTINCT short_code FROM click_events) codes`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to count short codes: %w", err)
	}

	return total, nil
}

func (r *postgresClickRepository) TopShortCodes(ctx context.Context, skip, limit int64) ([]models.CodeClicks, error) {
	pool, err := r.db.Pool(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT short_code, COUNT(*) AS total_clicks
		FROM click_events
		GROUP BY short_code
		ORDER BY total_clicks DESC, short_code ASC NULLS FIRST
		OFFSET $1
		LIMIT $2
	`

	rows, err := pool.Query(ctx, query, skip, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get trending: %w", err)
	}
	defer rows.Close()

	result := []models.CodeClicks{}
	for rows.Next() {
		var c models.CodeClicks
		if err := rows.Scan(&c.ShortCode, &c.TotalClicks); err != nil {
			return nil, fmt.Errorf("failed to scan trending row: %w", err)
		}
		result = append(result, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trending: %w", err)
	}

	return result, nil
}
