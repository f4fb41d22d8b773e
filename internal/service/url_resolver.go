package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/SergeiKhy/click-analytics/internal/config"
	"github.com/SergeiKhy/click-analytics/internal/metrics"
	"github.com/SergeiKhy/click-analytics/internal/models"
	"github.com/SergeiKhy/click-analytics/internal/repository"
	"go.uber.org/zap"
)

const maxURLInfoBody = 64 << 10

// URLResolver получает longUrl короткой ссылки у url-service.
// Никогда не возвращает ошибку: любой сбой превращается в nil и предупреждение в логе.
type URLResolver interface {
	ResolveLongURL(ctx context.Context, shortCode string) *string
}

type httpURLResolver struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewURLResolver создаёт клиента url-service с ограничением времени на каждый запрос
func NewURLResolver(cfg config.URLServiceConfig, logger *zap.Logger) URLResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &httpURLResolver{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (r *httpURLResolver) ResolveLongURL(ctx context.Context, shortCode string) *string {
	longURL, err := r.fetch(ctx, shortCode)
	if err != nil {
		r.logger.Warn("Failed to resolve long URL",
			zap.String("short_code", shortCode),
			zap.Error(err),
		)
		return nil
	}
	metrics.EnrichmentTotal.WithLabelValues("ok").Inc()
	return &longURL
}

func (r *httpURLResolver) fetch(ctx context.Context, shortCode string) (string, error) {
	endpoint := r.baseURL + "/urls/" + url.PathEscape(shortCode)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		metrics.EnrichmentTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		metrics.EnrichmentTotal.WithLabelValues("unavailable").Inc()
		return "", fmt.Errorf("url-service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxURLInfoBody))
		metrics.EnrichmentTotal.WithLabelValues("non_200").Inc()
		return "", fmt.Errorf("url-service returned status %d", resp.StatusCode)
	}

	var info models.URLInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxURLInfoBody)).Decode(&info); err != nil {
		metrics.EnrichmentTotal.WithLabelValues("bad_body").Inc()
		return "", fmt.Errorf("decode url-service response: %w", err)
	}
	if info.LongURL == "" {
		metrics.EnrichmentTotal.WithLabelValues("bad_body").Inc()
		return "", errors.New("url-service response has no longUrl")
	}

	return info.LongURL, nil
}

// cachedURLResolver кэширует только успешные ответы; промахи и ошибки Redis уходят в url-service
type cachedURLResolver struct {
	next   URLResolver
	cache  repository.URLCacheRepository
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedURLResolver(next URLResolver, cache repository.URLCacheRepository, ttl time.Duration, logger *zap.Logger) URLResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &cachedURLResolver{next: next, cache: cache, ttl: ttl, logger: logger}
}

func (r *cachedURLResolver) ResolveLongURL(ctx context.Context, shortCode string) *string {
	longURL, err := r.cache.Get(ctx, shortCode)
	if err == nil {
		metrics.EnrichmentTotal.WithLabelValues("cache_hit").Inc()
		return &longURL
	}
	if !errors.Is(err, repository.ErrCacheMiss) {
		r.logger.Debug("Long URL cache read failed", zap.String("short_code", shortCode), zap.Error(err))
	}

	resolved := r.next.ResolveLongURL(ctx, shortCode)
	if resolved == nil {
		return nil
	}

	if err := r.cache.Set(ctx, shortCode, *resolved, r.ttl); err != nil {
		r.logger.Debug("Long URL cache write failed", zap.String("short_code", shortCode), zap.Error(err))
	}
	return resolved
}
