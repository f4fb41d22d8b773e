package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/SergeiKhy/click-analytics/internal/models"
	"github.com/SergeiKhy/click-analytics/internal/repository"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Константы пагинации и выборки
const (
	DefaultPage       = 1
	DefaultPageSize   = 20
	MaxPageSize       = 100
	RecentClicksLimit = 10

	DefaultEnrichmentBudget = 10 * time.Second
)

var (
	ErrInvalidPage     = errors.New("page must be a positive integer")
	ErrInvalidPageSize = errors.New("pageSize must be an integer")
)

// AnalyticsService считает аналитику по сырым событиям на каждый запрос, без кэша
type AnalyticsService interface {
	GetURLAnalytics(ctx context.Context, shortCode string) (*models.URLAnalytics, error)
	GetTrending(ctx context.Context, page, pageSize int) (*models.TrendingPage, error)
}

type analyticsService struct {
	clicks       repository.ClickRepository
	resolver     URLResolver
	enrichBudget time.Duration
	logger       *zap.Logger
}

type AnalyticsOption func(*analyticsService)

// WithEnrichmentBudget ограничивает суммарное время обогащения одной страницы trending
func WithEnrichmentBudget(budget time.Duration) AnalyticsOption {
	return func(s *analyticsService) {
		if budget > 0 {
			s.enrichBudget = budget
		}
	}
}

func NewAnalyticsService(clicks repository.ClickRepository, resolver URLResolver, logger *zap.Logger, opts ...AnalyticsOption) AnalyticsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &analyticsService{
		clicks:       clicks,
		resolver:     resolver,
		enrichBudget: DefaultEnrichmentBudget,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetURLAnalytics возвращает итоги по коду. Для кода без событий остальные агрегации не запускаются.
func (s *analyticsService) GetURLAnalytics(ctx context.Context, shortCode string) (*models.URLAnalytics, error) {
	result := &models.URLAnalytics{
		ShortCode:       shortCode,
		ClicksByCountry: models.OrderedCounts{},
		ClicksByDate:    models.OrderedCounts{},
		RecentClicks:    []models.RecentClick{},
	}

	total, err := s.clicks.CountByShortCode(ctx, shortCode)
	if err != nil {
		return nil, fmt.Errorf("count clicks: %w", err)
	}
	if total == 0 {
		return result, nil
	}
	result.TotalClicks = total

	byCountry, err := s.clicks.CountByCountry(ctx, shortCode)
	if err != nil {
		return nil, fmt.Errorf("clicks by country: %w", err)
	}

	byDate, err := s.clicks.CountByDate(ctx, shortCode)
	if err != nil {
		return nil, fmt.Errorf("clicks by date: %w", err)
	}

	recent, err := s.clicks.Recent(ctx, shortCode, RecentClicksLimit)
	if err != nil {
		return nil, fmt.Errorf("recent clicks: %w", err)
	}

	if byCountry != nil {
		result.ClicksByCountry = byCountry
	}
	if byDate != nil {
		result.ClicksByDate = byDate
	}
	if recent != nil {
		result.RecentClicks = recent
	}

	return result, nil
}

// GetTrending ранжирует короткие коды по числу кликов. Ранг сквозной между страницами.
func (s *analyticsService) GetTrending(ctx context.Context, page, pageSize int) (*models.TrendingPage, error) {
	page = NormalizePage(page)
	pageSize = ClampPageSize(pageSize)

	totalItems, err := s.clicks.CountShortCodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("count short codes: %w", err)
	}

	totalPages := TotalPages(totalItems, pageSize)
	skip := int64(page-1) * int64(pageSize)

	rows, err := s.clicks.TopShortCodes(ctx, skip, int64(pageSize))
	if err != nil {
		return nil, fmt.Errorf("top short codes: %w", err)
	}

	// Обогащение последовательно, по одному запросу на строку.
	// После истечения бюджета оставшиеся строки получают longUrl = null без запроса.
	enrichCtx, cancel := context.WithTimeout(ctx, s.enrichBudget)
	defer cancel()

	skipped := 0
	trending := lo.Map(rows, func(row models.CodeClicks, i int) models.TrendingItem {
		item := models.TrendingItem{
			ShortCode:   row.ShortCode,
			TotalClicks: row.TotalClicks,
			Rank:        skip + int64(i) + 1,
		}
		if row.ShortCode == nil {
			return item
		}
		if enrichCtx.Err() != nil {
			skipped++
			return item
		}
		item.LongURL = s.resolver.ResolveLongURL(enrichCtx, *row.ShortCode)
		return item
	})
	if skipped > 0 {
		s.logger.Warn("Enrichment budget exhausted, remaining long URLs left empty",
			zap.Duration("budget", s.enrichBudget),
			zap.Int("skipped", skipped),
		)
	}

	return &models.TrendingPage{
		Trending:   trending,
		Total:      totalItems,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
	}, nil
}

// NormalizePage приводит номер страницы к >= 1
func NormalizePage(page int) int {
	return max(page, 1)
}

// ClampPageSize ограничивает размер страницы диапазоном [1, MaxPageSize]
func ClampPageSize(pageSize int) int {
	return min(max(pageSize, 1), MaxPageSize)
}

// TotalPages = max(1, ceil(totalItems / pageSize))
func TotalPages(totalItems int64, pageSize int) int {
	size := int64(ClampPageSize(pageSize))
	pages := (totalItems + size - 1) / size
	if pages < 1 {
		return 1
	}
	return int(pages)
}

// ParsePagination разбирает параметры запроса trending.
// Пустое значение даёт значение по умолчанию; числовой pageSize вне диапазона ограничивается, а не отклоняется.
func ParsePagination(pageRaw, pageSizeRaw string) (int, int, error) {
	page, pageSize := DefaultPage, DefaultPageSize

	if pageRaw != "" {
		p, err := strconv.ParseInt(pageRaw, 10, 32)
		if err != nil || p < 1 {
			return 0, 0, fmt.Errorf("%w: %q", ErrInvalidPage, pageRaw)
		}
		page = int(p)
	}

	if pageSizeRaw != "" {
		// при переполнении ParseInt возвращает ближайшую границу, её и ограничиваем
		size, err := strconv.ParseInt(pageSizeRaw, 10, 32)
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return 0, 0, fmt.Errorf("%w: %q", ErrInvalidPageSize, pageSizeRaw)
		}
		pageSize = ClampPageSize(int(size))
	}

	return page, pageSize, nil
}
