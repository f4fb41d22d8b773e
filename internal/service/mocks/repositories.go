package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/SergeiKhy/click-analytics/internal/models"
	"github.com/SergeiKhy/click-analytics/internal/repository"
)

// MockClickRepository implements repository.ClickRepository in memory.
// Aggregations follow the same ordering rules as the MongoDB pipelines.
type MockClickRepository struct {
	mu     sync.RWMutex
	events []models.ClickEvent
	calls  map[string]int

	InsertErr    error
	AggregateErr error
}

func NewMockClickRepository() *MockClickRepository {
	return &MockClickRepository{calls: make(map[string]int)}
}

func (m *MockClickRepository) record(method string) {
	m.calls[method]++
}

// Calls returns how many times a repository method was invoked
func (m *MockClickRepository) Calls(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[method]
}

// Events returns a copy of the stored events
func (m *MockClickRepository) Events() []models.ClickEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ClickEvent, len(m.events))
	copy(out, m.events)
	return out
}

func (m *MockClickRepository) Insert(ctx context.Context, event *models.ClickEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Insert")

	if m.InsertErr != nil {
		return m.InsertErr
	}
	m.events = append(m.events, *event)
	return nil
}

func (m *MockClickRepository) CountByShortCode(ctx context.Context, shortCode string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("CountByShortCode")

	if m.AggregateErr != nil {
		return 0, m.AggregateErr
	}
	return int64(len(m.matching(shortCode))), nil
}

func (m *MockClickRepository) CountByCountry(ctx context.Context, shortCode string) (models.OrderedCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("CountByCountry")

	if m.AggregateErr != nil {
		return nil, m.AggregateErr
	}

	buckets := group(m.matching(shortCode), func(e models.ClickEvent) string { return e.Country })
	sort.SliceStable(buckets, func(i, j int) bool {
		if buckets[i].Count != buckets[j].Count {
			return buckets[i].Count > buckets[j].Count
		}
		return buckets[i].Key < buckets[j].Key
	})
	return buckets, nil
}

func (m *MockClickRepository) CountByDate(ctx context.Context, shortCode string) (models.OrderedCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("CountByDate")

	if m.AggregateErr != nil {
		return nil, m.AggregateErr
	}

	buckets := group(m.matching(shortCode), func(e models.ClickEvent) string {
		if len(e.Timestamp) < 10 {
			return e.Timestamp
		}
		return e.Timestamp[:10]
	})
	sort.SliceStable(buckets, func(i, j int) bool { return buckets[i].Key < buckets[j].Key })
	return buckets, nil
}

func (m *MockClickRepository) Recent(ctx context.Context, shortCode string, limit int64) ([]models.RecentClick, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Recent")

	if m.AggregateErr != nil {
		return nil, m.AggregateErr
	}

	matching := m.matching(shortCode)
	sort.SliceStable(matching, func(i, j int) bool { return matching[i].Timestamp > matching[j].Timestamp })
	if int64(len(matching)) > limit {
		matching = matching[:limit]
	}

	recent := make([]models.RecentClick, 0, len(matching))
	for _, e := range matching {
		recent = append(recent, models.RecentClick{
			Timestamp: e.Timestamp,
			IPAddress: e.IPAddress,
			UserAgent: e.UserAgent,
			Referrer:  e.Referrer,
			Country:   e.Country,
		})
	}
	return recent, nil
}

func (m *MockClickRepository) CountShortCodes(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("CountShortCodes")

	if m.AggregateErr != nil {
		return 0, m.AggregateErr
	}
	return int64(len(m.ranking())), nil
}

func (m *MockClickRepository) TopShortCodes(ctx context.Context, skip, limit int64) ([]models.CodeClicks, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("TopShortCodes")

	if m.AggregateErr != nil {
		return nil, m.AggregateErr
	}

	ranking := m.ranking()
	if skip >= int64(len(ranking)) {
		return []models.CodeClicks{}, nil
	}
	end := min(skip+limit, int64(len(ranking)))
	return ranking[skip:end], nil
}

func (m *MockClickRepository) matching(shortCode string) []models.ClickEvent {
	var out []models.ClickEvent
	for _, e := range m.events {
		if e.ShortCode != nil && *e.ShortCode == shortCode {
			out = append(out, e)
		}
	}
	return out
}

// ranking groups by short code (nil codes form one group), totalClicks desc, code asc
func (m *MockClickRepository) ranking() []models.CodeClicks {
	counts := make(map[string]int64)
	var nullCount int64
	for _, e := range m.events {
		if e.ShortCode == nil {
			nullCount++
			continue
		}
		counts[*e.ShortCode]++
	}

	rows := make([]models.CodeClicks, 0, len(counts)+1)
	for code, total := range counts {
		code := code
		rows = append(rows, models.CodeClicks{ShortCode: &code, TotalClicks: total})
	}
	if nullCount > 0 {
		rows = append(rows, models.CodeClicks{TotalClicks: nullCount})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].TotalClicks != rows[j].TotalClicks {
			return rows[i].TotalClicks > rows[j].TotalClicks
		}
		if rows[i].ShortCode == nil || rows[j].ShortCode == nil {
			return rows[i].ShortCode == nil
		}
		return *rows[i].ShortCode < *rows[j].ShortCode
	})
	return rows
}

func group(events []models.ClickEvent, key func(models.ClickEvent) string) models.OrderedCounts {
	index := make(map[string]int)
	var buckets models.OrderedCounts
	for _, e := range events {
		k := key(e)
		if i, ok := index[k]; ok {
			buckets[i].Count++
			continue
		}
		index[k] = len(buckets)
		buckets = append(buckets, models.CountBucket{Key: k, Count: 1})
	}
	return buckets
}

func (m *MockClickRepository) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
	m.calls = make(map[string]int)
}

// MockURLResolver implements service.URLResolver with a fixed table
type MockURLResolver struct {
	mu    sync.Mutex
	urls  map[string]string
	calls []string
}

func NewMockURLResolver(urls map[string]string) *MockURLResolver {
	if urls == nil {
		urls = make(map[string]string)
	}
	return &MockURLResolver{urls: urls}
}

func (m *MockURLResolver) ResolveLongURL(ctx context.Context, shortCode string) *string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, shortCode)

	longURL, ok := m.urls[shortCode]
	if !ok {
		return nil
	}
	return &longURL
}

// Calls returns short codes in the order they were resolved
func (m *MockURLResolver) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// MockURLCacheRepository implements repository.URLCacheRepository for testing
type MockURLCacheRepository struct {
	mu    sync.RWMutex
	cache map[string]string
}

func NewMockURLCacheRepository() *MockURLCacheRepository {
	return &MockURLCacheRepository{cache: make(map[string]string)}
}

func (m *MockURLCacheRepository) Get(ctx context.Context, shortCode string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	longURL, ok := m.cache[shortCode]
	if !ok {
		return "", repository.ErrCacheMiss
	}
	return longURL, nil
}

func (m *MockURLCacheRepository) Set(ctx context.Context, shortCode, longURL string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[shortCode] = longURL
	return nil
}
