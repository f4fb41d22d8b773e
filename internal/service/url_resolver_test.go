package service_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SergeiKhy/click-analytics/internal/config"
	"github.com/SergeiKhy/click-analytics/internal/service"
	"github.com/SergeiKhy/click-analytics/internal/service/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// urlService поднимает фейковый url-service, отвечающий заданным статусом и телом
func urlService(t *testing.T, status int, body string, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		if r.URL.Path != "/api/v1/urls/abc1234" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newResolver(baseURL string, timeout time.Duration) service.URLResolver {
	logger, _ := zap.NewDevelopment()
	return service.NewURLResolver(config.URLServiceConfig{BaseURL: baseURL, Timeout: timeout}, logger)
}

func TestURLResolver_ResolveLongURL(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   *string
	}{
		{"found", http.StatusOK, `{"shortCode":"abc1234","longUrl":"https://example.com/page","createdAt":"2024-01-15T10:00:00Z"}`, strp("https://example.com/page")},
		{"not found", http.StatusNotFound, `{"error":"not_found"}`, nil},
		{"gone", http.StatusGone, `{"error":"expired"}`, nil},
		{"server error", http.StatusInternalServerError, `oops`, nil},
		{"bad body", http.StatusOK, `<html>`, nil},
		{"missing longUrl", http.StatusOK, `{"shortCode":"abc1234"}`, nil},
		{"empty longUrl", http.StatusOK, `{"longUrl":""}`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := urlService(t, tt.status, tt.body, nil)
			resolver := newResolver(srv.URL+"/api/v1", time.Second)

			got := resolver.ResolveLongURL(context.Background(), "abc1234")

			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tt.want, *got)
		})
	}
}

func TestURLResolver_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	resolver := newResolver(srv.URL, 50*time.Millisecond)

	start := time.Now()
	got := resolver.ResolveLongURL(context.Background(), "abc1234")

	assert.Nil(t, got)
	assert.Less(t, time.Since(start), time.Second, "lookup must be bounded by the timeout")
}

func TestURLResolver_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	baseURL := srv.URL
	srv.Close()

	resolver := newResolver(baseURL, time.Second)

	assert.Nil(t, resolver.ResolveLongURL(context.Background(), "abc1234"))
}

func TestURLResolver_EscapesShortCode(t *testing.T) {
	var path atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path.Store(r.URL.EscapedPath())
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	resolver := newResolver(srv.URL, time.Second)
	assert.Nil(t, resolver.ResolveLongURL(context.Background(), "a/b c"))
	assert.Equal(t, "/urls/a%2Fb%20c", path.Load())
}

func TestCachedURLResolver(t *testing.T) {
	var hits int32
	srv := urlService(t, http.StatusOK, `{"longUrl":"https://example.com"}`, &hits)
	cache := mocks.NewMockURLCacheRepository()
	resolver := service.NewCachedURLResolver(newResolver(srv.URL+"/api/v1", time.Second), cache, time.Minute, nil)

	first := resolver.ResolveLongURL(context.Background(), "abc1234")
	second := resolver.ResolveLongURL(context.Background(), "abc1234")

	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, "https://example.com", *second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "second lookup served from cache")

	cached, err := cache.Get(context.Background(), "abc1234")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", cached)
}

func TestCachedURLResolver_FailuresNotCached(t *testing.T) {
	var hits int32
	srv := urlService(t, http.StatusOK, `{"longUrl":"https://example.com"}`, &hits)
	cache := mocks.NewMockURLCacheRepository()
	resolver := service.NewCachedURLResolver(newResolver(srv.URL+"/api/v1", time.Second), cache, time.Minute, nil)

	assert.Nil(t, resolver.ResolveLongURL(context.Background(), "missing"))
	assert.Nil(t, resolver.ResolveLongURL(context.Background(), "missing"))

	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
	_, err := cache.Get(context.Background(), "missing")
	assert.Error(t, err)
}
