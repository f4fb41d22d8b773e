package handler

import (
	"net/http"
	"time"

	"github.com/SergeiKhy/click-analytics/internal/config"
)

// queryBudget запас на агрегации и запись ответа сверх бюджета обогащения
const queryBudget = 30 * time.Second

// NewServer создаёт HTTP-сервер, чей WriteTimeout не короче самого долгого ответа trending
func NewServer(port string, router http.Handler, urls config.URLServiceConfig) *http.Server {
	return &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: urls.Budget + queryBudget,
		IdleTimeout:  60 * time.Second,
	}
}
