package models

import (
	"time"
)

// URLInfo ответ url-service на GET /urls/{shortCode}
type URLInfo struct {
	ShortCode string     `json:"shortCode"`
	LongURL   string     `json:"longUrl"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}
