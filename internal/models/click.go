package models

import (
	"bytes"
	"encoding/json"
)

// DefaultCountry подставляется, когда отправитель не передал страну
const DefaultCountry = "unknown"

// ClickEvent документ коллекции click_events. После записи не изменяется.
type ClickEvent struct {
	ShortCode *string `bson:"short_code" json:"short_code"`
	Timestamp string  `bson:"timestamp" json:"timestamp"`
	IPAddress *string `bson:"ip_address" json:"ip_address"`
	UserAgent *string `bson:"user_agent" json:"user_agent"`
	Referrer  *string `bson:"referrer" json:"referrer"`
	Country   string  `bson:"country" json:"country"`
}

// ClickEventMessage тело сообщения из очереди click.events.queue
type ClickEventMessage struct {
	ShortCode *string `json:"shortCode"`
	Timestamp *string `json:"timestamp"`
	IPAddress *string `json:"ipAddress"`
	UserAgent *string `json:"userAgent"`
	Referrer  *string `json:"referrer"`
	Country   *string `json:"country"`
}

// UnmarshalJSON разбирает поля по отдельности: поле не строкового типа считается отсутствующим.
// Ошибку даёт только тело, которое не является JSON-объектом.
func (m *ClickEventMessage) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	*m = ClickEventMessage{
		ShortCode: stringField(fields["shortCode"]),
		Timestamp: stringField(fields["timestamp"]),
		IPAddress: stringField(fields["ipAddress"]),
		UserAgent: stringField(fields["userAgent"]),
		Referrer:  stringField(fields["referrer"]),
		Country:   stringField(fields["country"]),
	}
	return nil
}

func stringField(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	var v *string
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

// ToClickEvent применяет значения по умолчанию: country="unknown" если поле отсутствует или null, остальные поля nullable
func (m *ClickEventMessage) ToClickEvent() *ClickEvent {
	event := &ClickEvent{
		ShortCode: m.ShortCode,
		IPAddress: m.IPAddress,
		UserAgent: m.UserAgent,
		Referrer:  m.Referrer,
		Country:   DefaultCountry,
	}
	if m.Timestamp != nil {
		event.Timestamp = *m.Timestamp
	}
	if m.Country != nil {
		event.Country = *m.Country
	}
	return event
}

// RecentClick проекция события без _id и short_code
type RecentClick struct {
	Timestamp string  `bson:"timestamp" json:"timestamp"`
	IPAddress *string `bson:"ip_address" json:"ip_address"`
	UserAgent *string `bson:"user_agent" json:"user_agent"`
	Referrer  *string `bson:"referrer" json:"referrer"`
	Country   string  `bson:"country" json:"country"`
}

// CountBucket одна группа агрегации: ключ и количество кликов
type CountBucket struct {
	Key   string `bson:"_id" json:"key"`
	Count int64  `bson:"count" json:"count"`
}

// OrderedCounts сериализуется в JSON-объект с сохранением порядка групп
type OrderedCounts []CountBucket

func (o OrderedCounts) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, b := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(b.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		count, err := json.Marshal(b.Count)
		if err != nil {
			return nil, err
		}
		buf.Write(count)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ToMap для сравнения без учёта порядка
func (o OrderedCounts) ToMap() map[string]int64 {
	m := make(map[string]int64, len(o))
	for _, b := range o {
		m[b.Key] = b.Count
	}
	return m
}

// URLAnalytics ответ GET /api/v1/urls/:shortCode/analytics
type URLAnalytics struct {
	ShortCode       string        `json:"shortCode"`
	TotalClicks     int64         `json:"totalClicks"`
	ClicksByCountry OrderedCounts `json:"clicksByCountry"`
	ClicksByDate    OrderedCounts `json:"clicksByDate"`
	RecentClicks    []RecentClick `json:"recentClicks"`
}

// CodeClicks строка группировки по short_code
type CodeClicks struct {
	ShortCode   *string `bson:"_id" json:"shortCode"`
	TotalClicks int64   `bson:"totalClicks" json:"totalClicks"`
}

type TrendingItem struct {
	ShortCode   *string `json:"shortCode"`
	LongURL     *string `json:"longUrl"`
	TotalClicks int64   `json:"totalClicks"`
	Rank        int64   `json:"rank"`
}

// TrendingPage ответ GET /api/v1/trending
type TrendingPage struct {
	Trending   []TrendingItem `json:"trending"`
	Total      int64          `json:"total"`
	Page       int            `json:"page"`
	PageSize   int            `json:"pageSize"`
	TotalPages int            `json:"totalPages"`
	HasNext    bool           `json:"hasNext"`
	HasPrev    bool           `json:"hasPrev"`
}
