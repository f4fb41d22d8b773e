package service_test

import (
	"errors"
	"testing"
	"time"

	"github.com/SergeiKhy/click-analytics/internal/config"
	"github.com/SergeiKhy/click-analytics/internal/models"
	"github.com/SergeiKhy/click-analytics/internal/service"
	"github.com/SergeiKhy/click-analytics/internal/service/mocks"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// setupConsumer запускает консьюмер поверх фейкового брокера с короткой задержкой переподключения
func setupConsumer(t *testing.T, broker *mocks.FakeBroker, cfg config.RabbitMQConfig) (service.ClickConsumer, *mocks.MockClickRepository) {
	t.Helper()

	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = 10 * time.Millisecond
	}
	repo := mocks.NewMockClickRepository()
	logger, _ := zap.NewDevelopment()

	consumer := service.NewClickConsumer(cfg, repo, logger, service.WithDialer(broker.Dial))
	t.Cleanup(consumer.Stop)
	return consumer, repo
}

func waitOutcome(t *testing.T, broker *mocks.FakeBroker, tag uint64, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return broker.Acks.Outcome(tag) != ""
	}, waitFor, tick, "delivery %d was never acked or nacked", tag)
	assert.Equal(t, want, broker.Acks.Outcome(tag))
}

func TestClickConsumer_DeclaresTopology(t *testing.T) {
	broker := mocks.NewFakeBroker(0)
	consumer, _ := setupConsumer(t, broker, config.RabbitMQConfig{})

	consumer.Start()

	require.Eventually(t, func() bool { return broker.Topology().Queue != "" }, waitFor, tick)
	require.Eventually(t, func() bool { return broker.Topology().Prefetch != 0 }, waitFor, tick)

	topology := broker.Topology()
	assert.Equal(t, "url.shortener.exchange", topology.Exchange)
	assert.Equal(t, "topic", topology.ExchangeKind)
	assert.Equal(t, "click.events.queue", topology.Queue)
	assert.Equal(t, "click.event", topology.RoutingKey)
	assert.True(t, topology.Durable)
	assert.Equal(t, 10, topology.Prefetch)
	assert.False(t, topology.AutoAck, "manual acknowledgement expected")
}

func TestClickConsumer_ConfiguredPrefetch(t *testing.T) {
	broker := mocks.NewFakeBroker(0)
	consumer, _ := setupConsumer(t, broker, config.RabbitMQConfig{Prefetch: 3})

	consumer.Start()

	require.Eventually(t, func() bool { return broker.Topology().Prefetch == 3 }, waitFor, tick)
}

func TestClickConsumer_StoresAndAcks(t *testing.T) {
	broker := mocks.NewFakeBroker(0)
	consumer, repo := setupConsumer(t, broker, config.RabbitMQConfig{})
	consumer.Start()

	tag := broker.Publish([]byte(`{"shortCode":"abc1234","timestamp":"2024-01-15T10:00:00Z","ipAddress":"1.2.3.4","userAgent":"curl/8.0","referrer":null}`), nil)

	waitOutcome(t, broker, tag, mocks.OutcomeAck)

	events := repo.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "abc1234", *events[0].ShortCode)
	assert.Equal(t, "2024-01-15T10:00:00Z", events[0].Timestamp)
	assert.Equal(t, "curl/8.0", *events[0].UserAgent)
	assert.Nil(t, events[0].Referrer)
	assert.Equal(t, models.DefaultCountry, events[0].Country)
}

func TestClickConsumer_DuplicatesStoredTwice(t *testing.T) {
	broker := mocks.NewFakeBroker(0)
	consumer, repo := setupConsumer(t, broker, config.RabbitMQConfig{})
	consumer.Start()

	body := []byte(`{"shortCode":"abc1234","timestamp":"2024-01-15T10:00:00Z","country":"US"}`)
	first := broker.Publish(body, nil)
	second := broker.Publish(body, nil)

	waitOutcome(t, broker, first, mocks.OutcomeAck)
	waitOutcome(t, broker, second, mocks.OutcomeAck)
	assert.Len(t, repo.Events(), 2)
}

func TestClickConsumer_MalformedBodyRequeued(t *testing.T) {
	bodies := map[string]string{
		"not json":   `{{not json`,
		"json null":  `null`,
		"json array": `[1,2,3]`,
		"empty":      ``,
	}

	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			broker := mocks.NewFakeBroker(0)
			consumer, repo := setupConsumer(t, broker, config.RabbitMQConfig{})
			consumer.Start()

			tag := broker.Publish([]byte(body), nil)

			waitOutcome(t, broker, tag, mocks.OutcomeRequeue)
			assert.Zero(t, repo.Calls("Insert"), "nothing persisted for an undecodable body")
			assert.Empty(t, repo.Events())
		})
	}
}

func TestClickConsumer_PersistFailureRequeued(t *testing.T) {
	broker := mocks.NewFakeBroker(0)
	consumer, repo := setupConsumer(t, broker, config.RabbitMQConfig{})
	repo.InsertErr = errors.New("write concern timeout")
	consumer.Start()

	tag := broker.Publish([]byte(`{"shortCode":"abc1234","timestamp":"2024-01-15T10:00:00Z"}`), nil)

	waitOutcome(t, broker, tag, mocks.OutcomeRequeue)
	assert.Equal(t, 1, repo.Calls("Insert"))
}

func TestClickConsumer_MaxRedeliveries(t *testing.T) {
	broker := mocks.NewFakeBroker(0)
	consumer, _ := setupConsumer(t, broker, config.RabbitMQConfig{MaxRedeliveries: 3})
	consumer.Start()

	early := broker.Publish([]byte(`garbage`), amqp.Table{"x-delivery-count": int64(1)})
	exhausted := broker.Publish([]byte(`garbage`), amqp.Table{"x-delivery-count": int64(3)})
	noHeader := broker.Publish([]byte(`garbage`), nil)

	waitOutcome(t, broker, early, mocks.OutcomeRequeue)
	waitOutcome(t, broker, exhausted, mocks.OutcomeDrop)
	waitOutcome(t, broker, noHeader, mocks.OutcomeRequeue)
}

func TestClickConsumer_UnlimitedRedeliveriesByDefault(t *testing.T) {
	broker := mocks.NewFakeBroker(0)
	consumer, _ := setupConsumer(t, broker, config.RabbitMQConfig{})
	consumer.Start()

	tag := broker.Publish([]byte(`garbage`), amqp.Table{"x-delivery-count": int64(500)})

	waitOutcome(t, broker, tag, mocks.OutcomeRequeue)
}

func TestClickConsumer_RetriesDialUntilBrokerIsUp(t *testing.T) {
	broker := mocks.NewFakeBroker(3)
	consumer, repo := setupConsumer(t, broker, config.RabbitMQConfig{})

	tag := broker.Publish([]byte(`{"shortCode":"abc1234","timestamp":"2024-01-15T10:00:00Z"}`), nil)
	consumer.Start()

	waitOutcome(t, broker, tag, mocks.OutcomeAck)
	assert.Equal(t, 4, broker.Dials())
	assert.Len(t, repo.Events(), 1)
}

func TestClickConsumer_ReconnectsAfterConnectionLoss(t *testing.T) {
	broker := mocks.NewFakeBroker(0)
	consumer, repo := setupConsumer(t, broker, config.RabbitMQConfig{})
	consumer.Start()

	first := broker.Publish([]byte(`{"shortCode":"a","timestamp":"2024-01-15T10:00:00Z"}`), nil)
	waitOutcome(t, broker, first, mocks.OutcomeAck)
	require.Equal(t, 1, broker.Dials())

	broker.DropConnection()
	require.Eventually(t, func() bool { return broker.Dials() == 2 }, waitFor, tick)

	second := broker.Publish([]byte(`{"shortCode":"b","timestamp":"2024-01-15T11:00:00Z"}`), nil)
	waitOutcome(t, broker, second, mocks.OutcomeAck)
	assert.Len(t, repo.Events(), 2)
}

func TestClickConsumer_StartIsIdempotent(t *testing.T) {
	broker := mocks.NewFakeBroker(0)
	consumer, _ := setupConsumer(t, broker, config.RabbitMQConfig{})

	consumer.Start()
	consumer.Start()
	consumer.Start()

	tag := broker.Publish([]byte(`{"shortCode":"abc1234","timestamp":"2024-01-15T10:00:00Z"}`), nil)
	waitOutcome(t, broker, tag, mocks.OutcomeAck)

	// один цикл - одно соединение
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, broker.Dials())
}

func TestClickConsumer_StopEndsLoop(t *testing.T) {
	broker := mocks.NewFakeBroker(1000)
	repo := mocks.NewMockClickRepository()
	consumer := service.NewClickConsumer(config.RabbitMQConfig{ReconnectDelay: 5 * time.Millisecond}, repo, nil, service.WithDialer(broker.Dial))

	consumer.Start()
	require.Eventually(t, func() bool { return broker.Dials() >= 2 }, waitFor, tick)

	done := make(chan struct{})
	go func() {
		consumer.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("Stop did not return")
	}

	dials := broker.Dials()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, dials, broker.Dials(), "no dial attempts after Stop")
}

func TestClickConsumer_StopWithoutStart(t *testing.T) {
	consumer := service.NewClickConsumer(config.RabbitMQConfig{}, mocks.NewMockClickRepository(), nil)
	assert.NotPanics(t, consumer.Stop)
}

func TestDecodeClickEvent(t *testing.T) {
	tests := []struct {
		name          string
		body          string
		wantShortCode *string
		wantTimestamp string
		wantIP        *string
		wantCountry   string
	}{
		{"all fields", `{"shortCode":"abc1234","timestamp":"2024-01-15T10:00:00Z","ipAddress":"1.2.3.4","country":"US"}`, strp("abc1234"), "2024-01-15T10:00:00Z", strp("1.2.3.4"), "US"},
		{"surrounding whitespace, null country", ` {"shortCode":"abc1234","timestamp":"2024-01-15T10:00:00Z","country":null} `, strp("abc1234"), "2024-01-15T10:00:00Z", nil, "unknown"},
		{"empty object", `{}`, nil, "", nil, "unknown"},
		{"numeric timestamp", `{"shortCode":"abc","timestamp":1700000000,"country":"US"}`, strp("abc"), "", nil, "US"},
		{"numeric ip address", `{"shortCode":"abc","ipAddress":123}`, strp("abc"), "", nil, "unknown"},
		{"numeric country", `{"shortCode":"abc","country":7}`, strp("abc"), "", nil, "unknown"},
		{"numeric short code", `{"shortCode":42,"country":"DE"}`, nil, "", nil, "DE"},
		{"object and array fields", `{"shortCode":{"v":1},"referrer":["x"],"userAgent":true,"country":"FR"}`, nil, "", nil, "FR"},
		{"empty country kept", `{"shortCode":"abc","country":""}`, strp("abc"), "", nil, ""},
		{"unknown fields ignored", `{"shortCode":"abc","extra":{"nested":[1,2]}}`, strp("abc"), "", nil, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := service.DecodeClickEvent([]byte(tt.body))
			require.NoError(t, err)

			assert.Equal(t, tt.wantShortCode, event.ShortCode)
			assert.Equal(t, tt.wantTimestamp, event.Timestamp)
			assert.Equal(t, tt.wantIP, event.IPAddress)
			assert.Equal(t, tt.wantCountry, event.Country)
		})
	}
}

func TestDecodeClickEvent_NotAnObject(t *testing.T) {
	for _, body := range []string{``, `   `, `null`, `"abc"`, `42`, `[]`, `[{"shortCode":"abc"}]`, `{"shortCode":`, `{{not json`} {
		_, err := service.DecodeClickEvent([]byte(body))
		assert.ErrorIs(t, err, service.ErrMalformedEvent, "body %q", body)
	}
}

// TestClickConsumer_WrongTypedFieldStored проверяет, что поле неверного типа не отправляет сообщение в бесконечный requeue
func TestClickConsumer_WrongTypedFieldStored(t *testing.T) {
	broker := mocks.NewFakeBroker(0)
	consumer, repo := setupConsumer(t, broker, config.RabbitMQConfig{})
	consumer.Start()

	tag := broker.Publish([]byte(`{"shortCode":"abc1234","timestamp":1700000000,"country":"US"}`), nil)

	waitOutcome(t, broker, tag, mocks.OutcomeAck)
	events := repo.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "abc1234", *events[0].ShortCode)
	assert.Empty(t, events[0].Timestamp)
	assert.Equal(t, "US", events[0].Country)
}
