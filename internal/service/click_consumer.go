package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/SergeiKhy/click-analytics/internal/config"
	"github.com/SergeiKhy/click-analytics/internal/metrics"
	"github.com/SergeiKhy/click-analytics/internal/models"
	"github.com/SergeiKhy/click-analytics/internal/repository"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Топология RabbitMQ, общая с redirect-service
const (
	ClickExchange     = "url.shortener.exchange"
	ClickExchangeKind = "topic"
	ClickQueue        = "click.events.queue"
	ClickRoutingKey   = "click.event"
)

const (
	defaultPrefetch       = 10
	defaultReconnectDelay = 5 * time.Second
	persistTimeout        = 10 * time.Second
	deliveryCountHeader   = "x-delivery-count"
)

var (
	ErrMalformedEvent = errors.New("malformed click event")
	errSessionEnded   = errors.New("consumer session ended")
)

// BrokerConnection и BrokerChannel узкие интерфейсы над amqp091, подменяемые в тестах
type BrokerConnection interface {
	Channel() (BrokerChannel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

type BrokerChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

// Dialer открывает соединение с брокером
type Dialer func(url string) (BrokerConnection, error)

type amqpConnection struct {
	*amqp.Connection
}

func (c amqpConnection) Channel() (BrokerChannel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// DialAMQP реальный Dialer поверх amqp091-go
func DialAMQP(url string) (BrokerConnection, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: 60 * time.Second,
		Locale:    "en_US",
		Properties: amqp.Table{
			"connection_name": "analytics-service",
		},
	})
	if err != nil {
		return nil, err
	}
	return amqpConnection{conn}, nil
}

// ClickConsumer фоновый подписчик очереди кликов
type ClickConsumer interface {
	Start()
	Stop()
}

type ConsumerOption func(*clickConsumer)

func WithDialer(dial Dialer) ConsumerOption {
	return func(c *clickConsumer) {
		c.dial = dial
	}
}

// clickConsumer: DISCONNECTED -> CONNECTING -> CONSUMING -> (ошибка) DISCONNECTED, до остановки процесса
type clickConsumer struct {
	url             string
	prefetch        int
	reconnectDelay  time.Duration
	maxRedeliveries int

	clicks repository.ClickRepository
	dial   Dialer
	logger *zap.Logger

	startOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewClickConsumer(
	cfg config.RabbitMQConfig,
	clicks repository.ClickRepository,
	logger *zap.Logger,
	opts ...ConsumerOption,
) ClickConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &clickConsumer{
		url:             cfg.URL,
		prefetch:        cfg.Prefetch,
		reconnectDelay:  cfg.ReconnectDelay,
		maxRedeliveries: cfg.MaxRedeliveries,
		clicks:          clicks,
		dial:            DialAMQP,
		logger:          logger,
	}
	if c.prefetch <= 0 {
		c.prefetch = defaultPrefetch
	}
	if c.reconnectDelay <= 0 {
		c.reconnectDelay = defaultReconnectDelay
	}
	for _, opt := range opts {
		opt(c)
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c
}

// Start запускает цикл в отдельной горутине и сразу возвращается. Повторные вызовы ничего не делают.
func (c *clickConsumer) Start() {
	c.startOnce.Do(func() {
		c.wg.Add(1)
		go c.run()
	})
}

// Stop прерывает текущую сессию и ждёт завершения цикла
func (c *clickConsumer) Stop() {
	c.logger.Info("Stopping click consumer...")
	c.cancel()
	c.wg.Wait()
	c.logger.Info("Click consumer stopped")
}

func (c *clickConsumer) run() {
	defer c.wg.Done()

	// Постоянная задержка без ограничения числа попыток: консьюмер не сдаётся
	policy := backoff.WithContext(backoff.NewConstantBackOff(c.reconnectDelay), c.ctx)

	operation := func() error {
		err := c.session(c.ctx)
		if c.ctx.Err() != nil {
			return backoff.Permanent(c.ctx.Err())
		}
		if err == nil {
			err = errSessionEnded
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		metrics.ConsumerReconnectsTotal.Inc()
		c.logger.Error("RabbitMQ consumer error - reconnecting",
			zap.Error(err),
			zap.Duration("retry_in", wait),
		)
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Error("Click consumer loop exited", zap.Error(err))
	}
}

// session одна попытка CONNECTING + CONSUMING. Возвращается при любой ошибке соединения или канала.
func (c *clickConsumer) session(ctx context.Context) error {
	c.logger.Info("Connecting to RabbitMQ")

	conn, err := c.dial(c.url)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(ClickExchange, ClickExchangeKind, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(ClickQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(ClickQueue, ClickRoutingKey, ClickExchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}

	tag := "analytics-" + uuid.NewString()
	deliveries, err := ch.Consume(ClickQueue, tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))

	metrics.ConsumerConnected.Set(1)
	defer metrics.ConsumerConnected.Set(0)

	c.logger.Info("Analytics consumer started - waiting for click events",
		zap.String("queue", ClickQueue),
		zap.String("consumer_tag", tag),
		zap.Int("prefetch", c.prefetch),
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr := <-connClosed:
			return fmt.Errorf("connection closed: %v", amqpErr)
		case amqpErr := <-chClosed:
			return fmt.Errorf("channel closed: %v", amqpErr)
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery stream closed")
			}
			c.handleDelivery(ctx, d)
		}
	}
}

// handleDelivery: ack после успешной записи, иначе nack с возвратом в очередь
func (c *clickConsumer) handleDelivery(ctx context.Context, d amqp.Delivery) {
	event, err := DecodeClickEvent(d.Body)
	if err != nil {
		c.logger.Warn("Failed to decode click event", zap.Uint64("delivery_tag", d.DeliveryTag), zap.Error(err))
		c.reject(d)
		return
	}

	persistCtx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()

	if err := c.clicks.Insert(persistCtx, event); err != nil {
		c.logger.Error("Failed to store click event",
			zap.Stringp("short_code", event.ShortCode),
			zap.Error(err),
		)
		c.reject(d)
		return
	}

	if err := d.Ack(false); err != nil {
		c.logger.Warn("Failed to ack click event", zap.Uint64("delivery_tag", d.DeliveryTag), zap.Error(err))
		return
	}
	metrics.ClickEventsTotal.WithLabelValues("ack").Inc()
	c.logger.Debug("Stored click event", zap.Stringp("short_code", event.ShortCode))
}

func (c *clickConsumer) reject(d amqp.Delivery) {
	requeue := true
	if c.maxRedeliveries > 0 && deliveryCount(d) >= int64(c.maxRedeliveries) {
		requeue = false
	}

	if err := d.Nack(false, requeue); err != nil {
		c.logger.Warn("Failed to nack click event", zap.Uint64("delivery_tag", d.DeliveryTag), zap.Error(err))
		return
	}

	if requeue {
		metrics.ClickEventsTotal.WithLabelValues("requeue").Inc()
		return
	}
	metrics.ClickEventsTotal.WithLabelValues("drop").Inc()
	c.logger.Warn("Click event dropped after max redeliveries",
		zap.Uint64("delivery_tag", d.DeliveryTag),
		zap.Int("max_redeliveries", c.maxRedeliveries),
	)
}

// deliveryCount читает x-delivery-count (quorum-очереди). Для классических очередей 0.
func deliveryCount(d amqp.Delivery) int64 {
	switch v := d.Headers[deliveryCountHeader].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	case int16:
		return int64(v)
	case int8:
		return int64(v)
	default:
		return 0
	}
}

// DecodeClickEvent разбирает тело сообщения в типизированное событие.
// Тело обязано быть JSON-объектом; отсутствующие поля получают значения по умолчанию.
func DecodeClickEvent(body []byte) (*models.ClickEvent, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: body is not a JSON object", ErrMalformedEvent)
	}

	var msg models.ClickEventMessage
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	return msg.ToClickEvent(), nil
}
