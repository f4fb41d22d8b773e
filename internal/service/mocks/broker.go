package mocks

import (
	"errors"
	"sync"

	"github.com/SergeiKhy/click-analytics/internal/service"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Delivery outcomes recorded by FakeAcknowledger
const (
	OutcomeAck     = "ack"
	OutcomeRequeue = "requeue"
	OutcomeDrop    = "drop"
)

var ErrDialRefused = errors.New("dial tcp: connection refused")

// FakeAcknowledger records ack/nack decisions per delivery tag
type FakeAcknowledger struct {
	mu       sync.Mutex
	outcomes map[uint64]string
	notify   chan uint64
}

func NewFakeAcknowledger() *FakeAcknowledger {
	return &FakeAcknowledger{
		outcomes: make(map[uint64]string),
		notify:   make(chan uint64, 100),
	}
}

func (a *FakeAcknowledger) set(tag uint64, outcome string) {
	a.mu.Lock()
	a.outcomes[tag] = outcome
	a.mu.Unlock()
	select {
	case a.notify <- tag:
	default:
	}
}

func (a *FakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.set(tag, OutcomeAck)
	return nil
}

func (a *FakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	if requeue {
		a.set(tag, OutcomeRequeue)
	} else {
		a.set(tag, OutcomeDrop)
	}
	return nil
}

func (a *FakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

// Outcome returns the recorded decision for a tag ("" if none yet)
func (a *FakeAcknowledger) Outcome(tag uint64) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.outcomes[tag]
}

// FakeBroker stands in for RabbitMQ: it records topology declarations and
// hands every session the same delivery stream.
type FakeBroker struct {
	mu        sync.Mutex
	failDials int
	dials     int
	nextTag   uint64
	conns     []*FakeConnection

	Deliveries chan amqp.Delivery
	Acks       *FakeAcknowledger

	Exchange     string
	ExchangeKind string
	Queue        string
	RoutingKey   string
	Durable      bool
	Prefetch     int
	AutoAck      bool
}

// NewFakeBroker returns a broker whose first failDials dial attempts are refused
func NewFakeBroker(failDials int) *FakeBroker {
	return &FakeBroker{
		failDials:  failDials,
		Deliveries: make(chan amqp.Delivery, 100),
		Acks:       NewFakeAcknowledger(),
	}
}

func (b *FakeBroker) Dial(url string) (service.BrokerConnection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.dials++
	if b.dials <= b.failDials {
		return nil, ErrDialRefused
	}

	conn := &FakeConnection{broker: b}
	b.conns = append(b.conns, conn)
	return conn, nil
}

func (b *FakeBroker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// Publish enqueues a delivery and returns its tag
func (b *FakeBroker) Publish(body []byte, headers amqp.Table) uint64 {
	b.mu.Lock()
	b.nextTag++
	tag := b.nextTag
	b.mu.Unlock()

	b.Deliveries <- amqp.Delivery{
		Acknowledger: b.Acks,
		DeliveryTag:  tag,
		Headers:      headers,
		ContentType:  "application/json",
		Body:         body,
	}
	return tag
}

// DropConnection simulates the broker closing the latest connection
func (b *FakeBroker) DropConnection() {
	b.mu.Lock()
	var conn *FakeConnection
	if len(b.conns) > 0 {
		conn = b.conns[len(b.conns)-1]
	}
	b.mu.Unlock()

	if conn != nil {
		conn.fail(&amqp.Error{Code: amqp.ConnectionForced, Reason: "CONNECTION_FORCED - broker forced connection closure"})
	}
}

type FakeConnection struct {
	broker *FakeBroker

	mu        sync.Mutex
	closed    bool
	listeners []chan *amqp.Error
}

func (c *FakeConnection) Channel() (service.BrokerChannel, error) {
	return &FakeChannel{broker: c.broker}, nil
}

func (c *FakeConnection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		close(receiver)
		return receiver
	}
	c.listeners = append(c.listeners, receiver)
	return receiver
}

func (c *FakeConnection) fail(err *amqp.Error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	for _, l := range c.listeners {
		l <- err
		close(l)
	}
	c.listeners = nil
	c.closed = true
}

func (c *FakeConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return amqp.ErrClosed
	}
	for _, l := range c.listeners {
		close(l)
	}
	c.listeners = nil
	c.closed = true
	return nil
}

type FakeChannel struct {
	broker *FakeBroker
}

func (ch *FakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()
	ch.broker.Exchange = name
	ch.broker.ExchangeKind = kind
	ch.broker.Durable = durable
	return nil
}

func (ch *FakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()
	ch.broker.Queue = name
	ch.broker.Durable = ch.broker.Durable && durable
	return amqp.Queue{Name: name}, nil
}

func (ch *FakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()
	ch.broker.RoutingKey = key
	return nil
}

func (ch *FakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()
	ch.broker.Prefetch = prefetchCount
	return nil
}

func (ch *FakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()
	ch.broker.AutoAck = autoAck
	return ch.broker.Deliveries, nil
}

func (ch *FakeChannel) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	return receiver
}

func (ch *FakeChannel) Close() error {
	return nil
}

// Topology is a snapshot of what the consumer declared on the broker
type Topology struct {
	Exchange     string
	ExchangeKind string
	Queue        string
	RoutingKey   string
	Durable      bool
	Prefetch     int
	AutoAck      bool
}

func (b *FakeBroker) Topology() Topology {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Topology{
		Exchange:     b.Exchange,
		ExchangeKind: b.ExchangeKind,
		Queue:        b.Queue,
		RoutingKey:   b.RoutingKey,
		Durable:      b.Durable,
		Prefetch:     b.Prefetch,
		AutoAck:      b.AutoAck,
	}
}
