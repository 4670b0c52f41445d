package rabbit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const publishTimeout = 2 * time.Second

// Publisher is the part of *amqp.Channel the mirror uses.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type message struct {
	key     string
	name    string
	payload []byte
}

// Mirror copies every routed notification to a topic exchange. Mirror never
// blocks the caller: messages are queued and published by Run, and dropped
// when the queue is full.
type Mirror struct {
	ch       Publisher
	exchange string
	log      *slog.Logger
	queue    chan message
}

func NewMirror(ch Publisher, exchange string, queueSize int, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Mirror{ch: ch, exchange: exchange, log: logger, queue: make(chan message, queueSize)}
}

// Dial opens a connection and channel and declares the durable topic exchange.
// The returned closer releases both.
func Dial(url, exchange string, logger *slog.Logger) (*Mirror, io.Closer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rabbit: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("declare exchange: %w", err)
	}
	return NewMirror(ch, exchange, 0, logger), conn, nil
}

// RoutingKey is event.<eventId>.<notification-name>.
func RoutingKey(eventID, name string) string {
	return "event." + eventID + "." + name
}

func (m *Mirror) Mirror(eventID, name string, payload []byte) {
	select {
	case m.queue <- message{key: RoutingKey(eventID, name), name: name, payload: payload}:
	default:
		m.log.Warn("mirror queue full, dropping", "event", eventID, "notification", name)
	}
}

// Run publishes queued messages in order until ctx is done.
func (m *Mirror) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-m.queue:
			m.publish(ctx, msg)
		}
	}
}

func (m *Mirror) publish(ctx context.Context, msg message) {
	pctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	err := m.ch.PublishWithContext(pctx, m.exchange, msg.key, false, false, amqp.Publishing{
		ContentType: "application/json",
		Type:        msg.name,
		Timestamp:   time.Now(),
		Body:        msg.payload,
	})
	if err != nil {
		m.log.Warn("mirror publish failed", "key", msg.key, "error", err)
	}
}
