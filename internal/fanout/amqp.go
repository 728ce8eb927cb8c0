package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/beacon-signal-engine/internal/queue"
)

// AMQPSink publishes signals to a RabbitMQ topic exchange with routing key
// city.<slug>.  The connection is opened on first use and reopened after any
// failure; the bus worker is the only caller, so reconnects never race.
type AMQPSink struct {
	url         string
	exchange    string
	dialTimeout time.Duration

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPSink publishes to exchange on url.  dialTimeout bounds each
// (re)connect so a dead broker costs one event at most that long.
func NewAMQPSink(url, exchange string, dialTimeout time.Duration) *AMQPSink {
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	return &AMQPSink{url: url, exchange: exchange, dialTimeout: dialTimeout}
}

func (s *AMQPSink) Name() string { return "amqp" }

func (s *AMQPSink) Deliver(ctx context.Context, ev queue.SignalCreatedEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ch, err := s.channel()
	if err != nil {
		return err
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient, // live-only, no replay
		Timestamp:    time.Now().UTC(),
		Type:         ev.Type,
		MessageId:    ev.Post.ID,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, s.exchange, queue.RoutingKey(ev.City), false, false, pub); err != nil {
		s.reset()
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// channel returns the open channel, dialing if needed.  Caller holds mu.
func (s *AMQPSink) channel() (*amqp.Channel, error) {
	if s.ch != nil && !s.ch.IsClosed() {
		return s.ch, nil
	}
	s.reset()
	conn, err := amqp.DialConfig(s.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(s.dialTimeout),
	})
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("channel open: %w", err)
	}
	if err := queue.DeclareExchange(ch, s.exchange); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	s.conn, s.ch = conn, ch
	return ch, nil
}

func (s *AMQPSink) reset() {
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.conn, s.ch = nil, nil
}

// Close releases the connection.
func (s *AMQPSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}
