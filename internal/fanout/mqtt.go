package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/iliyamo/beacon-signal-engine/internal/queue"
)

// MQTTSink pushes signals to devices subscribed to <prefix>/<city-slug>.
type MQTTSink struct {
	client mqtt.Client
	prefix string
}

// NewMQTTSink connects to broker.  paho reconnects on its own after the
// initial connection succeeds.
func NewMQTTSink(broker, clientID, prefix string, timeout time.Duration) (*MQTTSink, error) {
	opts := mqtt.NewClientOptions().AddBroker(broker).SetClientID(clientID)
	opts = opts.SetOrderMatters(false).SetAutoReconnect(true).SetConnectTimeout(timeout)

	client := mqtt.NewClient(opts)
	if tok := client.Connect(); !tok.WaitTimeout(timeout) {
		return nil, errors.New("mqtt connect timed out")
	} else if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return &MQTTSink{client: client, prefix: prefix}, nil
}

func (s *MQTTSink) Name() string { return "mqtt" }

// Topic is the topic a city's signals are published on.
func (s *MQTTSink) Topic(city string) string { return s.prefix + "/" + queue.CitySlug(city) }

func (s *MQTTSink) Deliver(ctx context.Context, ev queue.SignalCreatedEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	tok := s.client.Publish(s.Topic(ev.City), 0, false, data)
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close disconnects, waiting up to 250ms for in-flight work.
func (s *MQTTSink) Close() { s.client.Disconnect(250) }
