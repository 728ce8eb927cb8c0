package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "log/slog"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
)

// Handler receives each decoded event.  It must not block for long: the
// consumer delivers sequentially.
type Handler func(ev SignalCreatedEvent)

// StartSignalConsumer connects to RabbitMQ, binds a private queue to every
// city on exchange and passes events to handle.  Each replica gets its own
// exclusive, auto-deleted queue so every replica sees every signal.  The
// function runs a reconnect loop with exponential backoff and returns only
// when ctx is cancelled.
func StartSignalConsumer(ctx context.Context, url, exchange string, handle Handler) error {
    log := slog.Default().With("component", "signal-consumer")
    backoff := time.Second
    for {
        if ctx.Err() != nil {
            return ctx.Err()
        }
        conn, err := amqp.Dial(url)
        if err != nil {
            log.Warn("failed to dial broker", "error", err, "retry_in", backoff)
            if !sleep(ctx, backoff) {
                return ctx.Err()
            }
            if backoff < 30*time.Second {
                backoff *= 2
            }
            continue
        }
        backoff = time.Second // reset after successful connect

        err = consumeLoop(ctx, conn, exchange, handle, log)
        _ = conn.Close()
        if ctx.Err() != nil {
            return ctx.Err()
        }
        log.Warn("consume loop ended, reconnecting", "error", err)
        if !sleep(ctx, 2*time.Second) {
            return ctx.Err()
        }
    }
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, exchange string, handle Handler, log *slog.Logger) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if err := ch.Qos(100, 0, false); err != nil {
        log.Warn("set QoS failed", "error", err)
    }
    if err := DeclareExchange(ch, exchange); err != nil {
        return err
    }
    q, err := ch.QueueDeclare("", false, true, true, false, nil)
    if err != nil {
        return fmt.Errorf("queue declare: %w", err)
    }
    if err := ch.QueueBind(q.Name, "city.*", exchange, false, nil); err != nil {
        return fmt.Errorf("queue bind: %w", err)
    }
    msgs, err := ch.Consume(q.Name, "", false, true, false, false, nil)
    if err != nil {
        return fmt.Errorf("queue consume: %w", err)
    }
    log.Info("consuming signals", "exchange", exchange, "queue", q.Name)

    for {
        select {
        case <-ctx.Done():
            return ctx.Err()
        case d, ok := <-msgs:
            if !ok {
                return errors.New("deliveries channel closed")
            }
            if err := handleMessage(d.Body, handle); err != nil {
                log.Warn("handle message failed", "error", err)
                _ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
                continue
            }
            _ = d.Ack(false)
        }
    }
}

func handleMessage(body []byte, handle Handler) error {
    var ev SignalCreatedEvent
    if err := json.Unmarshal(body, &ev); err != nil {
        return fmt.Errorf("unmarshal: %w", err)
    }
    if ev.Type != EventSignalCreated || ev.Post.ID == "" {
        return fmt.Errorf("unexpected event type %q", ev.Type)
    }
    handle(ev)
    return nil
}

// DeclareExchange declares the durable topic exchange signals are routed
// through.  Publishers and consumers both call it; the declaration is
// idempotent.
func DeclareExchange(ch *amqp.Channel, exchange string) error {
    if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
        return fmt.Errorf("exchange declare: %w", err)
    }
    return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return false
    case <-t.C:
        return true
    }
}
