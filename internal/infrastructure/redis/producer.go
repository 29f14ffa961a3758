package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	PaymentCompletedStream = "orders:payment_completed"
	NotificationStream     = "notifications:admin"
	DLQStream              = "disbursements:dlq"

	// Streams are trimmed approximately to this many entries on write.
	streamMaxLen = 100_000
)

// PaymentCompleted is the trigger for one disbursement run.
type PaymentCompleted struct {
	MessageID string
	OrderID   string
	Source    string
	Timestamp int64
}

func (e PaymentCompleted) values() map[string]any {
	return map[string]any{
		"order_id":  e.OrderID,
		"source":    e.Source,
		"timestamp": e.Timestamp,
	}
}

// ParsePaymentCompleted decodes a stream message into a trigger. Only the
// order ID is required.
func ParsePaymentCompleted(msg redis.XMessage) (PaymentCompleted, error) {
	evt := PaymentCompleted{MessageID: msg.ID}
	evt.OrderID, _ = msg.Values["order_id"].(string)
	if evt.OrderID == "" {
		return PaymentCompleted{}, fmt.Errorf("message %s has no order_id", msg.ID)
	}
	evt.Source, _ = msg.Values["source"].(string)
	if raw, ok := msg.Values["timestamp"].(string); ok {
		evt.Timestamp, _ = strconv.ParseInt(raw, 10, 64)
	}
	return evt, nil
}

// StreamProducer appends to the service's Redis streams.
type StreamProducer struct {
	client *redis.Client
	now    func() time.Time
}

func NewStreamProducer(client *redis.Client) *StreamProducer {
	return &StreamProducer{client: client, now: time.Now}
}

// PublishPaymentCompleted enqueues a disbursement trigger and returns its
// stream ID.
func (p *StreamProducer) PublishPaymentCompleted(ctx context.Context, orderID, source string) (string, error) {
	evt := PaymentCompleted{OrderID: orderID, Source: source, Timestamp: p.now().Unix()}
	id, err := p.add(ctx, PaymentCompletedStream, evt.values())
	if err != nil {
		return "", fmt.Errorf("publish payment completed for order %s: %w", orderID, err)
	}
	return id, nil
}

// PublishEvent relays an outbox event to the admin notification stream.
func (p *StreamProducer) PublishEvent(ctx context.Context, aggregateID, eventType string, data map[string]any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	_, err = p.add(ctx, NotificationStream, map[string]any{
		"order_id":   aggregateID,
		"event_type": eventType,
		"payload":    payload,
		"timestamp":  p.now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}

// PublishToDLQ parks a trigger that can never be processed, keeping its
// original fields for inspection.
func (p *StreamProducer) PublishToDLQ(ctx context.Context, orderID, reason string, original map[string]any) error {
	payload, err := json.Marshal(original)
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}
	_, err = p.add(ctx, DLQStream, map[string]any{
		"order_id":  orderID,
		"reason":    reason,
		"payload":   payload,
		"timestamp": p.now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("publish dead letter: %w", err)
	}
	return nil
}

func (p *StreamProducer) add(ctx context.Context, stream string, values map[string]any) (string, error) {
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: values,
	}).Result()
}
