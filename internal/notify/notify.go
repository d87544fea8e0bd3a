// Package notify delivers customer-facing order updates.
package notify

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Event is emitted for timeline entries flagged for the customer.
type Event struct {
	OrderID   string    `json:"order_id"`
	BuyerID   string    `json:"buyer_id,omitempty"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"`
	ItemID    string    `json:"item_id,omitempty"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

type Noop struct{}

func (Noop) Notify(context.Context, Event) error { return nil }

// LogNotifier writes events to the application log.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, event Event) error {
	n.logger.Info("customer notification",
		zap.String("order_id", event.OrderID),
		zap.String("buyer_id", event.BuyerID),
		zap.String("kind", event.Kind),
		zap.String("status", event.Status),
		zap.String("item_id", event.ItemID),
		zap.String("note", event.Note),
	)
	return nil
}

// RedisNotifier publishes events as JSON on a pub/sub channel for the
// messaging worker.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	if channel == "" {
		channel = "marketplace:order-events"
	}
	return &RedisNotifier{client: client, channel: channel}
}

func (n *RedisNotifier) Notify(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, n.channel, payload).Err()
}
