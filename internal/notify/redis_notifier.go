package notify

import (
	"context"
	"encoding/json"

	redis "github.com/redis/go-redis/v9"

	"cajaflow/backend/internal/domain"
)

const (
	channelOrders   = "cajaflow.orders.committed"
	channelCashCuts = "cajaflow.cashcuts.completed"
)

// RedisNotifier publishes committed orders and completed cash cuts to Redis
// pub/sub channels for receipt printers, dashboards, and other listeners.
type RedisNotifier struct {
	client *redis.Client
}

func NewRedisNotifier(addr string, password string, db int) *RedisNotifier {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisNotifier{client: client}
}

func (n *RedisNotifier) Ping(ctx context.Context) error {
	return n.client.Ping(ctx).Err()
}

func (n *RedisNotifier) Close() error {
	return n.client.Close()
}

func (n *RedisNotifier) OrderCommitted(ctx context.Context, order domain.Order) error {
	return n.publish(ctx, channelOrders, order)
}

func (n *RedisNotifier) CashCutCompleted(ctx context.Context, cut domain.CashCut) error {
	return n.publish(ctx, channelCashCuts, cut)
}

func (n *RedisNotifier) publish(ctx context.Context, channel string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, channel, raw).Err()
}
