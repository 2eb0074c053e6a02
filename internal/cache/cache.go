package cache

import (
	"context"
	"time"

	"cajaflow/backend/internal/domain"
)

// OrderResponseCache is a fast-path lookup for committed order responses by
// idempotency key. It is an optimization in front of the durable idempotency
// store: a miss always falls through to the repository, and only successful
// commits are ever cached.
type OrderResponseCache interface {
	Get(ctx context.Context, key string) (*domain.OrderResponse, bool, error)
	Set(ctx context.Context, key string, value *domain.OrderResponse, ttl time.Duration) error
}

type NoopOrderResponseCache struct{}

func (NoopOrderResponseCache) Get(_ context.Context, _ string) (*domain.OrderResponse, bool, error) {
	return nil, false, nil
}

func (NoopOrderResponseCache) Set(_ context.Context, _ string, _ *domain.OrderResponse, _ time.Duration) error {
	return nil
}
