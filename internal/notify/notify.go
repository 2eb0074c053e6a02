package notify

import (
	"context"

	"cajaflow/backend/internal/domain"
)

// Notifier is the downstream broadcast sink. Publishing is fire-and-forget:
// a failed notification must never affect the outcome of the guarded
// operation, so callers log returned errors and move on.
type Notifier interface {
	OrderCommitted(ctx context.Context, order domain.Order) error
	CashCutCompleted(ctx context.Context, cut domain.CashCut) error
}

type NoopNotifier struct{}

func (NoopNotifier) OrderCommitted(_ context.Context, _ domain.Order) error { return nil }

func (NoopNotifier) CashCutCompleted(_ context.Context, _ domain.CashCut) error { return nil }
