package store

import (
	"context"
	"errors"
	"time"

	"cajaflow/backend/internal/domain"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidOrder        = errors.New("invalid order")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrCreditLimitExceeded = errors.New("credit limit exceeded")
)

// Repository is the single transactional datastore behind the ledger.
// CommitOrder and SaveCashCut are atomic units: they perform the idempotency
// lookup, the guarded writes, and the key recording inside one transaction,
// rolling everything back on failure. A failed attempt records no key, so a
// retry with the same key can succeed once the underlying issue is resolved.
type Repository interface {
	// CommitOrder runs the full order pipeline. The returned bool is true
	// when the idempotency key matched an existing unexpired order and no
	// writes were performed.
	CommitOrder(ctx context.Context, order domain.Order, keyTTL time.Duration) (*domain.Order, bool, error)
	FindOrderByID(ctx context.Context, id string) (*domain.Order, error)
	FindOrderByIdempotency(ctx context.Context, key string) (*domain.Order, error)
	ListOrdersInPeriod(ctx context.Context, start time.Time, end time.Time) ([]domain.Order, error)

	ListProducts(ctx context.Context) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product, initialStock int) (*domain.Product, error)
	GetStock(ctx context.Context, productID string) (int, error)
	SetStock(ctx context.Context, productID string, qty int) error

	GetCustomerCredit(ctx context.Context, customerID string) (*domain.CustomerCredit, error)
	UpsertCustomerCredit(ctx context.Context, credit domain.CustomerCredit) error
	ListCreditEntries(ctx context.Context, customerID string, limit int) ([]domain.CreditEntry, error)

	CreateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error)
	ListExpensesInPeriod(ctx context.Context, start time.Time, end time.Time) ([]domain.Expense, error)

	// SaveCashCut persists the cut and its idempotency key atomically. If the
	// key already guards a cut, the existing cut is returned unchanged.
	SaveCashCut(ctx context.Context, cut domain.CashCut, keyTTL time.Duration) (*domain.CashCut, error)
	FindCashCutByIdempotency(ctx context.Context, key string) (*domain.CashCut, error)
	ListRecentCashCuts(ctx context.Context, limit int) ([]domain.CashCut, error)

	// SweepExpiredIdempotency deletes keys whose TTL elapsed before now and
	// reports how many were removed.
	SweepExpiredIdempotency(ctx context.Context, now time.Time) (int, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
