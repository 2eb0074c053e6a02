package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"cajaflow/backend/internal/domain"
	"cajaflow/backend/internal/store"
	"cajaflow/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// CommitOrder runs the whole order pipeline in one serializable transaction:
// idempotency lookup, credit limit check, order insert, key recording, stock
// decrement, and credit ledger update. Any failure rolls back all of it, so a
// failed attempt leaves no key behind and the same key can be retried.
func (s *Store) CommitOrder(ctx context.Context, order domain.Order, keyTTL time.Duration) (*domain.Order, bool, error) {
	if order.IdempotencyKey == "" || len(order.Items) == 0 {
		return nil, false, store.ErrInvalidOrder
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = pgTx.Rollback() }()

	now := time.Now().UTC()

	var existingKind string
	var existingResource string
	var expiresAt time.Time
	err = pgTx.QueryRowContext(ctx, `
		SELECT resource_kind, resource_id, expires_at
		FROM idempotency_keys
		WHERE key = $1
		FOR UPDATE
	`, order.IdempotencyKey).Scan(&existingKind, &existingResource, &expiresAt)
	switch {
	case err == nil:
		if expiresAt.UTC().After(now) {
			if existingKind != domain.ResourceKindOrder {
				return nil, false, fmt.Errorf("%w: key guards a %s", store.ErrInvalidOrder, existingKind)
			}
			existing, lookupErr := s.FindOrderByID(ctx, existingResource)
			if lookupErr != nil {
				return nil, false, lookupErr
			}
			return existing, true, nil
		}
		// Expired key: the slot is reclaimed inside the same transaction so a
		// concurrent retry still serializes on the row lock.
		if _, err := pgTx.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE key = $1`, order.IdempotencyKey); err != nil {
			return nil, false, err
		}
	case errors.Is(err, sql.ErrNoRows):
		// First use of this key.
	default:
		return nil, false, err
	}

	needed := make(map[string]int, len(order.Items))
	for _, item := range order.Items {
		if item.Qty < 1 {
			return nil, false, store.ErrInvalidOrder
		}
		if !domain.IsStockTracked(item.ProductID) {
			continue
		}
		needed[item.ProductID] += item.Qty
	}

	isCredit := order.PaymentMethod == domain.PaymentCredit && order.CustomerID != ""
	if isCredit {
		var balanceCents, limitCents int64
		err = pgTx.QueryRowContext(ctx, `
			SELECT balance_cents, limit_cents
			FROM customer_credits
			WHERE customer_id = $1
			FOR UPDATE
		`, order.CustomerID).Scan(&balanceCents, &limitCents)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, false, fmt.Errorf("%w: customer %s", store.ErrNotFound, order.CustomerID)
			}
			return nil, false, err
		}
		if balanceCents+order.TotalCents > limitCents {
			return nil, false, fmt.Errorf("%w: customer %s", store.ErrCreditLimitExceeded, order.CustomerID)
		}
	}

	for _, productID := range sortedKeys(needed) {
		qty := needed[productID]
		var remaining int
		err = pgTx.QueryRowContext(ctx, `
			UPDATE inventory_stocks
			SET qty = qty - $1, updated_at = now()
			WHERE product_id = $2
			RETURNING qty
		`, qty, productID).Scan(&remaining)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, false, fmt.Errorf("%w: unknown product %s", store.ErrInvalidOrder, productID)
			}
			return nil, false, err
		}
		if remaining < 0 {
			return nil, false, fmt.Errorf("%w: product %s", store.ErrInsufficientStock, productID)
		}
	}

	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.Status == "" {
		order.Status = domain.OrderStatusPaid
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO orders (
			id, client_name, service_type, payment_method, subtotal_cents,
			discount_cents, tip_cents, total_cents, user_id, customer_id,
			idempotency_key, status, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, order.ID, order.ClientName, order.ServiceType, order.PaymentMethod, order.SubtotalCents,
		order.DiscountCents, order.TipCents, order.TotalCents, order.UserID, nullIfEmpty(order.CustomerID),
		order.IdempotencyKey, order.Status, order.CreatedAt)
	if err != nil {
		return nil, false, err
	}

	for _, item := range order.Items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, product_id, name, qty, unit_price_cents, unit_cost_cents)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, order.ID, item.ProductID, item.Name, item.Qty, item.UnitPriceCents, item.UnitCostCents)
		if err != nil {
			return nil, false, err
		}
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO idempotency_keys (key, resource_kind, resource_id, created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5)
	`, order.IdempotencyKey, domain.ResourceKindOrder, order.ID, now, now.Add(keyTTL))
	if err != nil {
		if isUniqueViolation(err) {
			// A concurrent commit with the same key won the race. Abandon this
			// transaction and surface the winner's order as the duplicate.
			_ = pgTx.Rollback()
			existing, lookupErr := s.FindOrderByIdempotency(ctx, order.IdempotencyKey)
			if lookupErr == nil {
				return existing, true, nil
			}
		}
		return nil, false, err
	}

	if isCredit {
		_, err = pgTx.ExecContext(ctx, `
			UPDATE customer_credits
			SET balance_cents = balance_cents + $1, updated_at = now()
			WHERE customer_id = $2
		`, order.TotalCents, order.CustomerID)
		if err != nil {
			return nil, false, err
		}

		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO credit_entries (id, customer_id, order_id, amount_cents, type, status, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, xid.New("cred"), order.CustomerID, order.ID, order.TotalCents,
			domain.CreditEntryCharge, domain.CreditEntryStatusPending, now)
		if err != nil {
			return nil, false, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, false, err
	}

	committed := order
	return &committed, false, nil
}

func (s *Store) FindOrderByID(ctx context.Context, id string) (*domain.Order, error) {
	return s.findOrder(ctx, "id", id)
}

func (s *Store) FindOrderByIdempotency(ctx context.Context, key string) (*domain.Order, error) {
	var resourceID string
	err := s.db.QueryRowContext(ctx, `
		SELECT resource_id
		FROM idempotency_keys
		WHERE key = $1 AND resource_kind = $2 AND expires_at > now()
	`, key, domain.ResourceKindOrder).Scan(&resourceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return s.findOrder(ctx, "id", resourceID)
}

func (s *Store) findOrder(ctx context.Context, column string, value string) (*domain.Order, error) {
	if column != "id" && column != "idempotency_key" {
		return nil, fmt.Errorf("unsupported lookup column")
	}

	var order domain.Order
	var customerID sql.NullString

	query := fmt.Sprintf(`
		SELECT id, client_name, service_type, payment_method, subtotal_cents,
			discount_cents, tip_cents, total_cents, user_id, customer_id,
			idempotency_key, status, created_at
		FROM orders
		WHERE %s = $1
	`, column)

	err := s.db.QueryRowContext(ctx, query, value).Scan(
		&order.ID,
		&order.ClientName,
		&order.ServiceType,
		&order.PaymentMethod,
		&order.SubtotalCents,
		&order.DiscountCents,
		&order.TipCents,
		&order.TotalCents,
		&order.UserID,
		&customerID,
		&order.IdempotencyKey,
		&order.Status,
		&order.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if customerID.Valid {
		order.CustomerID = customerID.String
	}
	order.CreatedAt = order.CreatedAt.UTC()

	items, err := s.loadOrderItems(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return &order, nil
}

func (s *Store) loadOrderItems(ctx context.Context, orderID string) ([]domain.OrderLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, name, qty, unit_price_cents, unit_cost_cents
		FROM order_items
		WHERE order_id = $1
		ORDER BY id ASC
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.OrderLine, 0, 8)
	for rows.Next() {
		var item domain.OrderLine
		if err := rows.Scan(&item.ProductID, &item.Name, &item.Qty, &item.UnitPriceCents, &item.UnitCostCents); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListOrdersInPeriod(ctx context.Context, start time.Time, end time.Time) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, client_name, service_type, payment_method, subtotal_cents,
			discount_cents, tip_cents, total_cents, user_id, customer_id,
			idempotency_key, status, created_at
		FROM orders
		WHERE status = $1
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at ASC, id ASC
	`, domain.OrderStatusPaid, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, 64)
	orderIDs := make([]string, 0, 64)
	for rows.Next() {
		var order domain.Order
		var customerID sql.NullString
		if err := rows.Scan(
			&order.ID, &order.ClientName, &order.ServiceType, &order.PaymentMethod,
			&order.SubtotalCents, &order.DiscountCents, &order.TipCents, &order.TotalCents,
			&order.UserID, &customerID, &order.IdempotencyKey, &order.Status, &order.CreatedAt,
		); err != nil {
			return nil, err
		}
		if customerID.Valid {
			order.CustomerID = customerID.String
		}
		order.CreatedAt = order.CreatedAt.UTC()
		orders = append(orders, order)
		orderIDs = append(orderIDs, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return orders, nil
	}

	itemRows, err := s.db.QueryContext(ctx, `
		SELECT order_id, product_id, name, qty, unit_price_cents, unit_cost_cents
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY id ASC
	`, orderIDs)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()

	itemsByOrder := make(map[string][]domain.OrderLine, len(orders))
	for itemRows.Next() {
		var orderID string
		var item domain.OrderLine
		if err := itemRows.Scan(&orderID, &item.ProductID, &item.Name, &item.Qty, &item.UnitPriceCents, &item.UnitCostCents); err != nil {
			return nil, err
		}
		itemsByOrder[orderID] = append(itemsByOrder[orderID], item)
	}
	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		orders[i].Items = itemsByOrder[orders[i].ID]
	}
	return orders, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, price_cents, cost_cents, active
		FROM products
		WHERE active = true
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.PriceCents, &p.CostCents, &p.Active); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product, initialStock int) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.PriceCents < 1 || initialStock < 0 {
		return nil, store.ErrInvalidOrder
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	product.Active = true
	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO products (id, name, category, price_cents, cost_cents, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now(),now())
	`, product.ID, product.Name, product.Category, product.PriceCents, product.CostCents, product.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidOrder
		}
		return nil, err
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO inventory_stocks (product_id, qty, updated_at)
		VALUES ($1,$2,now())
		ON CONFLICT (product_id)
		DO UPDATE SET qty = EXCLUDED.qty, updated_at = now()
	`, product.ID, initialStock)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetStock(ctx context.Context, productID string) (int, error) {
	var qty int
	err := s.db.QueryRowContext(ctx, `
		SELECT qty
		FROM inventory_stocks
		WHERE product_id = $1
	`, productID).Scan(&qty)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, err
	}
	return qty, nil
}

func (s *Store) SetStock(ctx context.Context, productID string, qty int) error {
	if productID == "" || qty < 0 {
		return store.ErrInvalidOrder
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_stocks (product_id, qty, updated_at)
		VALUES ($1,$2,now())
		ON CONFLICT (product_id)
		DO UPDATE SET qty = EXCLUDED.qty, updated_at = now()
	`, productID, qty)
	return err
}

func (s *Store) GetCustomerCredit(ctx context.Context, customerID string) (*domain.CustomerCredit, error) {
	var credit domain.CustomerCredit
	err := s.db.QueryRowContext(ctx, `
		SELECT customer_id, balance_cents, limit_cents
		FROM customer_credits
		WHERE customer_id = $1
	`, customerID).Scan(&credit.CustomerID, &credit.BalanceCents, &credit.LimitCents)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &credit, nil
}

func (s *Store) UpsertCustomerCredit(ctx context.Context, credit domain.CustomerCredit) error {
	if credit.CustomerID == "" || credit.LimitCents < 0 {
		return store.ErrInvalidOrder
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customer_credits (customer_id, balance_cents, limit_cents, updated_at)
		VALUES ($1,$2,$3,now())
		ON CONFLICT (customer_id)
		DO UPDATE SET balance_cents = EXCLUDED.balance_cents, limit_cents = EXCLUDED.limit_cents, updated_at = now()
	`, credit.CustomerID, credit.BalanceCents, credit.LimitCents)
	return err
}

func (s *Store) ListCreditEntries(ctx context.Context, customerID string, limit int) ([]domain.CreditEntry, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, order_id, amount_cents, type, status, created_at
		FROM credit_entries
		WHERE customer_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, customerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.CreditEntry, 0, limit)
	for rows.Next() {
		var entry domain.CreditEntry
		if err := rows.Scan(&entry.ID, &entry.CustomerID, &entry.OrderID, &entry.AmountCents, &entry.Type, &entry.Status, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) CreateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error) {
	if expense.Category == "" || expense.AmountCents < 1 {
		return nil, store.ErrInvalidOrder
	}
	if expense.ID == "" {
		expense.ID = xid.New("exp")
	}
	if expense.CreatedAt.IsZero() {
		expense.CreatedAt = time.Now().UTC()
	}
	if expense.Status == "" {
		expense.Status = domain.ExpenseStatusPaid
	}
	expense.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO expenses (id, category, description, amount_cents, status, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, expense.ID, expense.Category, expense.Description, expense.AmountCents, expense.Status, expense.Active, expense.CreatedAt)
	if err != nil {
		return nil, err
	}

	created := expense
	return &created, nil
}

func (s *Store) ListExpensesInPeriod(ctx context.Context, start time.Time, end time.Time) ([]domain.Expense, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category, description, amount_cents, status, active, created_at
		FROM expenses
		WHERE active = true
			AND status = $1
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at ASC, id ASC
	`, domain.ExpenseStatusPaid, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	expenses := make([]domain.Expense, 0, 32)
	for rows.Next() {
		var expense domain.Expense
		if err := rows.Scan(&expense.ID, &expense.Category, &expense.Description, &expense.AmountCents, &expense.Status, &expense.Active, &expense.CreatedAt); err != nil {
			return nil, err
		}
		expense.CreatedAt = expense.CreatedAt.UTC()
		expenses = append(expenses, expense)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return expenses, nil
}

// SaveCashCut persists the cut record and its idempotency key in one
// serializable transaction. Stats are stored as a JSONB snapshot; cut rows
// are never updated after insert.
func (s *Store) SaveCashCut(ctx context.Context, cut domain.CashCut, keyTTL time.Duration) (*domain.CashCut, error) {
	if cut.IdempotencyKey == "" {
		return nil, store.ErrInvalidOrder
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	now := time.Now().UTC()

	var existingKind string
	var existingResource string
	var expiresAt time.Time
	err = pgTx.QueryRowContext(ctx, `
		SELECT resource_kind, resource_id, expires_at
		FROM idempotency_keys
		WHERE key = $1
		FOR UPDATE
	`, cut.IdempotencyKey).Scan(&existingKind, &existingResource, &expiresAt)
	switch {
	case err == nil:
		if expiresAt.UTC().After(now) {
			if existingKind == domain.ResourceKindCashCut {
				return s.findCashCutByID(ctx, existingResource)
			}
			return nil, fmt.Errorf("%w: idempotency key already in use", store.ErrInvalidOrder)
		}
		if _, err := pgTx.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE key = $1`, cut.IdempotencyKey); err != nil {
			return nil, err
		}
	case errors.Is(err, sql.ErrNoRows):
	default:
		return nil, err
	}

	if cut.ID == "" {
		cut.ID = xid.New("cut")
	}
	if cut.CreatedAt.IsZero() {
		cut.CreatedAt = now
	}
	if cut.Status == "" {
		cut.Status = domain.CutStatusCompleted
	}

	statsJSON, err := json.Marshal(cut.Stats)
	if err != nil {
		return nil, err
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO cash_cuts (
			id, period_start, period_end, type, stats, notes,
			created_by, idempotency_key, status, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, cut.ID, cut.PeriodStart, cut.PeriodEnd, cut.Type, statsJSON, cut.Notes,
		cut.CreatedBy, cut.IdempotencyKey, cut.Status, cut.CreatedAt)
	if err != nil {
		return nil, err
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO idempotency_keys (key, resource_kind, resource_id, created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5)
	`, cut.IdempotencyKey, domain.ResourceKindCashCut, cut.ID, now, now.Add(keyTTL))
	if err != nil {
		if isUniqueViolation(err) {
			_ = pgTx.Rollback()
			existing, lookupErr := s.FindCashCutByIdempotency(ctx, cut.IdempotencyKey)
			if lookupErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	created := cut
	return &created, nil
}

func (s *Store) FindCashCutByIdempotency(ctx context.Context, key string) (*domain.CashCut, error) {
	var resourceID string
	err := s.db.QueryRowContext(ctx, `
		SELECT resource_id
		FROM idempotency_keys
		WHERE key = $1 AND resource_kind = $2 AND expires_at > now()
	`, key, domain.ResourceKindCashCut).Scan(&resourceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return s.findCashCutByID(ctx, resourceID)
}

func (s *Store) findCashCutByID(ctx context.Context, id string) (*domain.CashCut, error) {
	var cut domain.CashCut
	var statsJSON []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, period_start, period_end, type, stats, notes,
			created_by, idempotency_key, status, created_at
		FROM cash_cuts
		WHERE id = $1
	`, id).Scan(
		&cut.ID,
		&cut.PeriodStart,
		&cut.PeriodEnd,
		&cut.Type,
		&statsJSON,
		&cut.Notes,
		&cut.CreatedBy,
		&cut.IdempotencyKey,
		&cut.Status,
		&cut.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(statsJSON, &cut.Stats); err != nil {
		return nil, err
	}
	cut.PeriodStart = cut.PeriodStart.UTC()
	cut.PeriodEnd = cut.PeriodEnd.UTC()
	cut.CreatedAt = cut.CreatedAt.UTC()
	return &cut, nil
}

func (s *Store) ListRecentCashCuts(ctx context.Context, limit int) ([]domain.CashCut, error) {
	if limit < 1 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, period_start, period_end, type, stats, notes,
			created_by, idempotency_key, status, created_at
		FROM cash_cuts
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cuts := make([]domain.CashCut, 0, limit)
	for rows.Next() {
		var cut domain.CashCut
		var statsJSON []byte
		if err := rows.Scan(
			&cut.ID, &cut.PeriodStart, &cut.PeriodEnd, &cut.Type, &statsJSON, &cut.Notes,
			&cut.CreatedBy, &cut.IdempotencyKey, &cut.Status, &cut.CreatedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(statsJSON, &cut.Stats); err != nil {
			return nil, err
		}
		cut.PeriodStart = cut.PeriodStart.UTC()
		cut.PeriodEnd = cut.PeriodEnd.UTC()
		cut.CreatedAt = cut.CreatedAt.UTC()
		cuts = append(cuts, cut)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return cuts, nil
}

func (s *Store) SweepExpiredIdempotency(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM idempotency_keys
		WHERE expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1
			AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidOrder
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidOrder
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidOrder
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
