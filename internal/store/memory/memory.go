package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"cajaflow/backend/internal/domain"
	"cajaflow/backend/internal/store"
	"cajaflow/backend/internal/xid"
)

// Store is an in-memory Repository used for dev mode and tests. A single
// mutex stands in for the datastore's transaction isolation: every commit
// validates all of its writes before applying any of them, so a failed
// commit leaves no partial state, matching the Postgres implementation.
type Store struct {
	mu            sync.RWMutex
	products      map[string]domain.Product
	stock         map[string]int
	ordersByID    map[string]*domain.Order
	idempotency   map[string]domain.IdempotencyRecord
	credits       map[string]domain.CustomerCredit
	creditEntries map[string][]domain.CreditEntry
	expensesByID  map[string]domain.Expense
	cashCutsByID  map[string]*domain.CashCut
	auditLogs     []domain.AuditLog
	users         map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory operator accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD; if
// unset, hardcoded dev defaults are used with a warning. The backend uses
// PostgreSQL when DATABASE_URL is set, so these never reach production.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	products := []domain.Product{
		{ID: "prod-americano", Name: "Cafe Americano", Category: "beverage", PriceCents: 4500, CostCents: 1400, Active: true},
		{ID: "prod-latte", Name: "Latte", Category: "beverage", PriceCents: 6000, CostCents: 2100, Active: true},
		{ID: "prod-espresso", Name: "Espresso Doble", Category: "beverage", PriceCents: 4000, CostCents: 1200, Active: true},
		{ID: "prod-sandwich", Name: "Sandwich de Jamon", Category: "food", PriceCents: 8500, CostCents: 3800, Active: true},
		{ID: "prod-croissant", Name: "Croissant", Category: "food", PriceCents: 5500, CostCents: 2300, Active: true},
		{ID: "prod-agua", Name: "Agua Embotellada", Category: "beverage", PriceCents: 2000, CostCents: 700, Active: true},
		{ID: "prod-refresco", Name: "Refresco", Category: "beverage", PriceCents: 2800, CostCents: 1100, Active: true},
		{ID: "prod-galletas", Name: "Galletas", Category: "snack", PriceCents: 3200, CostCents: 1300, Active: true},
	}

	productMap := make(map[string]domain.Product, len(products))
	stock := make(map[string]int, len(products))
	for _, p := range products {
		productMap[p.ID] = p
		stock[p.ID] = 100
	}

	credits := map[string]domain.CustomerCredit{
		"cust-ana":    {CustomerID: "cust-ana", BalanceCents: 0, LimitCents: 200000},
		"cust-bruno":  {CustomerID: "cust-bruno", BalanceCents: 50000, LimitCents: 150000},
		"cust-carla":  {CustomerID: "cust-carla", BalanceCents: 0, LimitCents: 100000},
		"cust-daniel": {CustomerID: "cust-daniel", BalanceCents: 80000, LimitCents: 100000},
	}

	return &Store{
		products:      productMap,
		stock:         stock,
		ordersByID:    make(map[string]*domain.Order),
		idempotency:   make(map[string]domain.IdempotencyRecord),
		credits:       credits,
		creditEntries: make(map[string][]domain.CreditEntry),
		expensesByID:  make(map[string]domain.Expense),
		cashCutsByID:  make(map[string]*domain.CashCut),
		auditLogs:     make([]domain.AuditLog, 0, 128),
		users:         seedUsers(),
	}
}

func (s *Store) CommitOrder(_ context.Context, order domain.Order, keyTTL time.Duration) (*domain.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if order.IdempotencyKey == "" || len(order.Items) == 0 {
		return nil, false, store.ErrInvalidOrder
	}

	now := time.Now().UTC()

	if rec, ok := s.idempotency[order.IdempotencyKey]; ok {
		if rec.ExpiresAt.After(now) {
			if rec.ResourceKind != domain.ResourceKindOrder {
				return nil, false, fmt.Errorf("%w: key guards a %s", store.ErrInvalidOrder, rec.ResourceKind)
			}
			existing, ok := s.ordersByID[rec.ResourceID]
			if !ok {
				return nil, false, store.ErrNotFound
			}
			duplicate := cloneOrder(existing)
			return &duplicate, true, nil
		}
		// Expired key: reclaim the slot and treat as first use.
		delete(s.idempotency, order.IdempotencyKey)
	}

	// Validate every write before applying any of them.
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
	for productID, qty := range needed {
		current, ok := s.stock[productID]
		if !ok {
			return nil, false, fmt.Errorf("%w: unknown product %s", store.ErrInvalidOrder, productID)
		}
		if current-qty < 0 {
			return nil, false, fmt.Errorf("%w: product %s", store.ErrInsufficientStock, productID)
		}
	}

	isCredit := order.PaymentMethod == domain.PaymentCredit && order.CustomerID != ""
	if isCredit {
		credit, ok := s.credits[order.CustomerID]
		if !ok {
			return nil, false, fmt.Errorf("%w: customer %s", store.ErrNotFound, order.CustomerID)
		}
		if credit.BalanceCents+order.TotalCents > credit.LimitCents {
			return nil, false, fmt.Errorf("%w: customer %s", store.ErrCreditLimitExceeded, order.CustomerID)
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

	for productID, qty := range needed {
		s.stock[productID] -= qty
	}
	if isCredit {
		credit := s.credits[order.CustomerID]
		credit.BalanceCents += order.TotalCents
		s.credits[order.CustomerID] = credit
		s.creditEntries[order.CustomerID] = append(s.creditEntries[order.CustomerID], domain.CreditEntry{
			ID:          xid.New("cred"),
			CustomerID:  order.CustomerID,
			OrderID:     order.ID,
			AmountCents: order.TotalCents,
			Type:        domain.CreditEntryCharge,
			Status:      domain.CreditEntryStatusPending,
			CreatedAt:   now,
		})
	}

	stored := cloneOrder(&order)
	s.ordersByID[order.ID] = &stored
	s.idempotency[order.IdempotencyKey] = domain.IdempotencyRecord{
		Key:          order.IdempotencyKey,
		ResourceKind: domain.ResourceKindOrder,
		ResourceID:   order.ID,
		CreatedAt:    now,
		ExpiresAt:    now.Add(keyTTL),
	}

	committed := cloneOrder(&order)
	return &committed, false, nil
}

func (s *Store) FindOrderByID(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.ordersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := cloneOrder(order)
	return &found, nil
}

func (s *Store) FindOrderByIdempotency(_ context.Context, key string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.idempotency[key]
	if !ok || rec.ResourceKind != domain.ResourceKindOrder || !rec.ExpiresAt.After(time.Now().UTC()) {
		return nil, store.ErrNotFound
	}
	order, ok := s.ordersByID[rec.ResourceID]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := cloneOrder(order)
	return &found, nil
}

func (s *Store) ListOrdersInPeriod(_ context.Context, start time.Time, end time.Time) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]domain.Order, 0, 64)
	for _, order := range s.ordersByID {
		if order.Status != domain.OrderStatusPaid {
			continue
		}
		if order.CreatedAt.Before(start) || !order.CreatedAt.Before(end) {
			continue
		}
		orders = append(orders, cloneOrder(order))
	}
	slices.SortFunc(orders, func(a, b domain.Order) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return orders, nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Category, b.Category)
	})
	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product, initialStock int) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" || product.Name == "" || product.PriceCents < 1 || initialStock < 0 {
		return nil, store.ErrInvalidOrder
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrInvalidOrder
	}

	product.Active = true
	s.products[product.ID] = product
	s.stock[product.ID] = initialStock
	created := product
	return &created, nil
}

func (s *Store) GetStock(_ context.Context, productID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	qty, ok := s.stock[productID]
	if !ok {
		return 0, store.ErrNotFound
	}
	return qty, nil
}

func (s *Store) SetStock(_ context.Context, productID string, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if productID == "" || qty < 0 {
		return store.ErrInvalidOrder
	}
	s.stock[productID] = qty
	return nil
}

func (s *Store) GetCustomerCredit(_ context.Context, customerID string) (*domain.CustomerCredit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	credit, ok := s.credits[customerID]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := credit
	return &found, nil
}

func (s *Store) UpsertCustomerCredit(_ context.Context, credit domain.CustomerCredit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if credit.CustomerID == "" || credit.LimitCents < 0 {
		return store.ErrInvalidOrder
	}
	s.credits[credit.CustomerID] = credit
	return nil
}

func (s *Store) ListCreditEntries(_ context.Context, customerID string, limit int) ([]domain.CreditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 50
	}
	entries := s.creditEntries[customerID]
	result := make([]domain.CreditEntry, len(entries))
	copy(result, entries)
	slices.SortFunc(result, func(a, b domain.CreditEntry) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateExpense(_ context.Context, expense domain.Expense) (*domain.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

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

	s.expensesByID[expense.ID] = expense
	created := expense
	return &created, nil
}

func (s *Store) ListExpensesInPeriod(_ context.Context, start time.Time, end time.Time) ([]domain.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expenses := make([]domain.Expense, 0, 32)
	for _, expense := range s.expensesByID {
		if !expense.Active || expense.Status != domain.ExpenseStatusPaid {
			continue
		}
		if expense.CreatedAt.Before(start) || !expense.CreatedAt.Before(end) {
			continue
		}
		expenses = append(expenses, expense)
	}
	slices.SortFunc(expenses, func(a, b domain.Expense) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return expenses, nil
}

func (s *Store) SaveCashCut(_ context.Context, cut domain.CashCut, keyTTL time.Duration) (*domain.CashCut, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cut.IdempotencyKey == "" {
		return nil, store.ErrInvalidOrder
	}

	now := time.Now().UTC()
	if rec, ok := s.idempotency[cut.IdempotencyKey]; ok && rec.ExpiresAt.After(now) {
		if rec.ResourceKind == domain.ResourceKindCashCut {
			if existing, ok := s.cashCutsByID[rec.ResourceID]; ok {
				found := cloneCashCut(existing)
				return &found, nil
			}
		}
		return nil, fmt.Errorf("%w: idempotency key already in use", store.ErrInvalidOrder)
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

	stored := cloneCashCut(&cut)
	s.cashCutsByID[cut.ID] = &stored
	s.idempotency[cut.IdempotencyKey] = domain.IdempotencyRecord{
		Key:          cut.IdempotencyKey,
		ResourceKind: domain.ResourceKindCashCut,
		ResourceID:   cut.ID,
		CreatedAt:    now,
		ExpiresAt:    now.Add(keyTTL),
	}

	created := cloneCashCut(&cut)
	return &created, nil
}

func (s *Store) FindCashCutByIdempotency(_ context.Context, key string) (*domain.CashCut, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.idempotency[key]
	if !ok || rec.ResourceKind != domain.ResourceKindCashCut || !rec.ExpiresAt.After(time.Now().UTC()) {
		return nil, store.ErrNotFound
	}
	cut, ok := s.cashCutsByID[rec.ResourceID]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := cloneCashCut(cut)
	return &found, nil
}

func (s *Store) ListRecentCashCuts(_ context.Context, limit int) ([]domain.CashCut, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 20
	}
	cuts := make([]domain.CashCut, 0, len(s.cashCutsByID))
	for _, cut := range s.cashCutsByID {
		cuts = append(cuts, cloneCashCut(cut))
	}
	slices.SortFunc(cuts, func(a, b domain.CashCut) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if len(cuts) > limit {
		cuts = cuts[:limit]
	}
	return cuts, nil
}

func (s *Store) SweepExpiredIdempotency(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, rec := range s.idempotency {
		if !rec.ExpiresAt.After(now) {
			delete(s.idempotency, key)
			removed++
		}
	}
	return removed, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}
	logs := make([]domain.AuditLog, 0, limit)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		logs = append(logs, entry)
		if len(logs) == limit {
			break
		}
	}
	return logs, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || user.Password == "" {
		return store.ErrInvalidOrder
	}
	if _, exists := s.users[username]; exists {
		return store.ErrInvalidOrder
	}
	user.Username = username
	s.users[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.users[username] = user
	return nil
}

func cloneOrder(order *domain.Order) domain.Order {
	clone := *order
	clone.Items = make([]domain.OrderLine, len(order.Items))
	copy(clone.Items, order.Items)
	return clone
}

func cloneCashCut(cut *domain.CashCut) domain.CashCut {
	clone := *cut
	clone.Stats.ByPayment = slices.Clone(cut.Stats.ByPayment)
	clone.Stats.ByService = slices.Clone(cut.Stats.ByService)
	clone.Stats.ExpensesByCategory = slices.Clone(cut.Stats.ExpensesByCategory)
	clone.Stats.TopProducts = slices.Clone(cut.Stats.TopProducts)
	clone.Stats.Hourly = slices.Clone(cut.Stats.Hourly)
	return clone
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}
