package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"cajaflow/backend/internal/cache"
	"cajaflow/backend/internal/domain"
	"cajaflow/backend/internal/metrics"
	"cajaflow/backend/internal/notify"
	"cajaflow/backend/internal/store"
	"cajaflow/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Service owns the order commit pipeline and the catalog, expense, and
// credit operations around it. All durable writes go through the repository;
// the cache and notifier are best-effort side channels.
type Service struct {
	repo     store.Repository
	cache    cache.OrderResponseCache
	notifier notify.Notifier
	metrics  *metrics.Registry
	keyTTL   time.Duration
}

func New(repo store.Repository, responseCache cache.OrderResponseCache, notifier notify.Notifier, reg *metrics.Registry, keyTTL time.Duration) *Service {
	if responseCache == nil {
		responseCache = cache.NoopOrderResponseCache{}
	}
	if notifier == nil {
		notifier = notify.NoopNotifier{}
	}
	if keyTTL <= 0 {
		keyTTL = 24 * time.Hour
	}

	return &Service{
		repo:     repo,
		cache:    responseCache,
		notifier: notifier,
		metrics:  reg,
		keyTTL:   keyTTL,
	}
}

// CommitOrder validates the request and hands the order to the repository,
// which runs the whole pipeline in one transaction. The Redis fast path only
// short-circuits replays whose response is already cached; the repository
// remains the source of truth for idempotency.
func (s *Service) CommitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResponse, error) {
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = xid.New("idem")
	}

	if err := validateOrderRequest(req); err != nil {
		if s.metrics != nil {
			s.metrics.OrdersRejected.Inc()
		}
		return domain.OrderResponse{}, err
	}

	if cached, ok, err := s.cache.Get(ctx, req.IdempotencyKey); err != nil {
		log.Printf("[service] WARN: idempotency cache lookup failed key=%s: %v", req.IdempotencyKey, err)
	} else if ok {
		if s.metrics != nil {
			s.metrics.OrdersDuplicate.Inc()
		}
		replay := *cached
		replay.Duplicate = true
		return replay, nil
	}

	actor, _ := ActorFromContext(ctx)
	order := domain.Order{
		ClientName:     strings.TrimSpace(req.ClientName),
		ServiceType:    req.ServiceType,
		PaymentMethod:  req.PaymentMethod,
		Items:          req.Items,
		SubtotalCents:  req.SubtotalCents,
		DiscountCents:  req.DiscountCents,
		TipCents:       req.TipCents,
		TotalCents:     req.TotalCents,
		UserID:         actor.Username,
		CustomerID:     strings.TrimSpace(req.CustomerID),
		IdempotencyKey: req.IdempotencyKey,
		Status:         domain.OrderStatusPaid,
		CreatedAt:      time.Now().UTC(),
	}

	committed, duplicate, err := s.repo.CommitOrder(ctx, order, s.keyTTL)
	if err != nil {
		if s.metrics != nil && (errors.Is(err, store.ErrInvalidOrder) ||
			errors.Is(err, store.ErrInsufficientStock) ||
			errors.Is(err, store.ErrCreditLimitExceeded)) {
			s.metrics.OrdersRejected.Inc()
		}
		return domain.OrderResponse{}, err
	}

	resp := toOrderResponse(committed, duplicate)

	if duplicate {
		if s.metrics != nil {
			s.metrics.OrdersDuplicate.Inc()
		}
		return resp, nil
	}

	if s.metrics != nil {
		s.metrics.OrdersCommitted.Inc()
	}

	cacheable := resp
	cacheable.Duplicate = false
	if err := s.cache.Set(ctx, committed.IdempotencyKey, &cacheable, s.keyTTL); err != nil {
		log.Printf("[service] WARN: failed to cache order response key=%s: %v", committed.IdempotencyKey, err)
	}
	if err := s.notifier.OrderCommitted(ctx, *committed); err != nil {
		log.Printf("[service] WARN: failed to publish committed order id=%s: %v", committed.ID, err)
	}

	s.logAudit(ctx, "order_commit", "order", committed.ID,
		fmt.Sprintf("total=%d,payment=%s,items=%d", committed.TotalCents, committed.PaymentMethod, len(committed.Items)))

	return resp, nil
}

func (s *Service) LookupOrderByIdempotency(ctx context.Context, key string) (domain.OrderLookupResponse, error) {
	if key == "" {
		return domain.OrderLookupResponse{}, store.ErrInvalidOrder
	}

	order, err := s.repo.FindOrderByIdempotency(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.OrderLookupResponse{Found: false}, nil
		}
		return domain.OrderLookupResponse{}, err
	}

	resp := toOrderResponse(order, false)
	return domain.OrderLookupResponse{Found: true, Order: &resp}, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	req.ID = strings.ToLower(strings.TrimSpace(req.ID))
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)

	if req.ID == "" || req.Name == "" || req.Category == "" {
		return domain.Product{}, store.ErrInvalidOrder
	}
	if !domain.IsStockTracked(req.ID) {
		return domain.Product{}, fmt.Errorf("%w: synthetic prefixes are reserved for service lines", store.ErrInvalidOrder)
	}
	if req.PriceCents < 1 || req.CostCents < 0 || req.InitialStock < 0 {
		return domain.Product{}, store.ErrInvalidOrder
	}

	product := domain.Product{
		ID:         req.ID,
		Name:       req.Name,
		Category:   req.Category,
		PriceCents: req.PriceCents,
		CostCents:  req.CostCents,
		Active:     true,
	}

	created, err := s.repo.CreateProduct(ctx, product, req.InitialStock)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_create", "product", created.ID,
		fmt.Sprintf("name=%s,price=%d,stock=%d", created.Name, created.PriceCents, req.InitialStock))

	return *created, nil
}

func (s *Service) SetStock(ctx context.Context, productID string, qty int) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return fmt.Errorf("admin role required")
	}

	productID = strings.ToLower(strings.TrimSpace(productID))
	if productID == "" || qty < 0 {
		return store.ErrInvalidOrder
	}

	if err := s.repo.SetStock(ctx, productID, qty); err != nil {
		return err
	}
	s.logAudit(ctx, "stock_set", "product", productID, fmt.Sprintf("qty=%d", qty))
	return nil
}

func (s *Service) GetStock(ctx context.Context, productID string) (int, error) {
	productID = strings.ToLower(strings.TrimSpace(productID))
	if productID == "" {
		return 0, store.ErrInvalidOrder
	}
	return s.repo.GetStock(ctx, productID)
}

func (s *Service) GetCustomerCredit(ctx context.Context, customerID string) (domain.CustomerCredit, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.CustomerCredit{}, store.ErrInvalidOrder
	}

	credit, err := s.repo.GetCustomerCredit(ctx, customerID)
	if err != nil {
		return domain.CustomerCredit{}, err
	}
	return *credit, nil
}

func (s *Service) UpsertCustomerCredit(ctx context.Context, credit domain.CustomerCredit) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return fmt.Errorf("admin role required")
	}

	credit.CustomerID = strings.TrimSpace(credit.CustomerID)
	if credit.CustomerID == "" || credit.LimitCents < 0 || credit.BalanceCents < 0 {
		return store.ErrInvalidOrder
	}

	if err := s.repo.UpsertCustomerCredit(ctx, credit); err != nil {
		return err
	}
	s.logAudit(ctx, "credit_upsert", "customer", credit.CustomerID,
		fmt.Sprintf("balance=%d,limit=%d", credit.BalanceCents, credit.LimitCents))
	return nil
}

func (s *Service) ListCreditEntries(ctx context.Context, customerID string, limit int) ([]domain.CreditEntry, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, store.ErrInvalidOrder
	}
	if limit < 1 {
		limit = 50
	}
	return s.repo.ListCreditEntries(ctx, customerID, limit)
}

func (s *Service) CreateExpense(ctx context.Context, req domain.ExpenseCreateRequest) (domain.Expense, error) {
	req.Category = strings.TrimSpace(req.Category)
	req.Description = strings.TrimSpace(req.Description)
	if req.Category == "" || req.AmountCents < 1 {
		return domain.Expense{}, store.ErrInvalidOrder
	}

	expense := domain.Expense{
		ID:          xid.New("exp"),
		Category:    req.Category,
		Description: req.Description,
		AmountCents: req.AmountCents,
		Status:      domain.ExpenseStatusPaid,
		Active:      true,
		CreatedAt:   time.Now().UTC(),
	}

	created, err := s.repo.CreateExpense(ctx, expense)
	if err != nil {
		return domain.Expense{}, err
	}

	s.logAudit(ctx, "expense_create", "expense", created.ID,
		fmt.Sprintf("category=%s,amount=%d", created.Category, created.AmountCents))

	return *created, nil
}

func (s *Service) ListExpenses(ctx context.Context, from time.Time, to time.Time) ([]domain.Expense, error) {
	if to.IsZero() {
		to = time.Now().UTC()
	}
	if from.IsZero() {
		from = to.Add(-24 * time.Hour)
	}
	return s.repo.ListExpensesInPeriod(ctx, from, to)
}

func (s *Service) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return nil, fmt.Errorf("admin role required")
	}
	if to.IsZero() {
		to = time.Now().UTC()
	}
	if from.IsZero() {
		from = to.Add(-24 * time.Hour)
	}
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, _ := ActorFromContext(ctx)
	entry := domain.AuditLog{
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		log.Printf("[service] WARN: failed to write audit log action=%s entity=%s: %v", action, entityID, err)
	}
}

func validateOrderRequest(req domain.OrderRequest) error {
	if len(req.Items) == 0 {
		return store.ErrInvalidOrder
	}
	if !isSupportedPaymentMethod(req.PaymentMethod) {
		return fmt.Errorf("%w: unsupported payment method %q", store.ErrInvalidOrder, req.PaymentMethod)
	}
	if req.PaymentMethod == domain.PaymentCredit && strings.TrimSpace(req.CustomerID) == "" {
		return fmt.Errorf("%w: credit payment requires customer_id", store.ErrInvalidOrder)
	}
	if req.DiscountCents < 0 || req.TipCents < 0 {
		return store.ErrInvalidOrder
	}
	if req.DiscountCents > req.SubtotalCents {
		return store.ErrInvalidOrder
	}

	subtotal := int64(0)
	for _, item := range req.Items {
		if item.Qty < 1 || item.UnitPriceCents < 0 {
			return store.ErrInvalidOrder
		}
		subtotal += int64(item.Qty) * item.UnitPriceCents
	}
	if subtotal != req.SubtotalCents {
		return fmt.Errorf("%w: subtotal mismatch", store.ErrInvalidOrder)
	}
	if req.SubtotalCents-req.DiscountCents+req.TipCents != req.TotalCents {
		return fmt.Errorf("%w: total mismatch", store.ErrInvalidOrder)
	}
	return nil
}

func isSupportedPaymentMethod(method string) bool {
	switch method {
	case domain.PaymentCash, domain.PaymentCard, domain.PaymentTransfer, domain.PaymentCredit:
		return true
	}
	return false
}

func toOrderResponse(order *domain.Order, duplicate bool) domain.OrderResponse {
	return domain.OrderResponse{
		OrderID:       order.ID,
		Status:        order.Status,
		PaymentMethod: order.PaymentMethod,
		TotalCents:    order.TotalCents,
		Duplicate:     duplicate,
		CreatedAt:     order.CreatedAt.UTC().Format(time.RFC3339),
	}
}
