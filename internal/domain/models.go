package domain

import (
	"strings"
	"time"
)

type OrderLine struct {
	ProductID      string `json:"product_id"`
	Name           string `json:"name,omitempty"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	UnitCostCents  int64  `json:"unit_cost_cents"`
}

type Order struct {
	ID             string      `json:"id"`
	ClientName     string      `json:"client_name"`
	ServiceType    string      `json:"service_type"`
	PaymentMethod  string      `json:"payment_method"`
	Items          []OrderLine `json:"items"`
	SubtotalCents  int64       `json:"subtotal_cents"`
	DiscountCents  int64       `json:"discount_cents"`
	TipCents       int64       `json:"tip_cents"`
	TotalCents     int64       `json:"total_cents"`
	UserID         string      `json:"user_id"`
	CustomerID     string      `json:"customer_id,omitempty"`
	IdempotencyKey string      `json:"idempotency_key"`
	Status         string      `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
}

type OrderRequest struct {
	ClientName     string      `json:"client_name"`
	ServiceType    string      `json:"service_type"`
	PaymentMethod  string      `json:"payment_method"`
	Items          []OrderLine `json:"items"`
	SubtotalCents  int64       `json:"subtotal_cents"`
	DiscountCents  int64       `json:"discount_cents"`
	TipCents       int64       `json:"tip_cents"`
	TotalCents     int64       `json:"total_cents"`
	CustomerID     string      `json:"customer_id,omitempty"`
	IdempotencyKey string      `json:"idempotency_key"`
}

type OrderResponse struct {
	OrderID       string `json:"order_id"`
	Status        string `json:"status"`
	PaymentMethod string `json:"payment_method"`
	TotalCents    int64  `json:"total_cents"`
	Duplicate     bool   `json:"duplicate"`
	CreatedAt     string `json:"created_at"`
}

type OrderLookupResponse struct {
	Found bool           `json:"found"`
	Order *OrderResponse `json:"order,omitempty"`
}

// IdempotencyRecord maps an opaque key to the resource it guards. Keys are
// written in the same datastore transaction as the resource itself and are
// treated as absent once expired.
type IdempotencyRecord struct {
	Key          string    `json:"key"`
	ResourceKind string    `json:"resource_kind"`
	ResourceID   string    `json:"resource_id"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type Product struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Category   string `json:"category"`
	PriceCents int64  `json:"price_cents"`
	CostCents  int64  `json:"cost_cents"`
	Active     bool   `json:"active"`
}

type ProductCreateRequest struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Category     string `json:"category"`
	PriceCents   int64  `json:"price_cents"`
	CostCents    int64  `json:"cost_cents"`
	InitialStock int    `json:"initial_stock"`
}

type CustomerCredit struct {
	CustomerID   string `json:"customer_id"`
	BalanceCents int64  `json:"balance_cents"`
	LimitCents   int64  `json:"limit_cents"`
}

type CreditEntry struct {
	ID          string    `json:"id"`
	CustomerID  string    `json:"customer_id"`
	OrderID     string    `json:"order_id"`
	AmountCents int64     `json:"amount_cents"`
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

type Expense struct {
	ID          string    `json:"id"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	AmountCents int64     `json:"amount_cents"`
	Status      string    `json:"status"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

type ExpenseCreateRequest struct {
	Category    string `json:"category"`
	Description string `json:"description"`
	AmountCents int64  `json:"amount_cents"`
}

type PaymentBreakdown struct {
	Method      string `json:"method"`
	Count       int    `json:"count"`
	AmountCents int64  `json:"amount_cents"`
}

type ServiceBreakdown struct {
	Service     string `json:"service"`
	Count       int    `json:"count"`
	AmountCents int64  `json:"amount_cents"`
}

type ExpenseBreakdown struct {
	Category    string `json:"category"`
	Count       int    `json:"count"`
	AmountCents int64  `json:"amount_cents"`
}

type ProductRevenue struct {
	ProductID    string `json:"product_id"`
	Name         string `json:"name,omitempty"`
	Qty          int    `json:"qty"`
	RevenueCents int64  `json:"revenue_cents"`
}

type HourBucket struct {
	Hour         int   `json:"hour"`
	Count        int   `json:"count"`
	RevenueCents int64 `json:"revenue_cents"`
}

// CutStats is the pure output of the period aggregator. All sums are integer
// cents; the only derived division (average ticket) is rounded once at output.
type CutStats struct {
	IncomeCents        int64              `json:"income_cents"`
	CostCents          int64              `json:"cost_cents"`
	ExpenseCents       int64              `json:"expense_cents"`
	NetProfitCents     int64              `json:"net_profit_cents"`
	OrderCount         int                `json:"order_count"`
	ExpenseCount       int                `json:"expense_count"`
	AvgTicketCents     int64              `json:"avg_ticket_cents"`
	ByPayment          []PaymentBreakdown `json:"by_payment"`
	ByService          []ServiceBreakdown `json:"by_service"`
	ExpensesByCategory []ExpenseBreakdown `json:"expenses_by_category"`
	TopProducts        []ProductRevenue   `json:"top_products"`
	Hourly             []HourBucket       `json:"hourly"`
}

// CashCut is a point-in-time reconciliation of the drawer against recorded
// orders and expenses. Records are immutable once persisted; a correction is
// a new cut, never an edit.
type CashCut struct {
	ID             string    `json:"id"`
	PeriodStart    time.Time `json:"period_start"`
	PeriodEnd      time.Time `json:"period_end"`
	Type           string    `json:"type"`
	Stats          CutStats  `json:"stats"`
	Notes          string    `json:"notes,omitempty"`
	CreatedBy      string    `json:"created_by"`
	IdempotencyKey string    `json:"idempotency_key"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

type CashCutRequest struct {
	Notes string `json:"notes"`
}

type CashCutStatus struct {
	InFlightCount int    `json:"in_flight_count"`
	LastCutTime   string `json:"last_cut_time,omitempty"`
	Schedule      string `json:"schedule"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	PaymentCash     = "cash"
	PaymentCard     = "card"
	PaymentTransfer = "transfer"
	PaymentCredit   = "credit"
)

const (
	OrderStatusPaid      = "paid"
	OrderStatusCancelled = "cancelled"
)

const (
	CutTypeManual    = "manual"
	CutTypeAutomatic = "automatic"
)

const CutStatusCompleted = "completed"

const (
	ResourceKindOrder   = "order"
	ResourceKindCashCut = "cash_cut"
)

const ExpenseStatusPaid = "paid"

const (
	CreditEntryCharge        = "charge"
	CreditEntryStatusPending = "pending"
)

// syntheticPrefixes marks line identifiers that do not map to stock-tracked
// products: bundled services, memberships, and tips ride on the order but
// never touch inventory.
var syntheticPrefixes = []string{"svc-", "mem-", "tip-"}

// IsStockTracked reports whether an order line identifier refers to a real
// inventory row. Empty identifiers and synthetic service lines are skipped by
// the stock decrement.
func IsStockTracked(productID string) bool {
	id := strings.ToLower(strings.TrimSpace(productID))
	if id == "" {
		return false
	}
	for _, prefix := range syntheticPrefixes {
		if strings.HasPrefix(id, prefix) {
			return false
		}
	}
	return true
}
