package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cajaflow/backend/internal/domain"
	"cajaflow/backend/internal/store"
)

func testOrder(key string, productID string, qty int, unitPrice int64) domain.Order {
	total := int64(qty) * unitPrice
	return domain.Order{
		PaymentMethod:  domain.PaymentCash,
		ServiceType:    "cafe",
		Items:          []domain.OrderLine{{ProductID: productID, Qty: qty, UnitPriceCents: unitPrice}},
		SubtotalCents:  total,
		TotalCents:     total,
		IdempotencyKey: key,
	}
}

func TestCommitOrderExpiredKeyIsReclaimed(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	first, dup, err := s.CommitOrder(ctx, testOrder("key-ttl", "prod-latte", 1, 6000), 10*time.Millisecond)
	if err != nil || dup {
		t.Fatalf("first commit failed: dup=%v err=%v", dup, err)
	}

	time.Sleep(20 * time.Millisecond)

	second, dup, err := s.CommitOrder(ctx, testOrder("key-ttl", "prod-latte", 1, 6000), time.Hour)
	if err != nil {
		t.Fatalf("commit after expiry failed: %v", err)
	}
	if dup {
		t.Fatalf("expired key must be treated as first use")
	}
	if second.ID == first.ID {
		t.Fatalf("reclaimed key must produce a new order")
	}

	qty, err := s.GetStock(ctx, "prod-latte")
	if err != nil {
		t.Fatalf("get stock failed: %v", err)
	}
	if qty != 98 {
		t.Fatalf("both commits must decrement stock, got %d", qty)
	}
}

func TestFailedCommitLeavesNoPartialState(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	order := domain.Order{
		PaymentMethod: domain.PaymentCash,
		ServiceType:   "cafe",
		Items: []domain.OrderLine{
			{ProductID: "prod-latte", Qty: 2, UnitPriceCents: 6000},
			{ProductID: "prod-fantasma", Qty: 1, UnitPriceCents: 1000},
		},
		SubtotalCents:  13000,
		TotalCents:     13000,
		IdempotencyKey: "key-partial",
	}
	_, _, err := s.CommitOrder(ctx, order, time.Hour)
	if !errors.Is(err, store.ErrInvalidOrder) {
		t.Fatalf("expected invalid order for unknown product, got %v", err)
	}

	qty, err := s.GetStock(ctx, "prod-latte")
	if err != nil {
		t.Fatalf("get stock failed: %v", err)
	}
	if qty != 100 {
		t.Fatalf("failed commit must not touch stock, got %d", qty)
	}
	if _, err := s.FindOrderByIdempotency(ctx, "key-partial"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("failed commit must not record the key, got %v", err)
	}
}

func TestConcurrentSameKeyCommitsDecrementOnce(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	duplicates := make([]bool, workers)
	ids := make([]string, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			order, dup, err := s.CommitOrder(ctx, testOrder("key-race", "prod-espresso", 1, 4000), time.Hour)
			if err != nil {
				t.Errorf("worker %d commit failed: %v", i, err)
				return
			}
			duplicates[i] = dup
			ids[i] = order.ID
		}(i)
	}
	wg.Wait()

	fresh := 0
	for i := 0; i < workers; i++ {
		if !duplicates[i] {
			fresh++
		}
		if ids[i] != ids[0] {
			t.Fatalf("all workers must observe the same order, got %s and %s", ids[i], ids[0])
		}
	}
	if fresh != 1 {
		t.Fatalf("exactly one worker must win, got %d", fresh)
	}

	qty, err := s.GetStock(ctx, "prod-espresso")
	if err != nil {
		t.Fatalf("get stock failed: %v", err)
	}
	if qty != 99 {
		t.Fatalf("stock must decrement exactly once, got %d", qty)
	}
}

func TestSweepExpiredIdempotency(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	if _, _, err := s.CommitOrder(ctx, testOrder("key-old", "prod-latte", 1, 6000), time.Millisecond); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if _, _, err := s.CommitOrder(ctx, testOrder("key-live", "prod-latte", 1, 6000), time.Hour); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	removed, err := s.SweepExpiredIdempotency(ctx, time.Now().UTC().Add(time.Second))
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected one expired key removed, got %d", removed)
	}

	if _, err := s.FindOrderByIdempotency(ctx, "key-live"); err != nil {
		t.Fatalf("live key must survive the sweep: %v", err)
	}
	if _, err := s.FindOrderByIdempotency(ctx, "key-old"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("swept key must be gone, got %v", err)
	}
}

func TestCreditCommitRecordsEntry(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	order := testOrder("key-credit", "prod-sandwich", 1, 8500)
	order.PaymentMethod = domain.PaymentCredit
	order.CustomerID = "cust-ana"

	if _, _, err := s.CommitOrder(ctx, order, time.Hour); err != nil {
		t.Fatalf("credit commit failed: %v", err)
	}

	credit, err := s.GetCustomerCredit(ctx, "cust-ana")
	if err != nil {
		t.Fatalf("get credit failed: %v", err)
	}
	if credit.BalanceCents != 8500 {
		t.Fatalf("expected balance 8500, got %d", credit.BalanceCents)
	}

	entries, err := s.ListCreditEntries(ctx, "cust-ana", 10)
	if err != nil {
		t.Fatalf("list entries failed: %v", err)
	}
	if len(entries) != 1 || entries[0].AmountCents != 8500 || entries[0].Type != domain.CreditEntryCharge {
		t.Fatalf("unexpected credit entries: %+v", entries)
	}
}

func TestSaveCashCutReplaysSameRecord(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	cut := domain.CashCut{
		PeriodStart:    time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC),
		PeriodEnd:      time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
		Type:           domain.CutTypeManual,
		CreatedBy:      "admin",
		IdempotencyKey: "cut-abc",
	}

	first, err := s.SaveCashCut(ctx, cut, time.Hour)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	second, err := s.SaveCashCut(ctx, cut, time.Hour)
	if err != nil {
		t.Fatalf("replay save failed: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("replayed save must return the original cut: %s vs %s", second.ID, first.ID)
	}

	cuts, err := s.ListRecentCashCuts(ctx, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(cuts) != 1 {
		t.Fatalf("expected one stored cut, got %d", len(cuts))
	}
}

func TestOrderKeyCannotGuardCashCut(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	if _, _, err := s.CommitOrder(ctx, testOrder("key-shared", "prod-latte", 1, 6000), time.Hour); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	_, err := s.SaveCashCut(ctx, domain.CashCut{
		PeriodStart:    time.Now().UTC().Add(-time.Hour),
		PeriodEnd:      time.Now().UTC(),
		Type:           domain.CutTypeManual,
		CreatedBy:      "admin",
		IdempotencyKey: "key-shared",
	}, time.Hour)
	if !errors.Is(err, store.ErrInvalidOrder) {
		t.Fatalf("key guarding an order must not guard a cut, got %v", err)
	}
}

func TestListOrdersInPeriodBoundaries(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	start := time.Date(2026, 8, 20, 8, 0, 0, 0, time.UTC)
	end := time.Date(2026, 8, 20, 20, 0, 0, 0, time.UTC)

	for _, tc := range []struct {
		key string
		at  time.Time
	}{
		{"key-at-start", start},
		{"key-inside", start.Add(time.Hour)},
		{"key-at-end", end},
		{"key-before", start.Add(-time.Minute)},
	} {
		order := testOrder(tc.key, "prod-latte", 1, 6000)
		order.CreatedAt = tc.at
		if _, _, err := s.CommitOrder(ctx, order, time.Hour); err != nil {
			t.Fatalf("commit %s failed: %v", tc.key, err)
		}
	}

	orders, err := s.ListOrdersInPeriod(ctx, start, end)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("period must be start-inclusive and end-exclusive, got %d orders", len(orders))
	}
	if !orders[0].CreatedAt.Equal(start) || !orders[1].CreatedAt.Equal(start.Add(time.Hour)) {
		t.Fatalf("orders must be sorted by creation time: %+v", orders)
	}
}
