package cashcut

import (
	"fmt"
	"testing"
	"time"

	"cajaflow/backend/internal/domain"
)

func TestAggregateEmptyPeriod(t *testing.T) {
	stats := Aggregate(nil, nil)

	if stats.IncomeCents != 0 || stats.CostCents != 0 || stats.ExpenseCents != 0 || stats.NetProfitCents != 0 {
		t.Fatalf("empty period must produce zero totals: %+v", stats)
	}
	if stats.AvgTicketCents != 0 {
		t.Fatalf("average ticket on zero orders must be 0, got %d", stats.AvgTicketCents)
	}
	if len(stats.Hourly) != 24 {
		t.Fatalf("expected 24 hour buckets, got %d", len(stats.Hourly))
	}
	if len(stats.ByPayment) != 0 || len(stats.TopProducts) != 0 {
		t.Fatalf("expected empty breakdowns: %+v", stats)
	}
}

func TestAggregateExactArithmetic(t *testing.T) {
	at := time.Date(2026, 8, 20, 14, 30, 0, 0, time.UTC)
	orders := []domain.Order{
		{
			PaymentMethod: domain.PaymentCash,
			ServiceType:   "cafe",
			TotalCents:    10000,
			CreatedAt:     at,
			Items: []domain.OrderLine{
				{ProductID: "prod-latte", Qty: 2, UnitPriceCents: 5000, UnitCostCents: 2000},
			},
		},
		{
			PaymentMethod: domain.PaymentCard,
			ServiceType:   "coworking",
			TotalCents:    25000,
			CreatedAt:     at.Add(3 * time.Hour),
			Items: []domain.OrderLine{
				{ProductID: "svc-meeting-room", Qty: 1, UnitPriceCents: 25000},
			},
		},
		{
			PaymentMethod: domain.PaymentCash,
			ServiceType:   "cafe",
			TotalCents:    4500,
			CreatedAt:     at,
			Items: []domain.OrderLine{
				{ProductID: "prod-americano", Qty: 1, UnitPriceCents: 4500, UnitCostCents: 1400},
			},
		},
	}
	expenses := []domain.Expense{
		{Category: "supplies", AmountCents: 3000},
		{Category: "supplies", AmountCents: 2000},
		{Category: "rent", AmountCents: 10000},
	}

	stats := Aggregate(orders, expenses)

	if stats.IncomeCents != 39500 {
		t.Fatalf("expected income 39500, got %d", stats.IncomeCents)
	}
	if stats.CostCents != 5400 {
		t.Fatalf("expected cost 5400, got %d", stats.CostCents)
	}
	if stats.ExpenseCents != 15000 {
		t.Fatalf("expected expenses 15000, got %d", stats.ExpenseCents)
	}
	if stats.NetProfitCents != 39500-5400-15000 {
		t.Fatalf("net profit must equal income minus cost minus expenses, got %d", stats.NetProfitCents)
	}
	if stats.OrderCount != 3 || stats.ExpenseCount != 3 {
		t.Fatalf("unexpected counts: orders=%d expenses=%d", stats.OrderCount, stats.ExpenseCount)
	}

	// 39500 / 3 = 13166.67, rounded once at output.
	if stats.AvgTicketCents != 13167 {
		t.Fatalf("expected avg ticket 13167, got %d", stats.AvgTicketCents)
	}

	var paymentSum int64
	for _, p := range stats.ByPayment {
		paymentSum += p.AmountCents
	}
	if paymentSum != stats.IncomeCents {
		t.Fatalf("payment breakdown must sum to income: %d vs %d", paymentSum, stats.IncomeCents)
	}

	var serviceSum int64
	for _, s := range stats.ByService {
		serviceSum += s.AmountCents
	}
	if serviceSum != stats.IncomeCents {
		t.Fatalf("service breakdown must sum to income: %d vs %d", serviceSum, stats.IncomeCents)
	}

	var expenseSum int64
	for _, e := range stats.ExpensesByCategory {
		expenseSum += e.AmountCents
	}
	if expenseSum != stats.ExpenseCents {
		t.Fatalf("expense breakdown must sum to total: %d vs %d", expenseSum, stats.ExpenseCents)
	}

	if stats.Hourly[14].Count != 2 || stats.Hourly[14].RevenueCents != 14500 {
		t.Fatalf("unexpected 14h bucket: %+v", stats.Hourly[14])
	}
	if stats.Hourly[17].Count != 1 || stats.Hourly[17].RevenueCents != 25000 {
		t.Fatalf("unexpected 17h bucket: %+v", stats.Hourly[17])
	}
}

func TestAggregateTopProductsOrderedAndCapped(t *testing.T) {
	orders := make([]domain.Order, 0, 12)
	for i := 0; i < 12; i++ {
		price := int64((i + 1) * 100)
		orders = append(orders, domain.Order{
			PaymentMethod: domain.PaymentCash,
			ServiceType:   "cafe",
			TotalCents:    price,
			CreatedAt:     time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC),
			Items: []domain.OrderLine{
				{ProductID: fmt.Sprintf("prod-%02d", i), Qty: 1, UnitPriceCents: price},
			},
		})
	}

	stats := Aggregate(orders, nil)

	if len(stats.TopProducts) != topProductLimit {
		t.Fatalf("expected top products capped at %d, got %d", topProductLimit, len(stats.TopProducts))
	}
	if stats.TopProducts[0].ProductID != "prod-11" {
		t.Fatalf("expected highest revenue product first, got %s", stats.TopProducts[0].ProductID)
	}
	for i := 1; i < len(stats.TopProducts); i++ {
		if stats.TopProducts[i].RevenueCents > stats.TopProducts[i-1].RevenueCents {
			t.Fatalf("top products must be sorted by revenue descending")
		}
	}
}

func TestAggregateMergesRepeatedProductLines(t *testing.T) {
	orders := []domain.Order{
		{
			PaymentMethod: domain.PaymentCash,
			ServiceType:   "cafe",
			TotalCents:    18000,
			CreatedAt:     time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC),
			Items: []domain.OrderLine{
				{ProductID: "prod-latte", Qty: 1, UnitPriceCents: 6000, UnitCostCents: 2100},
				{ProductID: "prod-latte", Qty: 2, UnitPriceCents: 6000, UnitCostCents: 2100},
			},
		},
	}

	stats := Aggregate(orders, nil)

	if len(stats.TopProducts) != 1 {
		t.Fatalf("expected merged product entry, got %d", len(stats.TopProducts))
	}
	if stats.TopProducts[0].Qty != 3 || stats.TopProducts[0].RevenueCents != 18000 {
		t.Fatalf("unexpected merged entry: %+v", stats.TopProducts[0])
	}
	if stats.CostCents != 3*2100 {
		t.Fatalf("expected cost %d, got %d", 3*2100, stats.CostCents)
	}
}
