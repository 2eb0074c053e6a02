package cashcut

import (
	"math"
	"sort"

	"cajaflow/backend/internal/domain"
)

const topProductLimit = 10

// Aggregate folds the paid orders and expenses of a period into CutStats.
// It is a pure function over its inputs: all sums are integer cents and the
// single division (average ticket) is rounded once at output.
func Aggregate(orders []domain.Order, expenses []domain.Expense) domain.CutStats {
	stats := domain.CutStats{
		ByPayment:          make([]domain.PaymentBreakdown, 0, 4),
		ByService:          make([]domain.ServiceBreakdown, 0, 4),
		ExpensesByCategory: make([]domain.ExpenseBreakdown, 0, 4),
		TopProducts:        make([]domain.ProductRevenue, 0, topProductLimit),
		Hourly:             make([]domain.HourBucket, 24),
	}
	for hour := range stats.Hourly {
		stats.Hourly[hour].Hour = hour
	}

	byPayment := map[string]*domain.PaymentBreakdown{}
	byService := map[string]*domain.ServiceBreakdown{}
	byProduct := map[string]*domain.ProductRevenue{}

	for _, order := range orders {
		stats.OrderCount++
		stats.IncomeCents += order.TotalCents

		pay := byPayment[order.PaymentMethod]
		if pay == nil {
			pay = &domain.PaymentBreakdown{Method: order.PaymentMethod}
			byPayment[order.PaymentMethod] = pay
		}
		pay.Count++
		pay.AmountCents += order.TotalCents

		svc := byService[order.ServiceType]
		if svc == nil {
			svc = &domain.ServiceBreakdown{Service: order.ServiceType}
			byService[order.ServiceType] = svc
		}
		svc.Count++
		svc.AmountCents += order.TotalCents

		hour := order.CreatedAt.UTC().Hour()
		stats.Hourly[hour].Count++
		stats.Hourly[hour].RevenueCents += order.TotalCents

		for _, item := range order.Items {
			stats.CostCents += int64(item.Qty) * item.UnitCostCents

			prod := byProduct[item.ProductID]
			if prod == nil {
				prod = &domain.ProductRevenue{ProductID: item.ProductID, Name: item.Name}
				byProduct[item.ProductID] = prod
			}
			prod.Qty += item.Qty
			prod.RevenueCents += int64(item.Qty) * item.UnitPriceCents
		}
	}

	byCategory := map[string]*domain.ExpenseBreakdown{}
	for _, expense := range expenses {
		stats.ExpenseCount++
		stats.ExpenseCents += expense.AmountCents

		cat := byCategory[expense.Category]
		if cat == nil {
			cat = &domain.ExpenseBreakdown{Category: expense.Category}
			byCategory[expense.Category] = cat
		}
		cat.Count++
		cat.AmountCents += expense.AmountCents
	}

	stats.NetProfitCents = stats.IncomeCents - stats.CostCents - stats.ExpenseCents
	if stats.OrderCount > 0 {
		stats.AvgTicketCents = int64(math.Round(float64(stats.IncomeCents) / float64(stats.OrderCount)))
	}

	for _, pay := range byPayment {
		stats.ByPayment = append(stats.ByPayment, *pay)
	}
	sort.Slice(stats.ByPayment, func(i, j int) bool {
		return stats.ByPayment[i].Method < stats.ByPayment[j].Method
	})

	for _, svc := range byService {
		stats.ByService = append(stats.ByService, *svc)
	}
	sort.Slice(stats.ByService, func(i, j int) bool {
		return stats.ByService[i].Service < stats.ByService[j].Service
	})

	for _, cat := range byCategory {
		stats.ExpensesByCategory = append(stats.ExpensesByCategory, *cat)
	}
	sort.Slice(stats.ExpensesByCategory, func(i, j int) bool {
		return stats.ExpensesByCategory[i].Category < stats.ExpensesByCategory[j].Category
	})

	for _, prod := range byProduct {
		stats.TopProducts = append(stats.TopProducts, *prod)
	}
	sort.Slice(stats.TopProducts, func(i, j int) bool {
		if stats.TopProducts[i].RevenueCents == stats.TopProducts[j].RevenueCents {
			return stats.TopProducts[i].ProductID < stats.TopProducts[j].ProductID
		}
		return stats.TopProducts[i].RevenueCents > stats.TopProducts[j].RevenueCents
	})
	if len(stats.TopProducts) > topProductLimit {
		stats.TopProducts = stats.TopProducts[:topProductLimit]
	}

	return stats
}
