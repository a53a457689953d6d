package pos

import (
	"context"
	"time"
)

// PullResult is the incremental export of everything mutated after the
// watermark. ServerTime is captured before the queries run; devices persist
// it as their next watermark so nothing updated mid-response is skipped.
type PullResult struct {
	ServerTime time.Time
	Products   []ProductSnapshot
	Customers  []CustomerSnapshot
	Sales      []SaleSnapshot
	Expenses   []ExpenseSnapshot
}

// Pull returns every entity whose updated_at is strictly greater than since.
// The boundary is exclusive: a record updated at exactly the watermark must
// not be redelivered, or devices with coarse clocks loop forever.
func (s *Service) Pull(ctx context.Context, since time.Time) (PullResult, error) {
	serverTime := s.clock().UTC()
	sinceMs := since.UnixMilli()

	var products []Product
	if err := s.db.WithContext(ctx).
		Where("updated_at_ms > ?", sinceMs).
		Order("updated_at_ms ASC").
		Find(&products).Error; err != nil {
		s.logError(opPull, "product_query_failed", err)
		return PullResult{}, newServiceError(opPull, "product_query_failed", err)
	}

	var customers []Customer
	if err := s.db.WithContext(ctx).
		Where("updated_at_ms > ?", sinceMs).
		Order("updated_at_ms ASC").
		Find(&customers).Error; err != nil {
		s.logError(opPull, "customer_query_failed", err)
		return PullResult{}, newServiceError(opPull, "customer_query_failed", err)
	}

	var sales []Sale
	if err := s.db.WithContext(ctx).
		Preload("Items").
		Where("updated_at_ms > ?", sinceMs).
		Order("updated_at_ms ASC").
		Find(&sales).Error; err != nil {
		s.logError(opPull, "sale_query_failed", err)
		return PullResult{}, newServiceError(opPull, "sale_query_failed", err)
	}

	var expenses []Expense
	if err := s.db.WithContext(ctx).
		Where("updated_at_ms > ?", sinceMs).
		Order("updated_at_ms ASC").
		Find(&expenses).Error; err != nil {
		s.logError(opPull, "expense_query_failed", err)
		return PullResult{}, newServiceError(opPull, "expense_query_failed", err)
	}

	result := PullResult{
		ServerTime: serverTime,
		Products:   make([]ProductSnapshot, 0, len(products)),
		Customers:  make([]CustomerSnapshot, 0, len(customers)),
		Sales:      make([]SaleSnapshot, 0, len(sales)),
		Expenses:   make([]ExpenseSnapshot, 0, len(expenses)),
	}
	for _, product := range products {
		result.Products = append(result.Products, product.Snapshot())
	}
	for _, customer := range customers {
		result.Customers = append(result.Customers, customer.Snapshot())
	}
	for _, sale := range sales {
		result.Sales = append(result.Sales, sale.Snapshot())
	}
	for _, expense := range expenses {
		result.Expenses = append(result.Expenses, expense.Snapshot())
	}
	return result, nil
}
