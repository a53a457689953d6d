package pos

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Snapshots are the wire-facing view of stored entities, shared by the change
// feed and by the Conflict Log's server-side payload captures. Money values
// serialize as strings, timestamps as RFC 3339 UTC.

type ProductSnapshot struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Barcode     string          `json:"barcode"`
	BuyPrice    decimal.Decimal `json:"buy_price"`
	SellPrice   decimal.Decimal `json:"sell_price"`
	StockQty    int64           `json:"stock_qty"`
	Version     int64           `json:"version"`
	NeedsReview bool            `json:"needs_review"`
	UpdatedAt   string          `json:"updated_at"`
}

// Snapshot returns the wire view of the product.
func (p Product) Snapshot() ProductSnapshot {
	return ProductSnapshot{
		ID:          p.ID,
		Name:        p.Name,
		Barcode:     p.Barcode,
		BuyPrice:    p.BuyPrice,
		SellPrice:   p.SellPrice,
		StockQty:    p.StockQty,
		Version:     p.Version,
		NeedsReview: p.NeedsReview,
		UpdatedAt:   formatMs(p.UpdatedAtMs),
	}
}

type CustomerSnapshot struct {
	ID        string `json:"id"`
	FullName  string `json:"full_name"`
	Phone     string `json:"phone"`
	Version   int64  `json:"version"`
	UpdatedAt string `json:"updated_at"`
}

// Snapshot returns the wire view of the customer.
func (c Customer) Snapshot() CustomerSnapshot {
	return CustomerSnapshot{
		ID:        c.ID,
		FullName:  c.FullName,
		Phone:     c.Phone,
		Version:   c.Version,
		UpdatedAt: formatMs(c.UpdatedAtMs),
	}
}

type SaleItemSnapshot struct {
	ID       string          `json:"id"`
	Product  *string         `json:"product"`
	Quantity int64           `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

type SaleSnapshot struct {
	ID           string             `json:"id"`
	SaleDatetime string             `json:"sale_datetime"`
	Total        decimal.Decimal    `json:"total"`
	PaymentType  PaymentType        `json:"payment_type"`
	Seller       string             `json:"seller"`
	Customer     *string            `json:"customer"`
	UpdatedAt    string             `json:"updated_at"`
	Items        []SaleItemSnapshot `json:"items"`
}

// Snapshot returns the wire view of the sale with its nested items.
func (s Sale) Snapshot() SaleSnapshot {
	items := make([]SaleItemSnapshot, 0, len(s.Items))
	for _, item := range s.Items {
		items = append(items, SaleItemSnapshot{
			ID:       item.ID,
			Product:  item.ProductID,
			Quantity: item.Quantity,
			Price:    item.Price,
		})
	}
	return SaleSnapshot{
		ID:           s.ID,
		SaleDatetime: formatMs(s.SaleDatetimeMs),
		Total:        s.Total,
		PaymentType:  s.PaymentType,
		Seller:       s.Seller,
		Customer:     s.CustomerID,
		UpdatedAt:    formatMs(s.UpdatedAtMs),
		Items:        items,
	}
}

type ExpenseSnapshot struct {
	ID              string          `json:"id"`
	ExpenseDatetime string          `json:"expense_datetime"`
	Category        string          `json:"category"`
	Amount          decimal.Decimal `json:"amount"`
	Note            string          `json:"note"`
	UpdatedAt       string          `json:"updated_at"`
}

// Snapshot returns the wire view of the expense.
func (e Expense) Snapshot() ExpenseSnapshot {
	return ExpenseSnapshot{
		ID:              e.ID,
		ExpenseDatetime: formatMs(e.ExpenseDatetimeMs),
		Category:        e.Category,
		Amount:          e.Amount,
		Note:            e.Note,
		UpdatedAt:       formatMs(e.UpdatedAtMs),
	}
}

func formatMs(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}

func marshalSnapshot(snapshot any) datatypes.JSON {
	encoded, err := json.Marshal(snapshot)
	if err != nil {
		return datatypes.JSON([]byte("{}"))
	}
	return datatypes.JSON(encoded)
}
