package pos

import (
	"github.com/shopspring/decimal"
)

// PaymentType enumerates how a sale was settled.
type PaymentType string

const (
	// PaymentTypeCash marks a cash sale.
	PaymentTypeCash PaymentType = "cash"
	// PaymentTypeCard marks a card sale.
	PaymentTypeCard PaymentType = "card"
)

// Product is a versioned catalog record merged last-writer-wins by version.
type Product struct {
	ID          string          `gorm:"column:id;primaryKey;size:36;not null"`
	Name        string          `gorm:"column:name;size:255;not null"`
	Barcode     string          `gorm:"column:barcode;size:64;not null;default:''"`
	BuyPrice    decimal.Decimal `gorm:"column:buy_price;type:decimal(12,2);not null"`
	SellPrice   decimal.Decimal `gorm:"column:sell_price;type:decimal(12,2);not null"`
	StockQty    int64           `gorm:"column:stock_qty;not null;default:0"`
	Version     int64           `gorm:"column:version;not null;default:1"`
	NeedsReview bool            `gorm:"column:needs_review;not null;default:false"`
	CreatedAtMs int64           `gorm:"column:created_at_ms;not null"`
	UpdatedAtMs int64           `gorm:"column:updated_at_ms;not null;index:idx_products_updated"`
}

// TableName provides the explicit table binding for GORM.
func (Product) TableName() string {
	return "products"
}

// Customer is a versioned CRM record merged last-writer-wins by version.
type Customer struct {
	ID          string `gorm:"column:id;primaryKey;size:36;not null"`
	FullName    string `gorm:"column:full_name;size:255;not null"`
	Phone       string `gorm:"column:phone;size:50;not null;default:''"`
	Version     int64  `gorm:"column:version;not null;default:1"`
	CreatedAtMs int64  `gorm:"column:created_at_ms;not null"`
	UpdatedAtMs int64  `gorm:"column:updated_at_ms;not null;index:idx_customers_updated"`
}

// TableName provides the explicit table binding for GORM.
func (Customer) TableName() string {
	return "customers"
}

// Sale is an append-only financial record; sync may create it but never
// mutate or delete it.
type Sale struct {
	ID             string          `gorm:"column:id;primaryKey;size:36;not null"`
	SaleDatetimeMs int64           `gorm:"column:sale_datetime_ms;not null"`
	Total          decimal.Decimal `gorm:"column:total;type:decimal(12,2);not null"`
	PaymentType    PaymentType     `gorm:"column:payment_type;size:10;not null"`
	Seller         string          `gorm:"column:seller;size:120;not null;default:''"`
	CustomerID     *string         `gorm:"column:customer_id;size:36"`
	CreatedAtMs    int64           `gorm:"column:created_at_ms;not null"`
	UpdatedAtMs    int64           `gorm:"column:updated_at_ms;not null;index:idx_sales_updated"`
	Items          []SaleItem      `gorm:"foreignKey:SaleID;references:ID"`
}

// TableName provides the explicit table binding for GORM.
func (Sale) TableName() string {
	return "sales"
}

// SaleItem is owned exclusively by its Sale and materializes atomically with it.
type SaleItem struct {
	ID        string          `gorm:"column:id;primaryKey;size:36;not null"`
	SaleID    string          `gorm:"column:sale_id;size:36;not null;index:idx_sale_items_sale"`
	ProductID *string         `gorm:"column:product_id;size:36"`
	Quantity  int64           `gorm:"column:quantity;not null;default:1"`
	Price     decimal.Decimal `gorm:"column:price;type:decimal(12,2);not null"`
}

// TableName provides the explicit table binding for GORM.
func (SaleItem) TableName() string {
	return "sale_items"
}

// Expense is an append-only financial record, same policy as Sale.
type Expense struct {
	ID                string          `gorm:"column:id;primaryKey;size:36;not null"`
	ExpenseDatetimeMs int64           `gorm:"column:expense_datetime_ms;not null"`
	Category          string          `gorm:"column:category;size:120;not null;default:''"`
	Amount            decimal.Decimal `gorm:"column:amount;type:decimal(12,2);not null"`
	Note              string          `gorm:"column:note;type:text;not null;default:''"`
	CreatedAtMs       int64           `gorm:"column:created_at_ms;not null"`
	UpdatedAtMs       int64           `gorm:"column:updated_at_ms;not null;index:idx_expenses_updated"`
}

// TableName provides the explicit table binding for GORM.
func (Expense) TableName() string {
	return "expenses"
}
