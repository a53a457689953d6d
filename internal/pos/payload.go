package pos

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// looseDecimal tolerates malformed money values by falling back to zero
// instead of failing the whole event.
type looseDecimal struct {
	decimal.Decimal
}

func (d *looseDecimal) UnmarshalJSON(data []byte) error {
	var parsed decimal.Decimal
	if err := parsed.UnmarshalJSON(data); err != nil {
		d.Decimal = decimal.Zero
		return nil
	}
	d.Decimal = parsed
	return nil
}

// Payload fields are pointers so that absent keys leave stored values alone
// during a versioned overwrite.

type productPayload struct {
	Name      *string       `json:"name"`
	Barcode   *string       `json:"barcode"`
	BuyPrice  *looseDecimal `json:"buy_price"`
	SellPrice *looseDecimal `json:"sell_price"`
	StockQty  *int64        `json:"stock_qty"`
	Version   *int64        `json:"version"`
}

type customerPayload struct {
	FullName *string `json:"full_name"`
	Phone    *string `json:"phone"`
	Version  *int64  `json:"version"`
}

type saleItemPayload struct {
	ID       *string       `json:"id"`
	Product  *string       `json:"product"`
	Quantity *int64        `json:"quantity"`
	Price    *looseDecimal `json:"price"`
}

type salePayload struct {
	SaleDatetime *string           `json:"sale_datetime"`
	Total        *looseDecimal     `json:"total"`
	PaymentType  *string           `json:"payment_type"`
	Seller       *string           `json:"seller"`
	Customer     *string           `json:"customer"`
	Items        []saleItemPayload `json:"items"`
}

type expensePayload struct {
	ExpenseDatetime *string       `json:"expense_datetime"`
	Category        *string       `json:"category"`
	Amount          *looseDecimal `json:"amount"`
	Note            *string       `json:"note"`
}

func decodeProductPayload(raw json.RawMessage) productPayload {
	var payload productPayload
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &payload)
	}
	return payload
}

func decodeCustomerPayload(raw json.RawMessage) customerPayload {
	var payload customerPayload
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &payload)
	}
	return payload
}

func decodeSalePayload(raw json.RawMessage) salePayload {
	var payload salePayload
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &payload)
	}
	return payload
}

func decodeExpensePayload(raw json.RawMessage) expensePayload {
	var payload expensePayload
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &payload)
	}
	return payload
}

func stringOr(value *string, fallback string) string {
	if value == nil {
		return fallback
	}
	return *value
}

func int64Or(value *int64, fallback int64) int64 {
	if value == nil {
		return fallback
	}
	return *value
}

func decimalOr(value *looseDecimal, fallback decimal.Decimal) decimal.Decimal {
	if value == nil {
		return fallback
	}
	return value.Decimal
}

// versionOrDefault treats an absent or zero version as the starting version 1.
func versionOrDefault(value *int64) int64 {
	if value == nil || *value == 0 {
		return 1
	}
	return *value
}

// quantityOrDefault treats absent or zero quantities as 1.
func quantityOrDefault(value *int64) int64 {
	if value == nil || *value == 0 {
		return 1
	}
	return *value
}

func paymentTypeOrCash(value *string) PaymentType {
	if value != nil && strings.ToLower(strings.TrimSpace(*value)) == string(PaymentTypeCard) {
		return PaymentTypeCard
	}
	return PaymentTypeCash
}

// optionalUUID canonicalizes a weak reference; anything unparseable becomes nil.
func optionalUUID(value *string) *string {
	if value == nil {
		return nil
	}
	parsed, err := uuid.Parse(strings.TrimSpace(*value))
	if err != nil {
		return nil
	}
	canonical := parsed.String()
	return &canonical
}

// parseTimestampMs reads an RFC 3339 timestamp, tolerating a missing zone,
// and falls back to the server clock when absent or unparseable.
func parseTimestampMs(value *string, fallback time.Time) int64 {
	if value == nil {
		return fallback.UnixMilli()
	}
	raw := strings.TrimSpace(*value)
	if raw == "" {
		return fallback.UnixMilli()
	}
	if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return parsed.UnixMilli()
	}
	if parsed, err := time.ParseInLocation("2006-01-02T15:04:05", raw, time.UTC); err == nil {
		return parsed.UnixMilli()
	}
	return fallback.UnixMilli()
}
