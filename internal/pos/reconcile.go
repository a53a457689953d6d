package pos

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// conflictNote asks the service to append a Conflict Log row alongside the
// event's ledger entry.
type conflictNote struct {
	Type          ConflictType
	ServerPayload datatypes.JSON
}

type applyOutcome struct {
	Status   EventStatus
	Conflict *conflictNote
}

// entityApplier is the per-entity-kind merge policy. Apply runs inside the
// event's transaction; the entity row is locked for the whole
// read-decide-write sequence.
type entityApplier interface {
	Apply(tx *gorm.DB, ev normalizedEvent, now time.Time) (applyOutcome, error)
}

// productApplier merges last-writer-wins by version and escalates stale
// stock divergence to a review flag.
type productApplier struct{}

func (productApplier) Apply(tx *gorm.DB, ev normalizedEvent, now time.Time) (applyOutcome, error) {
	payload := decodeProductPayload(ev.Payload)
	incomingVersion := versionOrDefault(payload.Version)

	var stored Product
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", ev.EntityID).
		Take(&stored).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		created := Product{
			ID:          ev.EntityID,
			Name:        stringOr(payload.Name, ""),
			Barcode:     stringOr(payload.Barcode, ""),
			BuyPrice:    decimalOr(payload.BuyPrice, decimal.Zero),
			SellPrice:   decimalOr(payload.SellPrice, decimal.Zero),
			StockQty:    int64Or(payload.StockQty, 0),
			Version:     incomingVersion,
			CreatedAtMs: now.UnixMilli(),
			UpdatedAtMs: now.UnixMilli(),
		}
		if err := tx.Create(&created).Error; err != nil {
			return applyOutcome{}, err
		}
		return applyOutcome{Status: StatusApplied}, nil
	}
	if err != nil {
		return applyOutcome{}, err
	}

	if incomingVersion > stored.Version {
		if payload.Name != nil {
			stored.Name = *payload.Name
		}
		if payload.Barcode != nil {
			stored.Barcode = *payload.Barcode
		}
		if payload.BuyPrice != nil {
			stored.BuyPrice = payload.BuyPrice.Decimal
		}
		if payload.SellPrice != nil {
			stored.SellPrice = payload.SellPrice.Decimal
		}
		if payload.StockQty != nil {
			stored.StockQty = *payload.StockQty
		}
		stored.Version = incomingVersion
		stored.UpdatedAtMs = now.UnixMilli()
		if err := tx.Save(&stored).Error; err != nil {
			return applyOutcome{}, err
		}
		return applyOutcome{Status: StatusApplied}, nil
	}

	conflictType := ConflictVersion
	if payload.StockQty != nil && *payload.StockQty != stored.StockQty {
		conflictType = ConflictStockQty
		// Flag only; updated_at tracks successful applies, not review marks.
		if err := tx.Model(&Product{}).
			Where("id = ?", stored.ID).
			Update("needs_review", true).Error; err != nil {
			return applyOutcome{}, err
		}
		stored.NeedsReview = true
	}
	return applyOutcome{
		Status: StatusConflict,
		Conflict: &conflictNote{
			Type:          conflictType,
			ServerPayload: marshalSnapshot(stored.Snapshot()),
		},
	}, nil
}

// customerApplier merges last-writer-wins by version. Stale writes are
// recorded as version conflicts but no review flag exists on customers.
type customerApplier struct{}

func (customerApplier) Apply(tx *gorm.DB, ev normalizedEvent, now time.Time) (applyOutcome, error) {
	payload := decodeCustomerPayload(ev.Payload)
	incomingVersion := versionOrDefault(payload.Version)

	var stored Customer
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", ev.EntityID).
		Take(&stored).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		created := Customer{
			ID:          ev.EntityID,
			FullName:    stringOr(payload.FullName, ""),
			Phone:       stringOr(payload.Phone, ""),
			Version:     incomingVersion,
			CreatedAtMs: now.UnixMilli(),
			UpdatedAtMs: now.UnixMilli(),
		}
		if err := tx.Create(&created).Error; err != nil {
			return applyOutcome{}, err
		}
		return applyOutcome{Status: StatusApplied}, nil
	}
	if err != nil {
		return applyOutcome{}, err
	}

	if incomingVersion > stored.Version {
		if payload.FullName != nil {
			stored.FullName = *payload.FullName
		}
		if payload.Phone != nil {
			stored.Phone = *payload.Phone
		}
		stored.Version = incomingVersion
		stored.UpdatedAtMs = now.UnixMilli()
		if err := tx.Save(&stored).Error; err != nil {
			return applyOutcome{}, err
		}
		return applyOutcome{Status: StatusApplied}, nil
	}

	return applyOutcome{
		Status: StatusConflict,
		Conflict: &conflictNote{
			Type:          ConflictVersion,
			ServerPayload: marshalSnapshot(stored.Snapshot()),
		},
	}, nil
}

// saleApplier inserts sales verbatim, items included. Anything other than
// CREATE is ignored: financial records never change through this channel.
type saleApplier struct {
	ids IDProvider
}

func (a saleApplier) Apply(tx *gorm.DB, ev normalizedEvent, now time.Time) (applyOutcome, error) {
	if ev.Operation != OperationCreate {
		return appendOnlyRejection(), nil
	}

	payload := decodeSalePayload(ev.Payload)
	sale := Sale{
		ID:             ev.EntityID,
		SaleDatetimeMs: parseTimestampMs(payload.SaleDatetime, now),
		Total:          decimalOr(payload.Total, decimal.Zero),
		PaymentType:    paymentTypeOrCash(payload.PaymentType),
		Seller:         stringOr(payload.Seller, ""),
		CustomerID:     optionalUUID(payload.Customer),
		CreatedAtMs:    now.UnixMilli(),
		UpdatedAtMs:    now.UnixMilli(),
	}

	for _, item := range payload.Items {
		itemID := optionalUUID(item.ID)
		if itemID == nil {
			minted, err := a.ids.NewID()
			if err != nil {
				return applyOutcome{}, err
			}
			itemID = &minted
		}
		sale.Items = append(sale.Items, SaleItem{
			ID:        *itemID,
			SaleID:    sale.ID,
			ProductID: optionalUUID(item.Product),
			Quantity:  quantityOrDefault(item.Quantity),
			Price:     decimalOr(item.Price, decimal.Zero),
		})
	}

	if err := tx.Create(&sale).Error; err != nil {
		return applyOutcome{}, err
	}
	return applyOutcome{Status: StatusApplied}, nil
}

// expenseApplier inserts expenses verbatim; same append-only policy as sales.
type expenseApplier struct{}

func (expenseApplier) Apply(tx *gorm.DB, ev normalizedEvent, now time.Time) (applyOutcome, error) {
	if ev.Operation != OperationCreate {
		return appendOnlyRejection(), nil
	}

	payload := decodeExpensePayload(ev.Payload)
	expense := Expense{
		ID:                ev.EntityID,
		ExpenseDatetimeMs: parseTimestampMs(payload.ExpenseDatetime, now),
		Category:          stringOr(payload.Category, ""),
		Amount:            decimalOr(payload.Amount, decimal.Zero),
		Note:              stringOr(payload.Note, ""),
		CreatedAtMs:       now.UnixMilli(),
		UpdatedAtMs:       now.UnixMilli(),
	}
	if err := tx.Create(&expense).Error; err != nil {
		return applyOutcome{}, err
	}
	return applyOutcome{Status: StatusApplied}, nil
}

func appendOnlyRejection() applyOutcome {
	return applyOutcome{
		Status: StatusIgnored,
		Conflict: &conflictNote{
			Type:          ConflictAppendOnly,
			ServerPayload: datatypes.JSON([]byte("{}")),
		},
	}
}
