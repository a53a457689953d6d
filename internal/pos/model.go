package pos

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// EntityType enumerates the synchronizable entity kinds.
type EntityType string

const (
	// EntityTypeProduct merges last-writer-wins by version.
	EntityTypeProduct EntityType = "product"
	// EntityTypeCustomer merges last-writer-wins by version.
	EntityTypeCustomer EntityType = "customer"
	// EntityTypeSale is append-only.
	EntityTypeSale EntityType = "sale"
	// EntityTypeExpense is append-only.
	EntityTypeExpense EntityType = "expense"
)

// OperationType enumerates client-submitted operations.
type OperationType string

const (
	// OperationCreate inserts a new record.
	OperationCreate OperationType = "CREATE"
	// OperationUpdate overwrites a versioned record.
	OperationUpdate OperationType = "UPDATE"
)

// EventStatus is the terminal classification of one push event. An event is
// classified exactly once and never transitions afterwards.
type EventStatus string

const (
	// StatusApplied means the store mutation happened.
	StatusApplied EventStatus = "applied"
	// StatusDuplicate means the event id was already in the ledger; nothing reapplied.
	StatusDuplicate EventStatus = "duplicate"
	// StatusConflict means a stale version or stock divergence rejected the write.
	StatusConflict EventStatus = "conflict"
	// StatusIgnored means a structurally disallowed operation on an append-only entity.
	StatusIgnored EventStatus = "ignored"
	// StatusInvalid means the event was malformed or unaddressable.
	StatusInvalid EventStatus = "invalid"
)

// ConflictType classifies a Conflict Log row.
type ConflictType string

const (
	// ConflictVersion is a stale write rejected by the version comparison.
	ConflictVersion ConflictType = "version_conflict"
	// ConflictStockQty is a stale write whose stock_qty diverged from the stored value.
	ConflictStockQty ConflictType = "stock_qty_conflict"
	// ConflictAppendOnly is a non-CREATE operation against an append-only entity.
	ConflictAppendOnly ConflictType = "append_only"
)

// EventRecord is the append-only Event Ledger row. Rows are write-once and
// unique per event id; the ledger is the sole idempotency mechanism.
type EventRecord struct {
	EventID     string         `gorm:"column:event_id;primaryKey;size:36;not null"`
	EntityType  string         `gorm:"column:entity_type;size:50;not null"`
	EntityID    string         `gorm:"column:entity_id;size:36;not null;default:''"`
	Operation   string         `gorm:"column:operation;size:10;not null;default:''"`
	Payload     datatypes.JSON `gorm:"column:payload_json"`
	DeviceID    string         `gorm:"column:device_id;size:120;not null;default:''"`
	Status      EventStatus    `gorm:"column:status;size:20;not null"`
	Synthetic   bool           `gorm:"column:synthetic_key;not null;default:false"`
	CreatedAtMs int64          `gorm:"column:created_at_ms;not null;index:idx_sync_events_created"`
}

// TableName provides the explicit table binding for GORM.
func (EventRecord) TableName() string {
	return "sync_events"
}

// ConflictRecord is the write-once Conflict Log row with before/after payload
// snapshots for audit and resolution tooling.
type ConflictRecord struct {
	ConflictID    string         `gorm:"column:conflict_id;primaryKey;size:36;not null"`
	EventID       string         `gorm:"column:event_id;size:36;not null;index:idx_conflicts_event"`
	EntityType    string         `gorm:"column:entity_type;size:50;not null"`
	EntityID      string         `gorm:"column:entity_id;size:36;not null"`
	ConflictType  ConflictType   `gorm:"column:conflict_type;size:50;not null"`
	ServerPayload datatypes.JSON `gorm:"column:server_payload"`
	ClientPayload datatypes.JSON `gorm:"column:client_payload"`
	Resolved      bool           `gorm:"column:resolved;not null;default:false"`
	CreatedAtMs   int64          `gorm:"column:created_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ConflictRecord) TableName() string {
	return "conflict_log"
}

// PushEvent carries one client-submitted event exactly as received. Fields
// stay raw so that malformed events flow through classification instead of
// failing the whole batch.
type PushEvent struct {
	EventID    string
	EntityType string
	EntityID   string
	Operation  string
	Payload    json.RawMessage
}

// EventResult is the terminal status reported for one submitted event. The
// event id echoes the client's submission verbatim, valid or not.
type EventResult struct {
	EventID string
	Status  EventStatus
}

// PushResult is the outcome of one push batch, one result per event in
// submission order.
type PushResult struct {
	ServerTime time.Time
	Results    []EventResult
}

// normalizedEvent is a PushEvent after canonicalization. A zero EventID means
// the client key was absent or unparseable and a synthetic ledger key is needed.
type normalizedEvent struct {
	EventID    string
	EntityType EntityType
	EntityID   string
	Operation  OperationType
	Payload    json.RawMessage
	Valid      bool
}

func normalizeEvent(ev PushEvent) normalizedEvent {
	norm := normalizedEvent{
		EntityType: EntityType(strings.ToLower(strings.TrimSpace(ev.EntityType))),
		Operation:  OperationType(strings.ToUpper(strings.TrimSpace(ev.Operation))),
		Payload:    ev.Payload,
	}

	if parsed, err := uuid.Parse(strings.TrimSpace(ev.EventID)); err == nil {
		norm.EventID = parsed.String()
	}
	if parsed, err := uuid.Parse(strings.TrimSpace(ev.EntityID)); err == nil {
		norm.EntityID = parsed.String()
	}

	norm.Valid = norm.EventID != "" && norm.EntityID != "" && norm.EntityType != ""
	return norm
}

func payloadOrEmpty(raw json.RawMessage) datatypes.JSON {
	if len(raw) == 0 {
		return datatypes.JSON([]byte("{}"))
	}
	return datatypes.JSON(raw)
}
