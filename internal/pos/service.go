package pos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError carries a stable machine-readable code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "pos.service.new"
	opPush       = "pos.push"
	opPull       = "pos.pull"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// IDProvider mints identifiers for conflict rows and synthetic ledger keys.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig wires the reconciliation service dependencies.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service implements the push reconciler and the pull change feed.
type Service struct {
	db       *gorm.DB
	clock    func() time.Time
	ids      IDProvider
	logger   *zap.Logger
	appliers map[EntityType]entityApplier
}

// NewService validates dependencies and builds the per-entity applier registry.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:     cfg.Database,
		clock:  clock,
		ids:    cfg.IDProvider,
		logger: logger,
		appliers: map[EntityType]entityApplier{
			EntityTypeProduct:  productApplier{},
			EntityTypeCustomer: customerApplier{},
			EntityTypeSale:     saleApplier{ids: cfg.IDProvider},
			EntityTypeExpense:  expenseApplier{},
		},
	}, nil
}

// Push classifies and applies each event of a batch independently, in array
// order. A store failure aborts the request; per-event rejections do not.
func (s *Service) Push(ctx context.Context, deviceID string, events []PushEvent) (PushResult, error) {
	serverTime := s.clock().UTC()

	results := make([]EventResult, 0, len(events))
	for _, event := range events {
		status, err := s.processEvent(ctx, deviceID, event)
		if err != nil {
			s.logError(opPush, "event_failed", err,
				zap.String("device_id", deviceID),
				zap.String("event_id", event.EventID))
			return PushResult{}, newServiceError(opPush, "event_failed", err)
		}
		results = append(results, EventResult{EventID: event.EventID, Status: status})
	}

	return PushResult{ServerTime: serverTime, Results: results}, nil
}

// processEvent runs one event through dedupe, classification, the store
// mutation and the ledger/conflict writes as a single transaction. The ledger
// existence check and the entity row lock live in the same transaction so the
// version comparison never sees a stale read.
func (s *Service) processEvent(ctx context.Context, deviceID string, event PushEvent) (EventStatus, error) {
	norm := normalizeEvent(event)

	var status EventStatus
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if norm.EventID != "" {
			var seen EventRecord
			err := tx.Where("event_id = ?", norm.EventID).Take(&seen).Error
			if err == nil {
				// Retries always report duplicate, whatever the original
				// classification was. No new ledger row.
				status = StatusDuplicate
				return nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}

		var conflict *conflictNote
		applier, known := s.appliers[norm.EntityType]
		switch {
		case !norm.Valid, !known:
			status = StatusInvalid
		default:
			outcome, err := applier.Apply(tx, norm, s.clock().UTC())
			if err != nil {
				return err
			}
			status = outcome.Status
			conflict = outcome.Conflict
		}

		ledgerKey := norm.EventID
		synthetic := false
		if ledgerKey == "" {
			// No client key to dedupe on; mint one so the malformed
			// submission still leaves an audit trail.
			minted, err := s.ids.NewID()
			if err != nil {
				return err
			}
			ledgerKey = minted
			synthetic = true
		}

		nowMs := s.clock().UTC().UnixMilli()
		record := EventRecord{
			EventID:     ledgerKey,
			EntityType:  string(norm.EntityType),
			EntityID:    norm.EntityID,
			Operation:   string(norm.Operation),
			Payload:     payloadOrEmpty(norm.Payload),
			DeviceID:    deviceID,
			Status:      status,
			Synthetic:   synthetic,
			CreatedAtMs: nowMs,
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}

		if conflict != nil {
			conflictID, err := s.ids.NewID()
			if err != nil {
				return err
			}
			row := ConflictRecord{
				ConflictID:    conflictID,
				EventID:       ledgerKey,
				EntityType:    string(norm.EntityType),
				EntityID:      norm.EntityID,
				ConflictType:  conflict.Type,
				ServerPayload: conflict.ServerPayload,
				ClientPayload: payloadOrEmpty(norm.Payload),
				CreatedAtMs:   nowMs,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if txErr != nil {
		return "", txErr
	}
	return status, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("pos service error", attrs...)
}
