package devices

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidDeviceID indicates the caller supplied an empty device identifier.
var ErrInvalidDeviceID = errors.New("devices: invalid device id")

// Activity distinguishes which sync direction a device was last seen on.
type Activity string

const (
	// ActivityPush marks a push batch submission.
	ActivityPush Activity = "push"
	// ActivityPull marks a change-feed read.
	ActivityPull Activity = "pull"
)

// ServiceConfig describes the dependencies of the device registry.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service maintains last-seen bookkeeping per device id so the fleet is
// visible to back-office status tooling.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	known sync.Map
}

// NewService constructs the registry service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("devices: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: cfg.Database, now: clock}, nil
}

// Register upserts the device row at provisioning time, stamping the label
// when one is supplied. An empty label never clears a stored one.
func (s *Service) Register(ctx context.Context, deviceID, label string) error {
	trimmed := strings.TrimSpace(deviceID)
	if trimmed == "" {
		return ErrInvalidDeviceID
	}

	nowMs := s.now().UTC().UnixMilli()
	created := Device{
		DeviceID:     trimmed,
		Label:        strings.TrimSpace(label),
		LastSeenAtMs: nowMs,
		CreatedAtMs:  nowMs,
	}
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&created).Error; err != nil {
		return err
	}
	s.known.Store(trimmed, struct{}{})

	if relabel := strings.TrimSpace(label); relabel != "" {
		return s.db.WithContext(ctx).
			Model(&Device{}).
			Where("device_id = ?", trimmed).
			Update("label", relabel).Error
	}
	return nil
}

// RecordActivity upserts the device row and stamps the activity timestamps.
// The in-process cache skips the insert attempt for devices already seen.
func (s *Service) RecordActivity(ctx context.Context, deviceID string, activity Activity) error {
	trimmed := strings.TrimSpace(deviceID)
	if trimmed == "" {
		return ErrInvalidDeviceID
	}

	nowMs := s.now().UTC().UnixMilli()

	if _, seen := s.known.Load(trimmed); !seen {
		created := Device{
			DeviceID:     trimmed,
			LastSeenAtMs: nowMs,
			CreatedAtMs:  nowMs,
		}
		// Two first-contact requests can race past the cache; the conflict
		// clause lets the loser fall through to the stamp update below.
		if err := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&created).Error; err != nil {
			return err
		}
		s.known.Store(trimmed, struct{}{})
	}

	updates := map[string]any{"last_seen_at_ms": nowMs}
	switch activity {
	case ActivityPush:
		updates["last_push_at_ms"] = nowMs
	case ActivityPull:
		updates["last_pull_at_ms"] = nowMs
	}
	return s.db.WithContext(ctx).
		Model(&Device{}).
		Where("device_id = ?", trimmed).
		Updates(updates).Error
}

// List returns the fleet ordered by most recent activity.
func (s *Service) List(ctx context.Context) ([]Device, error) {
	var fleet []Device
	if err := s.db.WithContext(ctx).
		Order("last_seen_at_ms DESC").
		Find(&fleet).Error; err != nil {
		return nil, err
	}
	return fleet, nil
}
