package devices

// Device tracks one point-of-sale terminal known to the sync service. Rows
// are bookkeeping only; they never gate reconciliation.
type Device struct {
	DeviceID     string `gorm:"column:device_id;primaryKey;size:120;not null"`
	Label        string `gorm:"column:label;size:255;not null;default:''"`
	LastPushAtMs int64  `gorm:"column:last_push_at_ms;not null;default:0"`
	LastPullAtMs int64  `gorm:"column:last_pull_at_ms;not null;default:0"`
	LastSeenAtMs int64  `gorm:"column:last_seen_at_ms;not null;default:0;index:idx_devices_last_seen"`
	CreatedAtMs  int64  `gorm:"column:created_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Device) TableName() string {
	return "devices"
}
