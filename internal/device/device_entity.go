package device

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Device is one biometric terminal mounted at a school gate. SerialNumber is
// the identifier the device reports in its webhook payloads.
type Device struct {
	ID           uuid.UUID      `gorm:"column:id;type:uuid;primaryKey;default:gen_random_uuid()"`
	SchoolID     uuid.UUID      `gorm:"column:school_id;type:uuid;not null;index"`
	SerialNumber string         `gorm:"column:serial_number;type:varchar(100);not null;index"`
	Name         string         `gorm:"column:name;type:varchar(100)"`
	Direction    string         `gorm:"column:direction;type:varchar(3);not null;default:IN"`
	IsActive     bool           `gorm:"column:is_active;not null;default:true"`
	LastSeenAt   *time.Time     `gorm:"column:last_seen_at;type:timestamptz"`
	CreatedAt    time.Time      `gorm:"column:created_at"`
	UpdatedAt    time.Time      `gorm:"column:updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

func (Device) TableName() string {
	return "devices"
}
