package school

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type School struct {
	ID                   uuid.UUID      `gorm:"column:id;type:uuid;primaryKey;default:gen_random_uuid()"`
	Name                 string         `gorm:"column:name;type:varchar(200);not null"`
	Address              *string        `gorm:"column:address;type:text"`
	Timezone             string         `gorm:"column:timezone;type:varchar(64);not null;default:'Asia/Tashkent'"`
	AbsenceCutoffMinutes int            `gorm:"column:absence_cutoff_minutes;not null;default:180"`
	LateThresholdMinutes int            `gorm:"column:late_threshold_minutes;not null;default:15"`
	WebhookSecretIn      *string        `gorm:"column:webhook_secret_in;type:varchar(100)"`
	WebhookSecretOut     *string        `gorm:"column:webhook_secret_out;type:varchar(100)"`
	CreatedAt            time.Time      `gorm:"column:created_at"`
	UpdatedAt            time.Time      `gorm:"column:updated_at"`
	DeletedAt            gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

func (School) TableName() string {
	return "schools"
}
