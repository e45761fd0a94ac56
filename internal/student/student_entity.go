package student

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Student struct {
	ID              uuid.UUID      `gorm:"column:id;type:uuid;primaryKey;default:gen_random_uuid()"`
	SchoolID        uuid.UUID      `gorm:"column:school_id;type:uuid;not null;index"`
	ClassID         *uuid.UUID     `gorm:"column:class_id;type:uuid;index"` // nil = unassigned
	Name            string         `gorm:"column:name;type:varchar(200);not null"`
	DeviceStudentID *string        `gorm:"column:device_student_id;type:varchar(100);index"`
	PhotoURL        *string        `gorm:"column:photo_url;type:text"`
	IsActive        bool           `gorm:"column:is_active;not null;default:true"`
	CreatedAt       time.Time      `gorm:"column:created_at"`
	UpdatedAt       time.Time      `gorm:"column:updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

func (Student) TableName() string {
	return "students"
}
