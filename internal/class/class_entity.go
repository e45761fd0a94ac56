package class

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Class struct {
	ID        uuid.UUID      `gorm:"column:id;type:uuid;primaryKey;default:gen_random_uuid()"`
	SchoolID  uuid.UUID      `gorm:"column:school_id;type:uuid;not null;index"`
	Name      string         `gorm:"column:name;type:varchar(100);not null"`
	StartTime *string        `gorm:"column:start_time;type:varchar(5)"` // "HH:MM" local wall clock
	EndTime   *string        `gorm:"column:end_time;type:varchar(5)"`
	CreatedAt time.Time      `gorm:"column:created_at"`
	UpdatedAt time.Time      `gorm:"column:updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

func (Class) TableName() string {
	return "classes"
}

// TeacherClass links a teacher user to a class they are assigned to.
type TeacherClass struct {
	TeacherID uuid.UUID `gorm:"column:teacher_id;type:uuid;primaryKey"`
	ClassID   uuid.UUID `gorm:"column:class_id;type:uuid;primaryKey"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (TeacherClass) TableName() string {
	return "teacher_classes"
}
