package attendance

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DailyAttendance is the one-row-per-(student, date) source of truth. Created
// lazily on the first scan of the day, mutated by every later scan or manual
// edit, never deleted in normal operation.
type DailyAttendance struct {
	ID                   uuid.UUID      `gorm:"column:id;type:uuid;primaryKey;default:gen_random_uuid()"`
	SchoolID             uuid.UUID      `gorm:"column:school_id;type:uuid;not null;index"`
	StudentID            uuid.UUID      `gorm:"column:student_id;type:uuid;not null;uniqueIndex:uq_daily_student_date"`
	Date                 time.Time      `gorm:"column:date;type:date;not null;uniqueIndex:uq_daily_student_date;index"`
	Status               string         `gorm:"column:status;type:varchar(20);not null;default:PRESENT"`
	FirstScanTime        *time.Time     `gorm:"column:first_scan_time;type:timestamptz"`
	LastScanTime         *time.Time     `gorm:"column:last_scan_time;type:timestamptz"`
	LastInTime           *time.Time     `gorm:"column:last_in_time;type:timestamptz"`
	LastOutTime          *time.Time     `gorm:"column:last_out_time;type:timestamptz"`
	CurrentlyInSchool    bool           `gorm:"column:currently_in_school;not null;default:false"`
	ScanCount            int            `gorm:"column:scan_count;not null;default:0"`
	LateMinutes          *int           `gorm:"column:late_minutes"`
	TotalTimeOnPremises  int            `gorm:"column:total_time_on_premises;not null;default:0"`
	Notes                *string        `gorm:"column:notes;type:text"`
	CreatedAt            time.Time      `gorm:"column:created_at"`
	UpdatedAt            time.Time      `gorm:"column:updated_at"`
	DeletedAt            gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

func (DailyAttendance) TableName() string {
	return "daily_attendances"
}

// AttendanceEvent is one raw IN/OUT scan as delivered by a device webhook.
// EventKey dedupes device redeliveries.
type AttendanceEvent struct {
	ID         uuid.UUID      `gorm:"column:id;type:uuid;primaryKey;default:gen_random_uuid()"`
	EventKey   string         `gorm:"column:event_key;type:varchar(64);not null;uniqueIndex"`
	SchoolID   uuid.UUID      `gorm:"column:school_id;type:uuid;not null;index"`
	StudentID  *uuid.UUID     `gorm:"column:student_id;type:uuid;index"`
	DeviceID   *string        `gorm:"column:device_id;type:varchar(100)"`
	EventType  string         `gorm:"column:event_type;type:varchar(3);not null"` // IN | OUT
	Timestamp  time.Time      `gorm:"column:timestamp;type:timestamptz;not null;index"`
	RawPayload []byte         `gorm:"column:raw_payload;type:jsonb"`
	CreatedAt  time.Time      `gorm:"column:created_at"`
	Student    *StudentRef    `gorm:"foreignKey:StudentID;references:ID"`
}

func (AttendanceEvent) TableName() string {
	return "attendance_events"
}

type StudentRef struct {
	ID      uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Name    string     `gorm:"column:name"`
	ClassID *uuid.UUID `gorm:"column:class_id;type:uuid"`
	Class   *ClassRef  `gorm:"foreignKey:ClassID;references:ID"`
}

func (StudentRef) TableName() string {
	return "students"
}

type ClassRef struct {
	ID   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name string    `gorm:"column:name"`
}

func (ClassRef) TableName() string {
	return "classes"
}
