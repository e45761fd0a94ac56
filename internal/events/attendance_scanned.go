package events

import "time"

const AttendanceScannedTopic = "school.attendance.scan.v1"

// AttendanceScannedEvent is the downstream export of one stored scan, drained
// from the outbox to Kafka for reporting and notification consumers.
type AttendanceScannedEvent struct {
	EventType  string    `json:"event_type"`
	RequestID  string    `json:"request_id,omitempty"`
	EventID    string    `json:"event_id"`
	SchoolID   string    `json:"school_id"`
	StudentID  *string   `json:"student_id,omitempty"`
	ClassID    *string   `json:"class_id,omitempty"`
	Direction  string    `json:"direction"`
	Status     string    `json:"status,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
