package stream

import (
	"time"

	"go-school/internal/attendance"
)

const TypeAttendanceEvent = "attendance_event"

const EventAdminKey = "events:admin"

func EventSchoolKey(schoolID string) string {
	return "events:school:" + schoolID
}

func EventClassKey(schoolID, classID string) string {
	return "events:class:" + schoolID + ":" + classID
}

// AttendanceEvent is the wire payload for a single scan pushed to live
// viewers. SchoolID and ClassID are carried alongside the event so stream
// sessions can re-check scope on delivery, not just at subscribe time.
type AttendanceEvent struct {
	Type      string                   `json:"type"`
	SchoolID  string                   `json:"schoolId"`
	ClassID   *string                  `json:"classId,omitempty"`
	Timestamp string                   `json:"timestamp"`
	Event     attendance.EventResponse `json:"event"`
}

// Emitter fans a scan event out to its school feed, its class feed when the
// student is assigned, and the admin feed.
type Emitter struct {
	pub Publisher
	now func() time.Time
}

func NewEmitter(pub Publisher) *Emitter {
	return &Emitter{pub: pub, now: time.Now}
}

func (e *Emitter) EmitScan(schoolID string, event attendance.EventResponse) {
	payload := AttendanceEvent{
		Type:      TypeAttendanceEvent,
		SchoolID:  schoolID,
		Timestamp: e.now().UTC().Format(time.RFC3339),
		Event:     event,
	}
	if event.Student != nil {
		payload.ClassID = event.Student.ClassID
	}

	e.pub.Publish(EventSchoolKey(schoolID), payload)
	if payload.ClassID != nil {
		e.pub.Publish(EventClassKey(schoolID, *payload.ClassID), payload)
	}
	e.pub.Publish(EventAdminKey, payload)
}
