package snapshot

import (
	"fmt"

	"go-school/internal/attendance"
)

// Message type discriminators used on the wire.
const (
	TypeSchoolSnapshot    = "school_snapshot"
	TypeClassSnapshot     = "class_snapshot"
	TypeSchoolStatsUpdate = "school_stats_update"
)

// Scope values. "started" = the class's school day has begun; "active" = the
// class window (start .. max(end, start+cutoff)) still contains now.
const (
	ScopeStarted = "started"
	ScopeActive  = "active"
)

// Stats is the aggregate block of a snapshot. Invariant:
// present + late + excused + pendingEarly + pendingLate + absent <= totalStudents.
type Stats struct {
	TotalStudents     int `json:"totalStudents"`
	Present           int `json:"present"`
	Late              int `json:"late"`
	Absent            int `json:"absent"`
	Excused           int `json:"excused"`
	CurrentlyInSchool int `json:"currentlyInSchool"`
	PendingEarly      int `json:"pendingEarly"`
	PendingLate       int `json:"pendingLate"`
}

// SchoolSnapshot is a transient school-wide aggregate. Never persisted; each
// one supersedes the previous snapshot for the same key.
type SchoolSnapshot struct {
	Type        string                   `json:"type"`
	SchoolID    string                   `json:"schoolId"`
	Scope       string                   `json:"scope"`
	Timestamp   string                   `json:"timestamp"`
	Stats       Stats                    `json:"stats"`
	WeeklyStats []attendance.WeeklyEntry `json:"weeklyStats,omitempty"`
}

type ClassSnapshot struct {
	Type      string `json:"type"`
	SchoolID  string `json:"schoolId"`
	ClassID   string `json:"classId"`
	Scope     string `json:"scope"`
	Timestamp string `json:"timestamp"`
	Stats     Stats  `json:"stats"`
}

// SchoolStatsUpdate is the admin-feed companion of a SchoolSnapshot.
type SchoolStatsUpdate struct {
	Type      string `json:"type"`
	SchoolID  string `json:"schoolId"`
	Scope     string `json:"scope"`
	Timestamp string `json:"timestamp"`
	Stats     Stats  `json:"stats"`
}

// Bus key layout. Admin sessions subscribe to a single shared key.
const AdminKey = "admin"

func SchoolKey(schoolID string) string {
	return "school:" + schoolID
}

func ClassKey(schoolID, classID string) string {
	return fmt.Sprintf("class:%s:%s", schoolID, classID)
}
