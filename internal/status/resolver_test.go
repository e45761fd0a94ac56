package status

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCompute_PersistedStatusWins(t *testing.T) {
	for _, persisted := range []string{"PRESENT", "LATE", "ABSENT", "EXCUSED"} {
		got := Compute(persisted, "09:00", 180, 13*60+5)
		assert.Equal(t, Effective(persisted), got)

		// Schedule inputs must be irrelevant once a record exists.
		got = Compute(persisted, "", 0, 0)
		assert.Equal(t, Effective(persisted), got)
	}
}

func TestCompute_NoSchedule(t *testing.T) {
	assert.Equal(t, PendingEarly, Compute("", "", 180, 10*60))
	assert.Equal(t, PendingEarly, Compute("", "banana", 180, 10*60))
}

func TestCompute_TimeInference(t *testing.T) {
	// class 09:00, cutoff 180 minutes
	assert.Equal(t, PendingEarly, Compute("", "09:00", 180, 8*60))
	assert.Equal(t, PendingLate, Compute("", "09:00", 180, 10*60))
	assert.Equal(t, Absent, Compute("", "09:00", 180, 13*60+1))
}

func TestCompute_Boundaries(t *testing.T) {
	// exactly at start -> PENDING_LATE, not PENDING_EARLY
	assert.Equal(t, PendingLate, Compute("", "09:00", 180, 9*60))
	// exactly at start+cutoff -> ABSENT, not PENDING_LATE
	assert.Equal(t, Absent, Compute("", "09:00", 180, 12*60))
}

func TestNowMinutesInZone(t *testing.T) {
	// 2024-03-01 03:30 UTC is 08:30 in Asia/Tashkent (UTC+5)
	now := time.Date(2024, 3, 1, 3, 30, 0, 0, time.UTC)
	assert.Equal(t, 8*60+30, NowMinutesInZone(now, "Asia/Tashkent"))
	assert.Equal(t, "2024-03-01", DateKeyInZone(now, "Asia/Tashkent"))
}

func TestStartedAndActiveClassIDs(t *testing.T) {
	classes := []ClassWindow{
		{ID: "a", StartTime: "08:00", EndTime: "12:00"},
		{ID: "b", StartTime: "14:00", EndTime: "18:00"},
		{ID: "c"}, // no schedule
	}

	started := StartedClassIDs(classes, 9*60)
	assert.Equal(t, []string{"a", "c"}, started)

	active := ActiveClassIDs(classes, 9*60, 180)
	assert.Equal(t, []string{"a"}, active)

	// active window extends to start+cutoff even past endTime
	active = ActiveClassIDs([]ClassWindow{{ID: "a", StartTime: "08:00", EndTime: "08:30"}}, 10*60, 180)
	assert.Equal(t, []string{"a"}, active)

	// unscheduled classes are never active
	active = ActiveClassIDs(classes, 13*60, 60)
	assert.Empty(t, active)
}

func TestSplitNoScanByClass(t *testing.T) {
	classes := []ClassWindow{
		{ID: "early", StartTime: "14:00"},
		{ID: "late", StartTime: "09:00"},
		{ID: "absent", StartTime: "05:00"},
		{ID: "full", StartTime: "09:00"},
	}
	students := map[string]int{"early": 10, "late": 10, "absent": 10, "full": 10}
	attended := map[string]int{"early": 2, "late": 7, "absent": 9, "full": 10}

	split := SplitNoScanByClass(classes, students, attended, 180, 10*60)
	assert.Equal(t, 8, split.PendingEarly)
	assert.Equal(t, 3, split.PendingLate)
	assert.Equal(t, 1, split.Absent)
}

func TestAttendancePercent(t *testing.T) {
	assert.Equal(t, 0, AttendancePercent(5, 5, 0))
	assert.Equal(t, 77, AttendancePercent(20, 3, 30))
	assert.Equal(t, 100, AttendancePercent(30, 0, 30))
}
