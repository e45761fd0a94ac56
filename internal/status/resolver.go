package status

import (
	"strconv"
	"strings"
	"time"
)

// Effective attendance status for a single student at a moment in time.
// PRESENT/LATE/ABSENT/EXCUSED come from a persisted record; the two PENDING
// values only ever result from time-based inference when no record exists.
type Effective string

const (
	Present      Effective = "PRESENT"
	Late         Effective = "LATE"
	Absent       Effective = "ABSENT"
	Excused      Effective = "EXCUSED"
	PendingEarly Effective = "PENDING_EARLY"
	PendingLate  Effective = "PENDING_LATE"
)

// TimeToMinutes parses an "HH:MM" wall-clock string into minutes since
// midnight. The second return value is false for empty or malformed input.
func TimeToMinutes(hhmm string) (int, bool) {
	parts := strings.SplitN(hhmm, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	return h*60 + m, true
}

// NowMinutesInZone returns minutes since local midnight for the given IANA zone.
func NowMinutesInZone(now time.Time, zone string) int {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)
	return local.Hour()*60 + local.Minute()
}

// DateKeyInZone returns the local calendar date (YYYY-MM-DD) in the given zone.
func DateKeyInZone(now time.Time, zone string) string {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		loc = time.UTC
	}
	return now.In(loc).Format("2006-01-02")
}

// Compute resolves the effective status for one student.
//
// A persisted status always wins: a human or the ingestion pipeline already
// made the call and time-based inference must not override it. Only when no
// record exists does the schedule matter:
//
//	no start time            -> PENDING_EARLY
//	now <  start             -> PENDING_EARLY
//	now <  start + cutoff    -> PENDING_LATE
//	otherwise                -> ABSENT
//
// nowMinutes must already be localized to the school's timezone.
func Compute(dbStatus string, classStartTime string, absenceCutoffMinutes, nowMinutes int) Effective {
	if dbStatus != "" {
		return Effective(dbStatus)
	}

	start, ok := TimeToMinutes(classStartTime)
	if !ok {
		return PendingEarly
	}

	if nowMinutes < start {
		return PendingEarly
	}
	if nowMinutes < start+absenceCutoffMinutes {
		return PendingLate
	}
	return Absent
}

// ClassWindow is the schedule slice of a class needed for scope filtering.
type ClassWindow struct {
	ID        string
	StartTime string
	EndTime   string
}

// StartedClassIDs returns classes whose school day has begun. A class without
// a start time counts as started so it is never silently dropped from
// school-wide aggregates.
func StartedClassIDs(classes []ClassWindow, nowMinutes int) []string {
	started := make([]string, 0, len(classes))
	for _, cls := range classes {
		start, ok := TimeToMinutes(cls.StartTime)
		if !ok || nowMinutes >= start {
			started = append(started, cls.ID)
		}
	}
	return started
}

// ActiveClassIDs returns classes whose window still contains now. The window
// closes at whichever is later: the scheduled end time or start + cutoff, so a
// class stays active at least until its no-scan students would flip to ABSENT.
func ActiveClassIDs(classes []ClassWindow, nowMinutes, absenceCutoffMinutes int) []string {
	active := make([]string, 0, len(classes))
	for _, cls := range classes {
		start, ok := TimeToMinutes(cls.StartTime)
		if !ok {
			continue
		}
		end := start
		if e, ok := TimeToMinutes(cls.EndTime); ok {
			end = e
		}
		cutoffEnd := start + absenceCutoffMinutes
		if cutoffEnd > end {
			end = cutoffEnd
		}
		if nowMinutes >= start && nowMinutes < end {
			active = append(active, cls.ID)
		}
	}
	return active
}

// NoScanSplit buckets students with no attendance record today.
type NoScanSplit struct {
	PendingEarly int
	PendingLate  int
	Absent       int
}

// SplitNoScanByClass distributes each class's not-yet-arrived count into the
// pending/absent buckets using that class's own schedule.
func SplitNoScanByClass(
	classes []ClassWindow,
	studentCounts map[string]int,
	attendedCounts map[string]int,
	absenceCutoffMinutes, nowMinutes int,
) NoScanSplit {
	var split NoScanSplit
	for _, cls := range classes {
		notArrived := studentCounts[cls.ID] - attendedCounts[cls.ID]
		if notArrived <= 0 {
			continue
		}
		switch Compute("", cls.StartTime, absenceCutoffMinutes, nowMinutes) {
		case PendingEarly:
			split.PendingEarly += notArrived
		case PendingLate:
			split.PendingLate += notArrived
		default:
			split.Absent += notArrived
		}
	}
	return split
}

// AttendancePercent is the share of students present or late, rounded.
func AttendancePercent(present, late, total int) int {
	if total <= 0 {
		return 0
	}
	return int(float64(present+late)/float64(total)*100 + 0.5)
}
