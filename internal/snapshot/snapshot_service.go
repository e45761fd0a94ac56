package snapshot

import (
	"context"
	"time"

	"go-school/internal/attendance"
	"go-school/internal/class"
	"go-school/internal/school"
	"go-school/internal/shared/apperror"
	"go-school/internal/status"
	"go-school/internal/student"
)

//go:generate mockgen -source=snapshot_service.go -destination=mock/snapshot_service_mock.go -package=mock
type Service interface {
	ComputeSchool(ctx context.Context, schoolID, scope string, includeWeekly bool) (*SchoolSnapshot, error)
	ComputeClass(ctx context.Context, schoolID, classID, scope string) (*ClassSnapshot, error)
}

type service struct {
	repo     attendance.Repository
	schools  school.Repository
	classes  class.Repository
	students student.Repository
	now      func() time.Time
}

func NewService(repo attendance.Repository, schools school.Repository, classes class.Repository, students student.Repository) Service {
	return &service{repo: repo, schools: schools, classes: classes, students: students, now: time.Now}
}

func (s *service) ComputeSchool(ctx context.Context, schoolID, scope string, includeWeekly bool) (*SchoolSnapshot, error) {
	sch, err := s.schools.FindByID(ctx, schoolID)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeNotFound, "School not found", 404)
	}

	now := s.now()
	nowMinutes := status.NowMinutesInZone(now, sch.Timezone)
	today := localMidnight(now, sch.Timezone)

	schedules, err := s.classes.ListSchedules(ctx, schoolID)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternalError, "Failed to load classes", 500)
	}

	windows := make([]status.ClassWindow, 0, len(schedules))
	all := make([]string, 0, len(schedules))
	for _, cls := range schedules {
		windows = append(windows, cls.Window())
		all = append(all, cls.ID)
	}

	var classIDs []string
	if scope == ScopeActive {
		classIDs = status.ActiveClassIDs(windows, nowMinutes, sch.AbsenceCutoffMinutes)
	} else {
		classIDs = status.StartedClassIDs(windows, nowMinutes)
		// started-only fallback: before the school day the set is empty and
		// the dashboard would go blank
		if len(classIDs) == 0 && len(all) > 0 {
			classIDs = all
		}
	}

	stats, err := s.stats(ctx, sch, classIDs, schedules, today, nowMinutes)
	if err != nil {
		return nil, err
	}

	snap := &SchoolSnapshot{
		Type:      TypeSchoolSnapshot,
		SchoolID:  schoolID,
		Scope:     scope,
		Timestamp: now.UTC().Format(time.RFC3339),
		Stats:     stats,
	}

	if includeWeekly {
		weeklyMap, err := s.repo.WeeklyStatusMap(ctx, schoolID, classIDs, today.AddDate(0, 0, -6), today.AddDate(0, 0, 1))
		if err != nil {
			return nil, apperror.Wrap(err, apperror.CodeInternalError, "Aggregation failed", 500)
		}
		snap.WeeklyStats = attendance.WeeklyEntriesFromMap(weeklyMap, today)
	}

	return snap, nil
}

func (s *service) ComputeClass(ctx context.Context, schoolID, classID, scope string) (*ClassSnapshot, error) {
	sch, err := s.schools.FindByID(ctx, schoolID)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeNotFound, "School not found", 404)
	}

	cls, err := s.classes.FindByID(ctx, classID)
	if err != nil || cls.SchoolID.String() != schoolID {
		return nil, apperror.New(apperror.CodeNotFound, "Class not found", 404)
	}

	now := s.now()
	nowMinutes := status.NowMinutesInZone(now, sch.Timezone)
	today := localMidnight(now, sch.Timezone)

	schedule := class.Schedule{ID: classID, Name: cls.Name, StartTime: cls.StartTime, EndTime: cls.EndTime}
	stats, err := s.stats(ctx, sch, []string{classID}, []class.Schedule{schedule}, today, nowMinutes)
	if err != nil {
		return nil, err
	}

	return &ClassSnapshot{
		Type:      TypeClassSnapshot,
		SchoolID:  schoolID,
		ClassID:   classID,
		Scope:     scope,
		Timestamp: now.UTC().Format(time.RFC3339),
		Stats:     stats,
	}, nil
}

// stats assembles today's aggregate block for the given class set, then
// normalizes the absent count so the buckets never sum past the roster size.
func (s *service) stats(
	ctx context.Context,
	sch *school.School,
	classIDs []string,
	schedules []class.Schedule,
	today time.Time,
	nowMinutes int,
) (Stats, error) {
	if len(classIDs) == 0 {
		return Stats{}, nil
	}
	schoolID := sch.ID.String()

	total, err := s.students.CountActive(ctx, schoolID, classIDs)
	if err != nil {
		return Stats{}, apperror.Wrap(err, apperror.CodeInternalError, "Aggregation failed", 500)
	}
	counts, err := s.repo.StatusCountsByRange(ctx, schoolID, classIDs, today, today.AddDate(0, 0, 1))
	if err != nil {
		return Stats{}, apperror.Wrap(err, apperror.CodeInternalError, "Aggregation failed", 500)
	}
	currentlyIn, err := s.repo.CurrentlyInSchoolCount(ctx, schoolID, classIDs, today)
	if err != nil {
		return Stats{}, apperror.Wrap(err, apperror.CodeInternalError, "Aggregation failed", 500)
	}

	attended, _, err := s.repo.AttendedCountsByClass(ctx, schoolID, classIDs, today)
	if err != nil {
		return Stats{}, apperror.Wrap(err, apperror.CodeInternalError, "Aggregation failed", 500)
	}
	studentCounts, err := s.students.CountByClass(ctx, schoolID, classIDs)
	if err != nil {
		return Stats{}, apperror.Wrap(err, apperror.CodeInternalError, "Aggregation failed", 500)
	}

	inScope := make(map[string]bool, len(classIDs))
	for _, id := range classIDs {
		inScope[id] = true
	}
	countMap := make(map[string]int, len(studentCounts))
	for _, row := range studentCounts {
		if row.ClassID != nil {
			countMap[*row.ClassID] = row.Count
		}
	}
	windows := make([]status.ClassWindow, 0, len(schedules))
	for _, cls := range schedules {
		if inScope[cls.ID] {
			windows = append(windows, cls.Window())
		}
	}
	split := status.SplitNoScanByClass(windows, countMap, attended, sch.AbsenceCutoffMinutes, nowMinutes)

	// The aggregate queries run against a live table, so the buckets can
	// briefly overlap. Clamp absent rather than reporting more students than
	// exist.
	reserved := counts.Present + counts.Late + counts.Excused + split.PendingEarly + split.PendingLate
	capacity := total - reserved
	if capacity < 0 {
		capacity = 0
	}
	absent := counts.Absent + split.Absent
	if absent > capacity {
		absent = capacity
	}

	return Stats{
		TotalStudents:     total,
		Present:           counts.Present,
		Late:              counts.Late,
		Absent:            absent,
		Excused:           counts.Excused,
		CurrentlyInSchool: currentlyIn,
		PendingEarly:      split.PendingEarly,
		PendingLate:       split.PendingLate,
	}, nil
}

func localMidnight(now time.Time, zone string) time.Time {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}
