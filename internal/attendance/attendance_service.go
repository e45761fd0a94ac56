package attendance

import (
	"context"
	"time"

	"go-school/internal/class"
	"go-school/internal/school"
	"go-school/internal/shared/apperror"
	"go-school/internal/status"
	"go-school/internal/student"
)

//go:generate mockgen -source=attendance_service.go -destination=mock/attendance_service_mock.go -package=mock
type Service interface {
	Dashboard(ctx context.Context, q DashboardQuery) (DashboardResponse, error)
	AdminDashboard(ctx context.Context, scope, period, customStart, customEnd string) (AdminDashboardResponse, error)
	EventsToday(ctx context.Context, schoolID string, allowedClassIDs []string, limit int) ([]EventResponse, error)
	EventsHistory(ctx context.Context, schoolID string, allowedClassIDs []string, startKey, endKey string, limit int) ([]EventResponse, error)
}

type service struct {
	repo     Repository
	schools  school.Repository
	classes  class.Repository
	students student.Repository
	now      func() time.Time
}

func NewService(repo Repository, schools school.Repository, classes class.Repository, students student.Repository) Service {
	return &service{repo: repo, schools: schools, classes: classes, students: students, now: time.Now}
}

// scopeClassIDs resolves which classes count toward "today" aggregates.
// Multi-day ranges bypass scope filtering entirely: started/active are
// meaningless for past days.
func scopeClassIDs(schedules []class.Schedule, scope string, isToday bool, nowMinutes, cutoff int) []string {
	all := make([]string, 0, len(schedules))
	windows := make([]status.ClassWindow, 0, len(schedules))
	for _, s := range schedules {
		all = append(all, s.ID)
		windows = append(windows, s.Window())
	}
	if !isToday {
		return all
	}

	if scope == "active" {
		return status.ActiveClassIDs(windows, nowMinutes, cutoff)
	}

	started := status.StartedClassIDs(windows, nowMinutes)
	// Before the school day begins the started set is empty; fall back to the
	// unfiltered set so the dashboard is not blank. Deliberately asymmetric
	// with "active", which has no fallback.
	if len(started) == 0 && len(all) > 0 {
		return all
	}
	return started
}

func filterSchedules(schedules []class.Schedule, classID string, allowed []string) []class.Schedule {
	if classID == "" && allowed == nil {
		return schedules
	}
	allowedSet := make(map[string]bool, len(allowed))
	for _, id := range allowed {
		allowedSet[id] = true
	}
	out := make([]class.Schedule, 0, len(schedules))
	for _, s := range schedules {
		if classID != "" && s.ID != classID {
			continue
		}
		if allowed != nil && !allowedSet[s.ID] {
			continue
		}
		out = append(out, s)
	}
	return out
}

func avgOverDays(total, days int) int {
	if days <= 1 {
		return total
	}
	// Deliberate approximation for multi-day ranges: totals divided by day
	// count and rounded, not a true per-day series.
	return int(float64(total)/float64(days) + 0.5)
}

func (s *service) Dashboard(ctx context.Context, q DashboardQuery) (DashboardResponse, error) {
	sch, err := s.schools.FindByID(ctx, q.SchoolID)
	if err != nil {
		return DashboardResponse{}, apperror.Wrap(err, apperror.CodeNotFound, "School not found", 404)
	}

	loc, locErr := time.LoadLocation(sch.Timezone)
	if locErr != nil {
		loc = time.UTC
	}
	now := s.now()
	nowMinutes := status.NowMinutesInZone(now, sch.Timezone)
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)

	dateRange := ResolveDateRange(q.Period, now, loc, q.CustomStart, q.CustomEnd)
	isToday := dateRange.SingleDay() && dateRange.Start.Equal(today)

	schedules, err := s.classes.ListSchedules(ctx, q.SchoolID)
	if err != nil {
		return DashboardResponse{}, apperror.Wrap(err, apperror.CodeInternalError, "Failed to load classes", 500)
	}
	schedules = filterSchedules(schedules, q.ClassID, q.AllowedClassIDs)

	classIDs := scopeClassIDs(schedules, q.Scope, isToday, nowMinutes, sch.AbsenceCutoffMinutes)

	rangeEnd := dateRange.End.AddDate(0, 0, 1)
	counts, err := s.repo.StatusCountsByRange(ctx, q.SchoolID, classIDs, dateRange.Start, rangeEnd)
	if err != nil {
		return DashboardResponse{}, apperror.Wrap(err, apperror.CodeInternalError, "Aggregation failed", 500)
	}

	daysCount := 1
	if !dateRange.SingleDay() {
		daysCount, err = s.repo.DistinctDaysCount(ctx, q.SchoolID, classIDs, dateRange.Start, rangeEnd)
		if err != nil {
			return DashboardResponse{}, apperror.Wrap(err, apperror.CodeInternalError, "Aggregation failed", 500)
		}
	}

	totalStudents, err := s.students.CountActive(ctx, q.SchoolID, classIDs)
	if err != nil {
		return DashboardResponse{}, apperror.Wrap(err, apperror.CodeInternalError, "Aggregation failed", 500)
	}

	currentlyIn := 0
	if isToday {
		currentlyIn, err = s.repo.CurrentlyInSchoolCount(ctx, q.SchoolID, classIDs, today)
		if err != nil {
			return DashboardResponse{}, apperror.Wrap(err, apperror.CodeInternalError, "Aggregation failed", 500)
		}
	}

	weekStart := dateRange.End.AddDate(0, 0, -6)
	weeklyMap, err := s.repo.WeeklyStatusMap(ctx, q.SchoolID, classIDs, weekStart, rangeEnd)
	if err != nil {
		return DashboardResponse{}, apperror.Wrap(err, apperror.CodeInternalError, "Aggregation failed", 500)
	}

	presentToday := avgOverDays(counts.Present, daysCount)
	lateToday := avgOverDays(counts.Late, daysCount)
	absentToday := avgOverDays(counts.Absent, daysCount)
	excusedToday := avgOverDays(counts.Excused, daysCount)

	var split status.NoScanSplit
	var pending []PendingStudent
	if isToday && len(classIDs) > 0 {
		split, pending, err = s.noScanToday(ctx, q.SchoolID, schedules, classIDs, today, sch.AbsenceCutoffMinutes, nowMinutes)
		if err != nil {
			return DashboardResponse{}, apperror.Wrap(err, apperror.CodeInternalError, "Aggregation failed", 500)
		}
	}

	breakdown, err := s.classBreakdown(ctx, q.SchoolID, schedules, classIDs, dateRange.Start, rangeEnd)
	if err != nil {
		return DashboardResponse{}, apperror.Wrap(err, apperror.CodeInternalError, "Aggregation failed", 500)
	}

	resp := DashboardResponse{
		Period:      q.Period,
		StartDate:   dateRange.Start.Format(dateLayout),
		EndDate:     dateRange.End.Format(dateLayout),
		DaysCount:   daysCount,
		Timezone:    sch.Timezone,
		CurrentTime: now.UTC().Format(time.RFC3339),

		TotalStudents:     totalStudents,
		PresentToday:      presentToday,
		LateToday:         lateToday,
		AbsentToday:       absentToday + split.Absent,
		ExcusedToday:      excusedToday,
		CurrentlyInSchool: currentlyIn,
		PresentPercentage: status.AttendancePercent(presentToday, lateToday, totalStudents),

		TotalPresent: counts.Present,
		TotalLate:    counts.Late,
		TotalAbsent:  counts.Absent,
		TotalExcused: counts.Excused,

		ClassBreakdown:     breakdown,
		WeeklyStats:        WeeklyEntriesFromMap(weeklyMap, dateRange.End),
		NotYetArrived:      pending,
		NotYetArrivedCount: split.PendingEarly + split.PendingLate,
		PendingEarlyCount:  split.PendingEarly,
		LatePendingCount:   split.PendingLate,
	}
	return resp, nil
}

// noScanToday buckets students without a record today and builds the bounded
// not-yet-arrived list.
func (s *service) noScanToday(
	ctx context.Context,
	schoolID string,
	schedules []class.Schedule,
	classIDs []string,
	today time.Time,
	cutoff, nowMinutes int,
) (status.NoScanSplit, []PendingStudent, error) {
	attended, unassignedAttended, err := s.repo.AttendedCountsByClass(ctx, schoolID, classIDs, today)
	if err != nil {
		return status.NoScanSplit{}, nil, err
	}
	studentCounts, err := s.students.CountByClass(ctx, schoolID, classIDs)
	if err != nil {
		return status.NoScanSplit{}, nil, err
	}

	inScope := make(map[string]bool, len(classIDs))
	for _, id := range classIDs {
		inScope[id] = true
	}

	countMap := make(map[string]int, len(studentCounts))
	unassignedTotal := 0
	for _, row := range studentCounts {
		if row.ClassID == nil {
			unassignedTotal += row.Count
			continue
		}
		countMap[*row.ClassID] = row.Count
	}

	windows := make([]status.ClassWindow, 0, len(schedules)+1)
	for _, cls := range schedules {
		if inScope[cls.ID] {
			windows = append(windows, cls.Window())
		}
	}
	// Unassigned students have no schedule; they bucket as pending-early.
	if unassignedTotal > 0 || unassignedAttended > 0 {
		const unassignedKey = "__unassigned__"
		windows = append(windows, status.ClassWindow{ID: unassignedKey})
		countMap[unassignedKey] = unassignedTotal
		attended[unassignedKey] = unassignedAttended
	}

	split := status.SplitNoScanByClass(windows, countMap, attended, cutoff, nowMinutes)

	arrived, err := s.repo.ArrivedStudentIDs(ctx, schoolID, classIDs, today)
	if err != nil {
		return status.NoScanSplit{}, nil, err
	}
	rows, err := s.repo.PendingNotArrived(ctx, schoolID, classIDs, arrived, 20)
	if err != nil {
		return status.NoScanSplit{}, nil, err
	}

	pending := make([]PendingStudent, 0, len(rows))
	for _, row := range rows {
		startTime := ""
		if row.ClassStartTime != nil {
			startTime = *row.ClassStartTime
		}
		st := status.Compute("", startTime, cutoff, nowMinutes)
		if st != status.PendingEarly && st != status.PendingLate {
			continue // already overdue, counted in absent instead
		}
		pending = append(pending, PendingStudent{
			ID:            row.ID,
			Name:          row.Name,
			ClassName:     row.ClassName,
			PendingStatus: string(st),
		})
	}
	return split, pending, nil
}

func (s *service) classBreakdown(
	ctx context.Context,
	schoolID string,
	schedules []class.Schedule,
	classIDs []string,
	start, end time.Time,
) ([]ClassBreakdownRow, error) {
	if len(schedules) == 0 {
		return nil, nil
	}

	statusRows, err := s.repo.ClassBreakdown(ctx, schoolID, classIDs, start, end)
	if err != nil {
		return nil, err
	}
	studentCounts, err := s.students.CountByClass(ctx, schoolID, scheduleIDs(schedules))
	if err != nil {
		return nil, err
	}

	type agg struct{ present, late int }
	byClass := make(map[string]agg)
	for _, row := range statusRows {
		entry := byClass[row.ClassID]
		switch row.Status {
		case "PRESENT":
			entry.present += row.Count
		case "LATE":
			// late students did arrive; count them in present as well
			entry.present += row.Count
			entry.late += row.Count
		}
		byClass[row.ClassID] = entry
	}

	totals := make(map[string]int, len(studentCounts))
	for _, row := range studentCounts {
		if row.ClassID != nil {
			totals[*row.ClassID] = row.Count
		}
	}

	inScope := make(map[string]bool, len(classIDs))
	for _, id := range classIDs {
		inScope[id] = true
	}

	out := make([]ClassBreakdownRow, 0, len(schedules))
	for _, cls := range schedules {
		if classIDs != nil && !inScope[cls.ID] {
			continue
		}
		entry := byClass[cls.ID]
		out = append(out, ClassBreakdownRow{
			ClassID:   cls.ID,
			ClassName: cls.Name,
			Total:     totals[cls.ID],
			Present:   entry.present,
			Late:      entry.late,
		})
	}
	return out, nil
}

func scheduleIDs(schedules []class.Schedule) []string {
	ids := make([]string, 0, len(schedules))
	for _, s := range schedules {
		ids = append(ids, s.ID)
	}
	return ids
}

func (s *service) AdminDashboard(ctx context.Context, scope, period, customStart, customEnd string) (AdminDashboardResponse, error) {
	schools, err := s.schools.ListAll(ctx)
	if err != nil {
		return AdminDashboardResponse{}, apperror.Wrap(err, apperror.CodeInternalError, "Failed to load schools", 500)
	}

	now := s.now()
	resp := AdminDashboardResponse{Schools: make([]AdminSchoolRow, 0, len(schools))}
	weeklyMerged := make(map[string]WeeklyStatus)
	var lastEnd time.Time

	for _, sch := range schools {
		loc, locErr := time.LoadLocation(sch.Timezone)
		if locErr != nil {
			loc = time.UTC
		}
		local := now.In(loc)
		today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
		nowMinutes := status.NowMinutesInZone(now, sch.Timezone)
		dateRange := ResolveDateRange(period, now, loc, customStart, customEnd)
		isToday := dateRange.SingleDay() && dateRange.Start.Equal(today)
		if dateRange.End.After(lastEnd) {
			lastEnd = dateRange.End
		}

		schedules, err := s.classes.ListSchedules(ctx, sch.ID.String())
		if err != nil {
			return AdminDashboardResponse{}, apperror.Wrap(err, apperror.CodeInternalError, "Failed to load classes", 500)
		}
		classIDs := scopeClassIDs(schedules, scope, isToday, nowMinutes, sch.AbsenceCutoffMinutes)

		row := AdminSchoolRow{ID: sch.ID.String(), Name: sch.Name}
		if len(classIDs) > 0 {
			schoolID := sch.ID.String()
			rangeEnd := dateRange.End.AddDate(0, 0, 1)

			counts, err := s.repo.StatusCountsByRange(ctx, schoolID, classIDs, dateRange.Start, rangeEnd)
			if err != nil {
				return AdminDashboardResponse{}, apperror.Wrap(err, apperror.CodeInternalError, "Aggregation failed", 500)
			}
			daysCount := 1
			if !dateRange.SingleDay() {
				daysCount, err = s.repo.DistinctDaysCount(ctx, schoolID, classIDs, dateRange.Start, rangeEnd)
				if err != nil {
					return AdminDashboardResponse{}, apperror.Wrap(err, apperror.CodeInternalError, "Aggregation failed", 500)
				}
			}
			totalStudents, err := s.students.CountActive(ctx, schoolID, classIDs)
			if err != nil {
				return AdminDashboardResponse{}, apperror.Wrap(err, apperror.CodeInternalError, "Aggregation failed", 500)
			}

			var split status.NoScanSplit
			currentlyIn := 0
			if isToday {
				currentlyIn, err = s.repo.CurrentlyInSchoolCount(ctx, schoolID, classIDs, today)
				if err != nil {
					return AdminDashboardResponse{}, apperror.Wrap(err, apperror.CodeInternalError, "Aggregation failed", 500)
				}
				split, _, err = s.noScanToday(ctx, schoolID, schedules, classIDs, today, sch.AbsenceCutoffMinutes, nowMinutes)
				if err != nil {
					return AdminDashboardResponse{}, apperror.Wrap(err, apperror.CodeInternalError, "Aggregation failed", 500)
				}
			}

			weeklyMap, err := s.repo.WeeklyStatusMap(ctx, schoolID, classIDs, dateRange.End.AddDate(0, 0, -6), rangeEnd)
			if err != nil {
				return AdminDashboardResponse{}, apperror.Wrap(err, apperror.CodeInternalError, "Aggregation failed", 500)
			}
			for key, entry := range weeklyMap {
				merged := weeklyMerged[key]
				merged.Present += entry.Present
				merged.Late += entry.Late
				merged.Absent += entry.Absent
				weeklyMerged[key] = merged
			}

			// Per-school rounding happens before the cross-school sums below.
			row.TotalStudents = totalStudents
			row.PresentToday = avgOverDays(counts.Present, daysCount)
			row.LateToday = avgOverDays(counts.Late, daysCount)
			row.AbsentToday = avgOverDays(counts.Absent, daysCount) + split.Absent
			row.ExcusedToday = avgOverDays(counts.Excused, daysCount)
			row.PendingEarlyCount = split.PendingEarly
			row.LatePendingCount = split.PendingLate
			row.CurrentlyInSchool = currentlyIn
			row.AttendancePercent = status.AttendancePercent(row.PresentToday, row.LateToday, totalStudents)
		}

		resp.Schools = append(resp.Schools, row)
		resp.Totals.TotalSchools++
		resp.Totals.TotalStudents += row.TotalStudents
		resp.Totals.PresentToday += row.PresentToday
		resp.Totals.LateToday += row.LateToday
		resp.Totals.AbsentToday += row.AbsentToday
		resp.Totals.ExcusedToday += row.ExcusedToday
		resp.Totals.PendingEarlyCount += row.PendingEarlyCount
		resp.Totals.LatePendingCount += row.LatePendingCount
		resp.Totals.CurrentlyInSchool += row.CurrentlyInSchool
	}

	resp.Totals.AttendancePercent = status.AttendancePercent(
		resp.Totals.PresentToday, resp.Totals.LateToday, resp.Totals.TotalStudents)

	if lastEnd.IsZero() {
		lastEnd = s.now().UTC().Truncate(24 * time.Hour)
	}
	resp.WeeklyStats = WeeklyEntriesFromMap(weeklyMerged, lastEnd)
	return resp, nil
}

func (s *service) EventsToday(ctx context.Context, schoolID string, allowedClassIDs []string, limit int) ([]EventResponse, error) {
	sch, err := s.schools.FindByID(ctx, schoolID)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeNotFound, "School not found", 404)
	}
	now := s.now()
	loc, locErr := time.LoadLocation(sch.Timezone)
	if locErr != nil {
		loc = time.UTC
	}
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)

	rows, err := s.repo.RecentEvents(ctx, schoolID, allowedClassIDs, today, today.AddDate(0, 0, 1), limit)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternalError, "Failed to load events", 500)
	}
	return mapEvents(rows), nil
}

func (s *service) EventsHistory(ctx context.Context, schoolID string, allowedClassIDs []string, startKey, endKey string, limit int) ([]EventResponse, error) {
	start, err := time.Parse(dateLayout, startKey)
	if err != nil {
		return nil, apperror.RequiredField("startDate")
	}
	end, err := time.Parse(dateLayout, endKey)
	if err != nil {
		return nil, apperror.RequiredField("endDate")
	}
	if limit <= 0 || limit > 500 {
		limit = 200
	}

	rows, err := s.repo.RecentEvents(ctx, schoolID, allowedClassIDs, start, end.AddDate(0, 0, 1), limit)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternalError, "Failed to load events", 500)
	}
	return mapEvents(rows), nil
}

func mapEvents(rows []AttendanceEvent) []EventResponse {
	out := make([]EventResponse, 0, len(rows))
	for _, ev := range rows {
		resp := EventResponse{
			ID:        ev.ID.String(),
			EventType: ev.EventType,
			Timestamp: ev.Timestamp.UTC().Format(time.RFC3339),
			DeviceID:  ev.DeviceID,
		}
		if ev.Student != nil {
			st := &EventStudent{ID: ev.Student.ID.String(), Name: ev.Student.Name}
			if ev.Student.ClassID != nil {
				id := ev.Student.ClassID.String()
				st.ClassID = &id
			}
			if ev.Student.Class != nil {
				st.ClassName = &ev.Student.Class.Name
			}
			resp.Student = st
		}
		out = append(out, resp)
	}
	return out
}
