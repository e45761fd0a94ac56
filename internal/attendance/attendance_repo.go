package attendance

import (
	"context"
	"time"

	"gorm.io/gorm"
)

const dateLayout = "2006-01-02"

// StatusCounts are persisted-record counts per status within a range.
type StatusCounts struct {
	Present int
	Late    int
	Absent  int
	Excused int
}

// WeeklyStatus is one calendar day's counts inside a weekly map.
type WeeklyStatus struct {
	Present int
	Late    int
	Absent  int
}

// ClassStatusRow is one (class, status) bucket of the class breakdown query.
type ClassStatusRow struct {
	ClassID string
	Status  string
	Count   int
}

// PendingStudentRow is a student with no scan today, joined with their class
// schedule so the caller can resolve a pending status.
type PendingStudentRow struct {
	ID             string
	Name           string
	ClassName      string
	ClassStartTime *string
}

//go:generate mockgen -source=attendance_repo.go -destination=mock/attendance_repo_mock.go -package=mock
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	// write side (ingestion)
	FindByStudentAndDate(ctx context.Context, studentID string, date time.Time) (*DailyAttendance, error)
	CreateDaily(ctx context.Context, row *DailyAttendance) error
	UpdateDaily(ctx context.Context, id string, fields map[string]any) error
	CreateEvent(ctx context.Context, ev *AttendanceEvent) error

	// read side (aggregation)
	StatusCountsByRange(ctx context.Context, schoolID string, classIDs []string, start, end time.Time) (StatusCounts, error)
	DistinctDaysCount(ctx context.Context, schoolID string, classIDs []string, start, end time.Time) (int, error)
	WeeklyStatusMap(ctx context.Context, schoolID string, classIDs []string, start, end time.Time) (map[string]WeeklyStatus, error)
	ClassBreakdown(ctx context.Context, schoolID string, classIDs []string, start, end time.Time) ([]ClassStatusRow, error)
	AttendedCountsByClass(ctx context.Context, schoolID string, classIDs []string, date time.Time) (map[string]int, int, error)
	CurrentlyInSchoolCount(ctx context.Context, schoolID string, classIDs []string, date time.Time) (int, error)
	ArrivedStudentIDs(ctx context.Context, schoolID string, classIDs []string, date time.Time) ([]string, error)
	PendingNotArrived(ctx context.Context, schoolID string, classIDs []string, arrivedIDs []string, limit int) ([]PendingStudentRow, error)
	RecentEvents(ctx context.Context, schoolID string, classIDs []string, start, end time.Time, limit int) ([]AttendanceEvent, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{db: tx}
}

func (r *repository) FindByStudentAndDate(ctx context.Context, studentID string, date time.Time) (*DailyAttendance, error) {
	var row DailyAttendance
	err := r.db.WithContext(ctx).
		Where("student_id = ?", studentID).
		Where("date = ?", date.Format(dateLayout)).
		First(&row).Error
	return &row, err
}

func (r *repository) CreateDaily(ctx context.Context, row *DailyAttendance) error {
	return r.db.WithContext(ctx).Create(row).Error
}

func (r *repository) UpdateDaily(ctx context.Context, id string, fields map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&DailyAttendance{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *repository) CreateEvent(ctx context.Context, ev *AttendanceEvent) error {
	return r.db.WithContext(ctx).Create(ev).Error
}

// rangedQuery scopes daily_attendances to school, date range and active
// students in the given classes. Callers must have handled the empty-classIDs
// case already; an empty list here would produce an impossible filter.
func (r *repository) rangedQuery(ctx context.Context, schoolID string, classIDs []string, start, end time.Time) *gorm.DB {
	q := r.db.WithContext(ctx).
		Table("daily_attendances da").
		Joins("JOIN students s ON s.id = da.student_id").
		Where("da.school_id = ?", schoolID).
		Where("da.date >= ? AND da.date < ?", start.Format(dateLayout), end.Format(dateLayout)).
		Where("s.is_active = true").
		Where("da.deleted_at IS NULL")
	if classIDs != nil {
		q = q.Where("s.class_id IN ?", classIDs)
	}
	return q
}

func (r *repository) StatusCountsByRange(ctx context.Context, schoolID string, classIDs []string, start, end time.Time) (StatusCounts, error) {
	if classIDs != nil && len(classIDs) == 0 {
		return StatusCounts{}, nil
	}

	var rows []struct {
		Status string
		Count  int
	}
	err := r.rangedQuery(ctx, schoolID, classIDs, start, end).
		Select("da.status AS status, COUNT(*) AS count").
		Group("da.status").
		Find(&rows).Error
	if err != nil {
		return StatusCounts{}, err
	}

	var counts StatusCounts
	for _, row := range rows {
		switch row.Status {
		case "PRESENT":
			counts.Present = row.Count
		case "LATE":
			counts.Late = row.Count
		case "ABSENT":
			counts.Absent = row.Count
		case "EXCUSED":
			counts.Excused = row.Count
		}
	}
	return counts, nil
}

func (r *repository) DistinctDaysCount(ctx context.Context, schoolID string, classIDs []string, start, end time.Time) (int, error) {
	if classIDs != nil && len(classIDs) == 0 {
		return 1, nil
	}

	var count int
	err := r.rangedQuery(ctx, schoolID, classIDs, start, end).
		Select("COUNT(DISTINCT da.date)").
		Scan(&count).Error
	if err != nil {
		return 0, err
	}
	if count < 1 {
		count = 1
	}
	return count, nil
}

func (r *repository) WeeklyStatusMap(ctx context.Context, schoolID string, classIDs []string, start, end time.Time) (map[string]WeeklyStatus, error) {
	result := make(map[string]WeeklyStatus)
	if classIDs != nil && len(classIDs) == 0 {
		return result, nil
	}

	var rows []struct {
		Date   time.Time
		Status string
		Count  int
	}
	err := r.rangedQuery(ctx, schoolID, classIDs, start, end).
		Select("da.date AS date, da.status AS status, COUNT(*) AS count").
		Group("da.date, da.status").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		key := row.Date.Format(dateLayout)
		entry := result[key]
		switch row.Status {
		case "PRESENT":
			entry.Present += row.Count
		case "LATE":
			entry.Late += row.Count
		case "ABSENT":
			entry.Absent += row.Count
		}
		result[key] = entry
	}
	return result, nil
}

func (r *repository) ClassBreakdown(ctx context.Context, schoolID string, classIDs []string, start, end time.Time) ([]ClassStatusRow, error) {
	if classIDs != nil && len(classIDs) == 0 {
		return nil, nil
	}

	var rows []ClassStatusRow
	err := r.rangedQuery(ctx, schoolID, classIDs, start, end).
		Select("s.class_id AS class_id, da.status AS status, COUNT(*) AS count").
		Where("s.class_id IS NOT NULL").
		Group("s.class_id, da.status").
		Find(&rows).Error
	return rows, err
}

func (r *repository) AttendedCountsByClass(ctx context.Context, schoolID string, classIDs []string, date time.Time) (map[string]int, int, error) {
	counts := make(map[string]int)
	if len(classIDs) == 0 {
		return counts, 0, nil
	}

	var rows []struct {
		ClassID *string
		Count   int
	}
	err := r.rangedQuery(ctx, schoolID, classIDs, date, date.AddDate(0, 0, 1)).
		Select("s.class_id AS class_id, COUNT(*) AS count").
		Group("s.class_id").
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}

	unassigned := 0
	for _, row := range rows {
		if row.ClassID == nil {
			unassigned += row.Count
			continue
		}
		counts[*row.ClassID] = row.Count
	}
	return counts, unassigned, nil
}

func (r *repository) CurrentlyInSchoolCount(ctx context.Context, schoolID string, classIDs []string, date time.Time) (int, error) {
	if classIDs != nil && len(classIDs) == 0 {
		return 0, nil
	}

	var count int64
	err := r.rangedQuery(ctx, schoolID, classIDs, date, date.AddDate(0, 0, 1)).
		Where("da.currently_in_school = true").
		Count(&count).Error
	return int(count), err
}

func (r *repository) ArrivedStudentIDs(ctx context.Context, schoolID string, classIDs []string, date time.Time) ([]string, error) {
	if classIDs != nil && len(classIDs) == 0 {
		return nil, nil
	}

	var ids []string
	err := r.rangedQuery(ctx, schoolID, classIDs, date, date.AddDate(0, 0, 1)).
		Pluck("da.student_id", &ids).Error
	return ids, err
}

func (r *repository) PendingNotArrived(ctx context.Context, schoolID string, classIDs []string, arrivedIDs []string, limit int) ([]PendingStudentRow, error) {
	if len(classIDs) == 0 {
		return nil, nil
	}

	q := r.db.WithContext(ctx).
		Table("students s").
		Joins("JOIN classes c ON c.id = s.class_id").
		Select("s.id AS id, s.name AS name, c.name AS class_name, c.start_time AS class_start_time").
		Where("s.school_id = ?", schoolID).
		Where("s.is_active = true").
		Where("s.class_id IN ?", classIDs).
		Where("s.deleted_at IS NULL").
		Order("s.name ASC").
		Limit(limit)
	if len(arrivedIDs) > 0 {
		q = q.Where("s.id NOT IN ?", arrivedIDs)
	}

	var rows []PendingStudentRow
	err := q.Find(&rows).Error
	return rows, err
}

func (r *repository) RecentEvents(ctx context.Context, schoolID string, classIDs []string, start, end time.Time, limit int) ([]AttendanceEvent, error) {
	if classIDs != nil && len(classIDs) == 0 {
		return nil, nil
	}

	q := r.db.WithContext(ctx).
		Where("school_id = ?", schoolID).
		Where("timestamp >= ? AND timestamp < ?", start, end).
		Order("timestamp DESC").
		Limit(limit).
		Preload("Student").
		Preload("Student.Class")
	if classIDs != nil {
		q = q.Where("student_id IN (SELECT id FROM students WHERE class_id IN ?)", classIDs)
	}

	var rows []AttendanceEvent
	err := q.Find(&rows).Error
	return rows, err
}
