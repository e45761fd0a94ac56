package attendance

import "time"

// Period names accepted by the dashboard endpoints.
const (
	PeriodToday     = "today"
	PeriodYesterday = "yesterday"
	PeriodWeek      = "week"
	PeriodMonth     = "month"
	PeriodYear      = "year"
	PeriodCustom    = "custom"
)

// DateRange is a closed [Start, End] range of local calendar dates, both at
// UTC midnight of the school-local date.
type DateRange struct {
	Start time.Time
	End   time.Time
}

func (r DateRange) SingleDay() bool {
	return r.Start.Equal(r.End)
}

// ResolveDateRange maps a period name to a concrete range, "today" being the
// current calendar date in the given location.
func ResolveDateRange(period string, now time.Time, loc *time.Location, customStart, customEnd string) DateRange {
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)

	switch period {
	case PeriodYesterday:
		d := today.AddDate(0, 0, -1)
		return DateRange{Start: d, End: d}
	case PeriodWeek:
		return DateRange{Start: today.AddDate(0, 0, -6), End: today}
	case PeriodMonth:
		return DateRange{Start: time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, time.UTC), End: today}
	case PeriodYear:
		return DateRange{Start: time.Date(local.Year(), 1, 1, 0, 0, 0, 0, time.UTC), End: today}
	case PeriodCustom:
		start, err1 := time.Parse("2006-01-02", customStart)
		end, err2 := time.Parse("2006-01-02", customEnd)
		if err1 == nil && err2 == nil && !end.Before(start) {
			return DateRange{Start: start, End: end}
		}
		return DateRange{Start: today, End: today}
	default:
		return DateRange{Start: today, End: today}
	}
}

// Weekday labels as shown on the dashboards, indexed by time.Weekday.
var weekdayShort = [7]string{"Ya", "Du", "Se", "Ch", "Pa", "Ju", "Sh"}

// WeeklyEntriesFromMap expands a per-date count map into the fixed trailing
// 7-day series ending at end, zero-filling missing days.
func WeeklyEntriesFromMap(weeklyMap map[string]WeeklyStatus, end time.Time) []WeeklyEntry {
	out := make([]WeeklyEntry, 0, 7)
	for i := 6; i >= 0; i-- {
		d := end.AddDate(0, 0, -i)
		key := d.Format(dateLayout)
		entry := weeklyMap[key]
		out = append(out, WeeklyEntry{
			Date:    key,
			DayName: weekdayShort[d.Weekday()],
			Present: entry.Present,
			Late:    entry.Late,
			Absent:  entry.Absent,
		})
	}
	return out
}

type WeeklyEntry struct {
	Date    string `json:"date"`
	DayName string `json:"dayName"`
	Present int    `json:"present"`
	Late    int    `json:"late"`
	Absent  int    `json:"absent"`
}

type ClassBreakdownRow struct {
	ClassID   string `json:"classId"`
	ClassName string `json:"className"`
	Total     int    `json:"total"`
	Present   int    `json:"present"`
	Late      int    `json:"late"`
}

type PendingStudent struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ClassName     string `json:"className"`
	PendingStatus string `json:"pendingStatus"` // PENDING_EARLY | PENDING_LATE
}

// DashboardQuery is the parsed query surface of the dashboard endpoints.
type DashboardQuery struct {
	SchoolID    string
	ClassID     string // optional explicit class filter
	Period      string
	CustomStart string
	CustomEnd   string
	Scope       string // "started" | "active"

	// teacher scoping: non-nil means restrict to these classes
	AllowedClassIDs []string
}

// HistoryQuery is bound from the events/history query string. Dates are
// school-local calendar dates.
type HistoryQuery struct {
	StartDate string `form:"startDate" json:"start_date" binding:"omitempty,datetime=2006-01-02"`
	EndDate   string `form:"endDate" json:"end_date" binding:"omitempty,datetime=2006-01-02"`
	Limit     int    `form:"limit" json:"limit" binding:"omitempty,min=1,max=1000"`
}

type DashboardResponse struct {
	Period      string `json:"period"`
	StartDate   string `json:"startDate"`
	EndDate     string `json:"endDate"`
	DaysCount   int    `json:"daysCount"`
	Timezone    string `json:"timezone"`
	CurrentTime string `json:"currentTime"`

	TotalStudents     int `json:"totalStudents"`
	PresentToday      int `json:"presentToday"`
	LateToday         int `json:"lateToday"`
	AbsentToday       int `json:"absentToday"`
	ExcusedToday      int `json:"excusedToday"`
	CurrentlyInSchool int `json:"currentlyInSchool"`
	PresentPercentage int `json:"presentPercentage"`

	// totals over the whole range, not per-day averages
	TotalPresent int `json:"totalPresent"`
	TotalLate    int `json:"totalLate"`
	TotalAbsent  int `json:"totalAbsent"`
	TotalExcused int `json:"totalExcused"`

	ClassBreakdown     []ClassBreakdownRow `json:"classBreakdown"`
	WeeklyStats        []WeeklyEntry       `json:"weeklyStats"`
	NotYetArrived      []PendingStudent    `json:"notYetArrived"`
	NotYetArrivedCount int                 `json:"notYetArrivedCount"`
	PendingEarlyCount  int                 `json:"pendingEarlyCount"`
	LatePendingCount   int                 `json:"latePendingCount"`
}

type AdminSchoolRow struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	TotalStudents     int    `json:"totalStudents"`
	PresentToday      int    `json:"presentToday"`
	LateToday         int    `json:"lateToday"`
	AbsentToday       int    `json:"absentToday"`
	ExcusedToday      int    `json:"excusedToday"`
	PendingEarlyCount int    `json:"pendingEarlyCount"`
	LatePendingCount  int    `json:"latePendingCount"`
	CurrentlyInSchool int    `json:"currentlyInSchool"`
	AttendancePercent int    `json:"attendancePercent"`
}

type AdminTotals struct {
	TotalSchools      int `json:"totalSchools"`
	TotalStudents     int `json:"totalStudents"`
	PresentToday      int `json:"presentToday"`
	LateToday         int `json:"lateToday"`
	AbsentToday       int `json:"absentToday"`
	ExcusedToday      int `json:"excusedToday"`
	PendingEarlyCount int `json:"pendingEarlyCount"`
	LatePendingCount  int `json:"latePendingCount"`
	CurrentlyInSchool int `json:"currentlyInSchool"`
	AttendancePercent int `json:"attendancePercent"`
}

type AdminDashboardResponse struct {
	Totals      AdminTotals      `json:"totals"`
	Schools     []AdminSchoolRow `json:"schools"`
	WeeklyStats []WeeklyEntry    `json:"weeklyStats"`
}

type EventStudent struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	ClassID   *string `json:"classId"`
	ClassName *string `json:"className,omitempty"`
}

type EventResponse struct {
	ID        string        `json:"id"`
	EventType string        `json:"eventType"`
	Timestamp string        `json:"timestamp"`
	DeviceID  *string       `json:"deviceId,omitempty"`
	Student   *EventStudent `json:"student"`
}
