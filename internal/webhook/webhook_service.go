package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"go-school/internal/attendance"
	"go-school/internal/class"
	"go-school/internal/device"
	"go-school/internal/events"
	"go-school/internal/messaging/kafka"
	"go-school/internal/school"
	"go-school/internal/shared/contextutil"
	"go-school/internal/status"
	"go-school/internal/student"
)

// defaultMinScanInterval suppresses a student re-scanning in the same
// direction within a short window, which devices produce when someone
// lingers in front of the camera.
const defaultMinScanInterval = 30 * time.Second

// maxSessionMinutes caps a single IN..OUT session counted toward time on
// premises. Longer gaps mean a missed OUT scan, not a 12-hour school day.
const maxSessionMinutes = 720

// ScanEmitter pushes a stored scan to live stream viewers.
type ScanEmitter interface {
	EmitScan(schoolID string, event attendance.EventResponse)
}

// SnapshotMarker schedules snapshot recomputation for dirty scopes.
type SnapshotMarker interface {
	MarkSchoolDirty(schoolID string)
	MarkClassDirty(schoolID, classID string)
}

type Service interface {
	Process(ctx context.Context, sch *school.School, direction string, scan *Scan, photoURL *string) (*Result, error)
}

type service struct {
	db       *gorm.DB
	repo     attendance.Repository
	classes  class.Repository
	students student.Repository
	devices  device.Repository
	emitter  ScanEmitter
	marker   SnapshotMarker
	outbox   kafka.OutboxRepository
	logger   *zap.Logger

	minScanInterval time.Duration
	now             func() time.Time
}

func NewService(
	db *gorm.DB,
	repo attendance.Repository,
	classes class.Repository,
	students student.Repository,
	devices device.Repository,
	emitter ScanEmitter,
	marker SnapshotMarker,
	logger *zap.Logger,
) Service {
	return NewServiceWithOutbox(db, repo, classes, students, devices, emitter, marker, nil, logger)
}

// NewServiceWithOutbox additionally exports every stored scan through the
// transactional outbox for downstream Kafka consumers.
func NewServiceWithOutbox(
	db *gorm.DB,
	repo attendance.Repository,
	classes class.Repository,
	students student.Repository,
	devices device.Repository,
	emitter ScanEmitter,
	marker SnapshotMarker,
	outbox kafka.OutboxRepository,
	logger *zap.Logger,
) Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &service{
		db:              db,
		repo:            repo,
		classes:         classes,
		students:        students,
		devices:         devices,
		emitter:         emitter,
		marker:          marker,
		outbox:          outbox,
		logger:          logger.Named("webhook.service"),
		minScanInterval: minScanIntervalFromEnv(),
		now:             time.Now,
	}
}

func minScanIntervalFromEnv() time.Duration {
	raw := os.Getenv("MIN_SCAN_INTERVAL_SECONDS")
	if raw == "" {
		return defaultMinScanInterval
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return defaultMinScanInterval
	}
	return time.Duration(seconds) * time.Second
}

type txOutcome struct {
	reason  string
	event   *attendance.AttendanceEvent
	created bool
	updated bool
}

// Process stores one scan: the raw event row always, the daily attendance
// row when the student is known. Everything device-facing is acknowledged
// with ok=true; only storage failures surface as errors.
func (s *service) Process(ctx context.Context, sch *school.School, direction string, scan *Scan, photoURL *string) (*Result, error) {
	logger := contextutil.GetLogger(ctx, s.logger)

	eventType := "IN"
	if direction == "out" {
		eventType = "OUT"
	}

	zone := sch.Timezone
	eventDate := status.DateKeyInZone(scan.Timestamp, zone)
	isToday := eventDate == status.DateKeyInZone(s.now(), zone)

	dev, err := s.devices.FindBySerial(ctx, sch.ID.String(), scan.DeviceSerial)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		dev = nil
	}
	if dev != nil {
		if err := s.devices.Touch(ctx, dev.ID.String(), scan.Timestamp); err != nil {
			logger.Warn("device last-seen update failed", zap.String("device", scan.DeviceSerial), zap.Error(err))
		}
	}

	stu, err := s.students.FindByDeviceID(ctx, sch.ID.String(), scan.EmployeeNo)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		stu = nil
	}

	var cls *class.Class
	if stu != nil && stu.ClassID != nil {
		cls, err = s.classes.FindByID(ctx, stu.ClassID.String())
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, err
			}
			cls = nil
		}
	}

	outcome, err := s.storeScan(ctx, sch, eventType, scan, dev, stu, cls, eventDate)
	if err != nil {
		if isDuplicateKey(err) {
			logger.Info("duplicate event delivery ignored", zap.String("device", scan.DeviceSerial))
			return &Result{OK: true, Ignored: true, Reason: reasonDuplicateEvent}, nil
		}
		return nil, err
	}
	if outcome.reason == reasonDuplicateScan {
		logger.Info("duplicate scan suppressed",
			zap.String("student", scan.EmployeeNo), zap.String("event_type", eventType))
		return &Result{OK: true, Ignored: true, Reason: reasonDuplicateScan}, nil
	}

	if stu != nil && photoURL != nil {
		if err := s.students.SetPhotoURL(ctx, stu.ID.String(), *photoURL); err != nil {
			logger.Warn("student photo update failed", zap.Error(err))
		}
	}

	// Live viewers only care about today; a backfilled historical scan must
	// not flash on the dashboard or trigger a snapshot recompute.
	if isToday {
		s.emitter.EmitScan(sch.ID.String(), s.eventResponse(outcome.event, stu, cls))
		s.marker.MarkSchoolDirty(sch.ID.String())
		if stu != nil && stu.ClassID != nil {
			s.marker.MarkClassDirty(sch.ID.String(), stu.ClassID.String())
		}
	}

	eventID := outcome.event.ID.String()
	return &Result{OK: true, EventID: &eventID}, nil
}

// storeScan runs the write side in one transaction so the event row and the
// daily row can never disagree.
func (s *service) storeScan(
	ctx context.Context,
	sch *school.School,
	eventType string,
	scan *Scan,
	dev *device.Device,
	stu *student.Student,
	cls *class.Class,
	eventDate string,
) (*txOutcome, error) {
	outcome := &txOutcome{}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		date, err := time.Parse("2006-01-02", eventDate)
		if err != nil {
			return err
		}

		var existing *attendance.DailyAttendance
		if stu != nil {
			row, err := repo.FindByStudentAndDate(ctx, stu.ID.String(), date)
			if err != nil {
				if !errors.Is(err, gorm.ErrRecordNotFound) {
					return err
				}
			} else {
				existing = row
			}
		}

		if existing != nil && s.isDuplicateScan(eventType, scan.Timestamp, existing) {
			outcome.reason = reasonDuplicateScan
			return nil
		}

		event := &attendance.AttendanceEvent{
			EventKey:   scan.EventKey(directionOf(eventType)),
			SchoolID:   sch.ID,
			EventType:  eventType,
			Timestamp:  scan.Timestamp,
			RawPayload: scan.Raw,
		}
		if stu != nil {
			event.StudentID = &stu.ID
		}
		if dev != nil {
			serial := dev.SerialNumber
			event.DeviceID = &serial
		}
		if err := repo.CreateEvent(ctx, event); err != nil {
			return err
		}
		outcome.event = event

		var dayStatus string
		if stu != nil {
			if existing != nil {
				outcome.updated = true
				fields := s.updateFields(sch, eventType, scan.Timestamp, existing, cls)
				if err := repo.UpdateDaily(ctx, existing.ID.String(), fields); err != nil {
					return err
				}
				dayStatus = existing.Status
				if v, ok := fields["status"].(string); ok {
					dayStatus = v
				}
			} else {
				outcome.created = true
				row := s.newDailyRow(sch, stu, cls, eventType, scan.Timestamp, date)
				if err := repo.CreateDaily(ctx, row); err != nil {
					return err
				}
				dayStatus = row.Status
			}
		}

		return s.enqueueScanExport(ctx, tx, sch, eventType, dayStatus, scan, event, stu)
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// enqueueScanExport records the scan in the outbox inside the same
// transaction, so a committed event row always has a pending export and a
// rolled-back one never does.
func (s *service) enqueueScanExport(
	ctx context.Context,
	tx *gorm.DB,
	sch *school.School,
	eventType, dayStatus string,
	scan *Scan,
	event *attendance.AttendanceEvent,
	stu *student.Student,
) error {
	if s.outbox == nil {
		return nil
	}

	requestID := contextutil.GetRequestID(ctx)
	exported := events.AttendanceScannedEvent{
		EventType:  "attendance_scanned",
		RequestID:  requestID,
		EventID:    event.ID.String(),
		SchoolID:   sch.ID.String(),
		Direction:  eventType,
		Status:     dayStatus,
		OccurredAt: scan.Timestamp.UTC(),
	}
	if stu != nil {
		id := stu.ID.String()
		exported.StudentID = &id
		if stu.ClassID != nil {
			cid := stu.ClassID.String()
			exported.ClassID = &cid
		}
	}

	payload, err := json.Marshal(exported)
	if err != nil {
		return err
	}

	return s.outbox.WithTx(tx).Create(ctx, kafka.OutboxEvent{
		ID:            uuid.NewString(),
		RequestID:     requestID,
		AggregateType: "attendance_event",
		AggregateID:   event.ID.String(),
		EventType:     exported.EventType,
		Topic:         events.AttendanceScannedTopic,
		Payload:       payload,
		Status:        kafka.OutboxStatusPending,
	})
}

// isDuplicateKey matches a unique violation both as gorm's translated
// sentinel and as the raw driver error; the connection is opened without
// error translation, so Postgres surfaces 23505 as a *pgconn.PgError.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func directionOf(eventType string) string {
	if eventType == "OUT" {
		return "out"
	}
	return "in"
}

// isDuplicateScan drops a same-direction re-scan inside the minimum
// interval. The direction check matters: an IN right after an OUT is a real
// turnaround, not a duplicate.
func (s *service) isDuplicateScan(eventType string, at time.Time, existing *attendance.DailyAttendance) bool {
	switch eventType {
	case "IN":
		return existing.CurrentlyInSchool &&
			existing.LastInTime != nil &&
			at.Sub(*existing.LastInTime) < s.minScanInterval
	case "OUT":
		return !existing.CurrentlyInSchool &&
			existing.LastOutTime != nil &&
			at.Sub(*existing.LastOutTime) < s.minScanInterval
	}
	return false
}

// scanDiffMinutes is how many minutes after class start the scan happened,
// in the school's local wall clock. Negative means early.
func scanDiffMinutes(at time.Time, zone string, cls *class.Class) (int, bool) {
	if cls == nil || cls.StartTime == nil {
		return 0, false
	}
	start, ok := status.TimeToMinutes(*cls.StartTime)
	if !ok {
		return 0, false
	}
	return status.NowMinutesInZone(at, zone) - start, true
}

// classify maps a first IN scan's lateness onto a status. An existing ABSENT
// decision is final: a student marked absent who scans in later stays absent
// for the day's records.
func classify(existingStatus string, diff, cutoff, lateThreshold int) (string, *int) {
	if existingStatus == string(status.Absent) {
		return string(status.Absent), nil
	}
	if diff >= cutoff {
		return string(status.Absent), nil
	}
	if diff >= lateThreshold {
		late := diff - lateThreshold
		return string(status.Late), &late
	}
	return string(status.Present), nil
}

func (s *service) updateFields(sch *school.School, eventType string, at time.Time, existing *attendance.DailyAttendance, cls *class.Class) map[string]any {
	fields := map[string]any{
		"last_scan_time": at,
		"scan_count":     existing.ScanCount + 1,
	}

	if eventType == "IN" {
		if existing.FirstScanTime == nil {
			if diff, ok := scanDiffMinutes(at, sch.Timezone, cls); ok {
				newStatus, lateMinutes := classify(existing.Status, diff, sch.AbsenceCutoffMinutes, sch.LateThresholdMinutes)
				fields["status"] = newStatus
				fields["late_minutes"] = lateMinutes
			}
			fields["first_scan_time"] = at
		}
		fields["last_in_time"] = at
		fields["currently_in_school"] = true
		return fields
	}

	fields["last_out_time"] = at
	fields["currently_in_school"] = false
	if existing.CurrentlyInSchool && existing.LastInTime != nil {
		session := int(at.Sub(*existing.LastInTime).Round(time.Minute) / time.Minute)
		if session > 0 && session < maxSessionMinutes {
			fields["total_time_on_premises"] = existing.TotalTimeOnPremises + session
		}
	}
	return fields
}

func (s *service) newDailyRow(sch *school.School, stu *student.Student, cls *class.Class, eventType string, at time.Time, date time.Time) *attendance.DailyAttendance {
	row := &attendance.DailyAttendance{
		SchoolID:     sch.ID,
		StudentID:    stu.ID,
		Date:         date,
		Status:       string(status.Present),
		LastScanTime: &at,
		ScanCount:    1,
	}

	if eventType == "IN" {
		row.FirstScanTime = &at
		row.LastInTime = &at
		row.CurrentlyInSchool = true
		if diff, ok := scanDiffMinutes(at, sch.Timezone, cls); ok {
			newStatus, lateMinutes := classify("", diff, sch.AbsenceCutoffMinutes, sch.LateThresholdMinutes)
			row.Status = newStatus
			row.LateMinutes = lateMinutes
		}
	} else {
		row.LastOutTime = &at
		notes := "OUT before first IN"
		row.Notes = &notes
	}
	return row
}

func (s *service) eventResponse(event *attendance.AttendanceEvent, stu *student.Student, cls *class.Class) attendance.EventResponse {
	resp := attendance.EventResponse{
		ID:        event.ID.String(),
		EventType: event.EventType,
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
		DeviceID:  event.DeviceID,
	}
	if stu != nil {
		es := &attendance.EventStudent{
			ID:   stu.ID.String(),
			Name: stu.Name,
		}
		if stu.ClassID != nil {
			id := stu.ClassID.String()
			es.ClassID = &id
		}
		if cls != nil {
			es.ClassName = &cls.Name
		}
		resp.Student = es
	}
	return resp
}
