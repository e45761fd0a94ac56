package webhook

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"go-school/internal/attendance"
	"go-school/internal/class"
	"go-school/internal/device"
	"go-school/internal/events"
	"go-school/internal/messaging/kafka"
	"go-school/internal/school"
	"go-school/internal/student"
)

// 10:00 in Asia/Tashkent (UTC+5).
var fixedNow = time.Date(2026, 3, 2, 5, 0, 0, 0, time.UTC)

var (
	schoolID  = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	classID   = uuid.MustParse("22222222-2222-2222-2222-222222222222")
	studentID = uuid.MustParse("33333333-3333-3333-3333-333333333333")
	deviceID  = uuid.MustParse("44444444-4444-4444-4444-444444444444")
)

func testSchool() *school.School {
	return &school.School{
		ID:                   schoolID,
		Name:                 "School #1",
		Timezone:             "Asia/Tashkent",
		AbsenceCutoffMinutes: 180,
		LateThresholdMinutes: 15,
	}
}

func strPtr(s string) *string { return &s }

type fakeAttendanceRepo struct {
	attendance.Repository

	findDailyFn   func(ctx context.Context, studentID string, date time.Time) (*attendance.DailyAttendance, error)
	createDailyFn func(ctx context.Context, row *attendance.DailyAttendance) error
	updateDailyFn func(ctx context.Context, id string, fields map[string]any) error
	createEventFn func(ctx context.Context, ev *attendance.AttendanceEvent) error

	createdDaily  *attendance.DailyAttendance
	updatedFields map[string]any
	createdEvent  *attendance.AttendanceEvent
}

func (f *fakeAttendanceRepo) WithTx(tx *gorm.DB) attendance.Repository { return f }

func (f *fakeAttendanceRepo) FindByStudentAndDate(ctx context.Context, studentID string, date time.Time) (*attendance.DailyAttendance, error) {
	if f.findDailyFn != nil {
		return f.findDailyFn(ctx, studentID, date)
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeAttendanceRepo) CreateDaily(ctx context.Context, row *attendance.DailyAttendance) error {
	f.createdDaily = row
	if f.createDailyFn != nil {
		return f.createDailyFn(ctx, row)
	}
	return nil
}

func (f *fakeAttendanceRepo) UpdateDaily(ctx context.Context, id string, fields map[string]any) error {
	f.updatedFields = fields
	if f.updateDailyFn != nil {
		return f.updateDailyFn(ctx, id, fields)
	}
	return nil
}

func (f *fakeAttendanceRepo) CreateEvent(ctx context.Context, ev *attendance.AttendanceEvent) error {
	if f.createEventFn != nil {
		return f.createEventFn(ctx, ev)
	}
	ev.ID = uuid.New()
	f.createdEvent = ev
	return nil
}

type fakeClassRepo struct {
	class.Repository
	cls *class.Class
}

func (f *fakeClassRepo) FindByID(ctx context.Context, id string) (*class.Class, error) {
	if f.cls == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return f.cls, nil
}

type fakeStudentRepo struct {
	student.Repository
	stu       *student.Student
	photoURLs []string
}

func (f *fakeStudentRepo) FindByDeviceID(ctx context.Context, schoolID, deviceStudentID string) (*student.Student, error) {
	if f.stu == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return f.stu, nil
}

func (f *fakeStudentRepo) SetPhotoURL(ctx context.Context, id, url string) error {
	f.photoURLs = append(f.photoURLs, url)
	return nil
}

type fakeDeviceRepo struct {
	device.Repository
	dev     *device.Device
	touched []time.Time
}

func (f *fakeDeviceRepo) FindBySerial(ctx context.Context, schoolID, serialNumber string) (*device.Device, error) {
	if f.dev == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return f.dev, nil
}

func (f *fakeDeviceRepo) Touch(ctx context.Context, id string, seenAt time.Time) error {
	f.touched = append(f.touched, seenAt)
	return nil
}

type fakeEmitter struct {
	schools []string
	events  []attendance.EventResponse
}

func (f *fakeEmitter) EmitScan(schoolID string, event attendance.EventResponse) {
	f.schools = append(f.schools, schoolID)
	f.events = append(f.events, event)
}

type fakeMarker struct {
	schools []string
	classes []string
}

func (f *fakeMarker) MarkSchoolDirty(schoolID string) { f.schools = append(f.schools, schoolID) }
func (f *fakeMarker) MarkClassDirty(schoolID, classID string) {
	f.classes = append(f.classes, schoolID+"/"+classID)
}

type webhookDeps struct {
	sqlMock  sqlmock.Sqlmock
	repo     *fakeAttendanceRepo
	classes  *fakeClassRepo
	students *fakeStudentRepo
	devices  *fakeDeviceRepo
	emitter  *fakeEmitter
	marker   *fakeMarker
	service  *service
}

func setupWebhookTest(t *testing.T) *webhookDeps {
	t.Helper()

	sqlDB, sqlMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	}), &gorm.Config{})
	require.NoError(t, err)

	deps := &webhookDeps{
		sqlMock: sqlMock,
		repo:    &fakeAttendanceRepo{},
		classes: &fakeClassRepo{cls: &class.Class{
			ID: classID, SchoolID: schoolID, Name: "1-A", StartTime: strPtr("08:00"),
		}},
		students: &fakeStudentRepo{stu: &student.Student{
			ID: studentID, SchoolID: schoolID, ClassID: &classID,
			Name: "Aziz Karimov", IsActive: true,
		}},
		devices: &fakeDeviceRepo{dev: &device.Device{
			ID: deviceID, SchoolID: schoolID, SerialNumber: "GATE-1",
		}},
		emitter: &fakeEmitter{},
		marker:  &fakeMarker{},
	}

	svc := NewService(gormDB, deps.repo, deps.classes, deps.students, deps.devices,
		deps.emitter, deps.marker, zap.NewNop()).(*service)
	svc.now = func() time.Time { return fixedNow }
	deps.service = svc
	return deps
}

// scanAt builds a scan whose local wall-clock time in Asia/Tashkent is the
// given hour and minute on the fixed test day.
func scanAt(hour, minute int) *Scan {
	ts := time.Date(2026, 3, 2, hour-5, minute, 0, 0, time.UTC)
	return &Scan{
		EmployeeNo:   "EMP-1",
		DeviceSerial: "GATE-1",
		Timestamp:    ts,
		StudentName:  "Aziz Karimov",
		Raw:          []byte(`{}`),
	}
}

func TestProcess_FirstInScanOnTimeCreatesPresent(t *testing.T) {
	deps := setupWebhookTest(t)
	deps.sqlMock.ExpectBegin()
	deps.sqlMock.ExpectCommit()

	result, err := deps.service.Process(context.Background(), testSchool(), "in", scanAt(8, 10), nil)

	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.False(t, result.Ignored)
	require.NotNil(t, deps.repo.createdDaily)
	assert.Equal(t, "PRESENT", deps.repo.createdDaily.Status)
	assert.Nil(t, deps.repo.createdDaily.LateMinutes)
	assert.True(t, deps.repo.createdDaily.CurrentlyInSchool)
	assert.Equal(t, 1, deps.repo.createdDaily.ScanCount)
	require.NotNil(t, deps.repo.createdDaily.FirstScanTime)

	assert.Equal(t, []string{schoolID.String()}, deps.emitter.schools)
	assert.Equal(t, []string{schoolID.String()}, deps.marker.schools)
	assert.Equal(t, []string{schoolID.String() + "/" + classID.String()}, deps.marker.classes)
	assert.Len(t, deps.devices.touched, 1)
}

func TestProcess_LateScanSetsLateMinutes(t *testing.T) {
	deps := setupWebhookTest(t)
	deps.sqlMock.ExpectBegin()
	deps.sqlMock.ExpectCommit()

	// 08:40 is 40 minutes past start, 25 past the 15-minute threshold.
	_, err := deps.service.Process(context.Background(), testSchool(), "in", scanAt(8, 40), nil)

	require.NoError(t, err)
	require.NotNil(t, deps.repo.createdDaily)
	assert.Equal(t, "LATE", deps.repo.createdDaily.Status)
	require.NotNil(t, deps.repo.createdDaily.LateMinutes)
	assert.Equal(t, 25, *deps.repo.createdDaily.LateMinutes)
}

func TestProcess_ScanPastCutoffCreatesAbsent(t *testing.T) {
	deps := setupWebhookTest(t)
	deps.sqlMock.ExpectBegin()
	deps.sqlMock.ExpectCommit()

	// 11:30 is 210 minutes past start, beyond the 180-minute cutoff.
	_, err := deps.service.Process(context.Background(), testSchool(), "in", scanAt(11, 30), nil)

	require.NoError(t, err)
	require.NotNil(t, deps.repo.createdDaily)
	assert.Equal(t, "ABSENT", deps.repo.createdDaily.Status)
	assert.Nil(t, deps.repo.createdDaily.LateMinutes)
}

func TestProcess_ExistingAbsentStaysAbsent(t *testing.T) {
	deps := setupWebhookTest(t)
	deps.repo.findDailyFn = func(ctx context.Context, studentID string, date time.Time) (*attendance.DailyAttendance, error) {
		return &attendance.DailyAttendance{
			ID: uuid.New(), Status: "ABSENT", ScanCount: 0,
		}, nil
	}
	deps.sqlMock.ExpectBegin()
	deps.sqlMock.ExpectCommit()

	_, err := deps.service.Process(context.Background(), testSchool(), "in", scanAt(8, 5), nil)

	require.NoError(t, err)
	require.NotNil(t, deps.repo.updatedFields)
	assert.Equal(t, "ABSENT", deps.repo.updatedFields["status"])
	assert.Equal(t, true, deps.repo.updatedFields["currently_in_school"])
}

func TestProcess_DuplicateInScanSuppressed(t *testing.T) {
	deps := setupWebhookTest(t)
	lastIn := scanAt(8, 10).Timestamp.Add(-10 * time.Second)
	deps.repo.findDailyFn = func(ctx context.Context, studentID string, date time.Time) (*attendance.DailyAttendance, error) {
		return &attendance.DailyAttendance{
			ID: uuid.New(), Status: "PRESENT",
			CurrentlyInSchool: true, LastInTime: &lastIn,
		}, nil
	}
	deps.sqlMock.ExpectBegin()
	deps.sqlMock.ExpectCommit()

	result, err := deps.service.Process(context.Background(), testSchool(), "in", scanAt(8, 10), nil)

	require.NoError(t, err)
	assert.True(t, result.Ignored)
	assert.Equal(t, "duplicate_scan", result.Reason)
	assert.Nil(t, deps.repo.createdEvent)
	assert.Nil(t, deps.repo.updatedFields)
	assert.Empty(t, deps.emitter.schools)
}

func TestProcess_OutScanAccumulatesSession(t *testing.T) {
	deps := setupWebhookTest(t)
	lastIn := scanAt(8, 0).Timestamp
	deps.repo.findDailyFn = func(ctx context.Context, studentID string, date time.Time) (*attendance.DailyAttendance, error) {
		return &attendance.DailyAttendance{
			ID: uuid.New(), Status: "PRESENT",
			CurrentlyInSchool: true, LastInTime: &lastIn,
			TotalTimeOnPremises: 15, ScanCount: 1,
		}, nil
	}
	deps.sqlMock.ExpectBegin()
	deps.sqlMock.ExpectCommit()

	_, err := deps.service.Process(context.Background(), testSchool(), "out", scanAt(10, 0), nil)

	require.NoError(t, err)
	require.NotNil(t, deps.repo.updatedFields)
	assert.Equal(t, false, deps.repo.updatedFields["currently_in_school"])
	assert.Equal(t, 15+120, deps.repo.updatedFields["total_time_on_premises"])
	assert.Equal(t, 2, deps.repo.updatedFields["scan_count"])
}

func TestProcess_MissedOutSessionIsDiscarded(t *testing.T) {
	deps := setupWebhookTest(t)
	lastIn := scanAt(10, 0).Timestamp.Add(-13 * time.Hour)
	deps.repo.findDailyFn = func(ctx context.Context, studentID string, date time.Time) (*attendance.DailyAttendance, error) {
		return &attendance.DailyAttendance{
			ID: uuid.New(), Status: "PRESENT",
			CurrentlyInSchool: true, LastInTime: &lastIn,
		}, nil
	}
	deps.sqlMock.ExpectBegin()
	deps.sqlMock.ExpectCommit()

	_, err := deps.service.Process(context.Background(), testSchool(), "out", scanAt(10, 0), nil)

	require.NoError(t, err)
	_, ok := deps.repo.updatedFields["total_time_on_premises"]
	assert.False(t, ok, "sessions over 12h must not count toward time on premises")
}

func TestProcess_DuplicateEventKeyIgnored(t *testing.T) {
	deps := setupWebhookTest(t)
	deps.repo.createEventFn = func(ctx context.Context, ev *attendance.AttendanceEvent) error {
		return gorm.ErrDuplicatedKey
	}
	deps.sqlMock.ExpectBegin()
	deps.sqlMock.ExpectRollback()

	result, err := deps.service.Process(context.Background(), testSchool(), "in", scanAt(8, 10), nil)

	require.NoError(t, err)
	assert.True(t, result.Ignored)
	assert.Equal(t, "duplicate_event", result.Reason)
	assert.Empty(t, deps.emitter.schools)
}

func TestProcess_DuplicateEventKeyIgnoredWithoutErrorTranslation(t *testing.T) {
	deps := setupWebhookTest(t)
	// the connection is opened without gorm error translation, so a unique
	// violation arrives as the raw driver error
	deps.repo.createEventFn = func(ctx context.Context, ev *attendance.AttendanceEvent) error {
		return &pgconn.PgError{Code: "23505", ConstraintName: "uq_attendance_events_event_key"}
	}
	deps.sqlMock.ExpectBegin()
	deps.sqlMock.ExpectRollback()

	result, err := deps.service.Process(context.Background(), testSchool(), "in", scanAt(8, 10), nil)

	require.NoError(t, err)
	assert.True(t, result.Ignored)
	assert.Equal(t, "duplicate_event", result.Reason)
	assert.Empty(t, deps.emitter.schools)
}

func TestProcess_UnknownStudentStoresEventOnly(t *testing.T) {
	deps := setupWebhookTest(t)
	deps.students.stu = nil
	deps.sqlMock.ExpectBegin()
	deps.sqlMock.ExpectCommit()

	result, err := deps.service.Process(context.Background(), testSchool(), "in", scanAt(8, 10), nil)

	require.NoError(t, err)
	assert.True(t, result.OK)
	require.NotNil(t, deps.repo.createdEvent)
	assert.Nil(t, deps.repo.createdEvent.StudentID)
	assert.Nil(t, deps.repo.createdDaily)
	assert.Empty(t, deps.marker.classes)
	// The raw feed still shows the unmatched scan.
	assert.Len(t, deps.emitter.events, 1)
	assert.Nil(t, deps.emitter.events[0].Student)
}

func TestProcess_HistoricalScanDoesNotTouchLiveFeeds(t *testing.T) {
	deps := setupWebhookTest(t)
	deps.sqlMock.ExpectBegin()
	deps.sqlMock.ExpectCommit()

	yesterday := scanAt(8, 10)
	yesterday.Timestamp = yesterday.Timestamp.AddDate(0, 0, -1)
	result, err := deps.service.Process(context.Background(), testSchool(), "in", yesterday, nil)

	require.NoError(t, err)
	assert.True(t, result.OK)
	require.NotNil(t, deps.repo.createdDaily)
	assert.Empty(t, deps.emitter.schools)
	assert.Empty(t, deps.marker.schools)
}

func TestProcess_PhotoURLSavedForKnownStudent(t *testing.T) {
	deps := setupWebhookTest(t)
	deps.sqlMock.ExpectBegin()
	deps.sqlMock.ExpectCommit()

	url := "uploads/123-face.jpg"
	_, err := deps.service.Process(context.Background(), testSchool(), "in", scanAt(8, 10), &url)

	require.NoError(t, err)
	assert.Equal(t, []string{url}, deps.students.photoURLs)
}

type fakeOutbox struct {
	created []kafka.OutboxEvent
}

func (f *fakeOutbox) WithTx(tx *gorm.DB) kafka.OutboxRepository { return f }
func (f *fakeOutbox) Create(ctx context.Context, event kafka.OutboxEvent) error {
	f.created = append(f.created, event)
	return nil
}
func (f *fakeOutbox) ListPending(ctx context.Context, limit int) ([]kafka.OutboxEvent, error) {
	return nil, nil
}
func (f *fakeOutbox) MarkSent(ctx context.Context, id string) error           { return nil }
func (f *fakeOutbox) MarkFailed(ctx context.Context, id, reason string) error { return nil }

func TestProcess_StoredScanIsQueuedForExport(t *testing.T) {
	deps := setupWebhookTest(t)
	outbox := &fakeOutbox{}
	deps.service.outbox = outbox
	deps.sqlMock.ExpectBegin()
	deps.sqlMock.ExpectCommit()

	_, err := deps.service.Process(context.Background(), testSchool(), "in", scanAt(8, 40), nil)

	require.NoError(t, err)
	require.Len(t, outbox.created, 1)
	row := outbox.created[0]
	assert.Equal(t, events.AttendanceScannedTopic, row.Topic)
	assert.Equal(t, "attendance_scanned", row.EventType)
	assert.Equal(t, "attendance_event", row.AggregateType)
	assert.Equal(t, kafka.OutboxStatusPending, row.Status)
	require.NoError(t, kafka.ValidateOutboxEvent(row))

	var exported events.AttendanceScannedEvent
	require.NoError(t, json.Unmarshal(row.Payload, &exported))
	assert.Equal(t, schoolID.String(), exported.SchoolID)
	require.NotNil(t, exported.StudentID)
	assert.Equal(t, studentID.String(), *exported.StudentID)
	assert.Equal(t, "IN", exported.Direction)
	assert.Equal(t, "LATE", exported.Status)
}
