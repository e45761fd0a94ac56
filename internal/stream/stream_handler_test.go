package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"go-school/internal/attendance"
	"go-school/internal/auth"
	"go-school/internal/class"
	"go-school/internal/snapshot"
)

const testSecret = "stream-test-secret"

var (
	schoolA = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	schoolB = uuid.MustParse("22222222-2222-2222-2222-222222222222")
	classA  = uuid.MustParse("33333333-3333-3333-3333-333333333333")
)

type fakeSnapshotService struct {
	computeSchoolFn func(ctx context.Context, schoolID, scope string, includeWeekly bool) (*snapshot.SchoolSnapshot, error)
	computeClassFn  func(ctx context.Context, schoolID, classID, scope string) (*snapshot.ClassSnapshot, error)
}

func (f *fakeSnapshotService) ComputeSchool(ctx context.Context, schoolID, scope string, includeWeekly bool) (*snapshot.SchoolSnapshot, error) {
	if f.computeSchoolFn != nil {
		return f.computeSchoolFn(ctx, schoolID, scope, includeWeekly)
	}
	return &snapshot.SchoolSnapshot{Type: snapshot.TypeSchoolSnapshot, SchoolID: schoolID, Scope: scope}, nil
}

func (f *fakeSnapshotService) ComputeClass(ctx context.Context, schoolID, classID, scope string) (*snapshot.ClassSnapshot, error) {
	if f.computeClassFn != nil {
		return f.computeClassFn(ctx, schoolID, classID, scope)
	}
	return &snapshot.ClassSnapshot{Type: snapshot.TypeClassSnapshot, SchoolID: schoolID, ClassID: classID, Scope: scope}, nil
}

type fakeClassRepo struct {
	findByIDFn        func(ctx context.Context, id string) (*class.Class, error)
	teacherClassIDsFn func(ctx context.Context, teacherID string) ([]string, error)
	teacherAssignedFn func(ctx context.Context, teacherID, classID string) (bool, error)
}

func (f *fakeClassRepo) FindByID(ctx context.Context, id string) (*class.Class, error) {
	if f.findByIDFn != nil {
		return f.findByIDFn(ctx, id)
	}
	return &class.Class{ID: classA, SchoolID: schoolA}, nil
}

func (f *fakeClassRepo) ListSchedules(ctx context.Context, schoolID string) ([]class.Schedule, error) {
	return nil, nil
}

func (f *fakeClassRepo) TeacherClassIDs(ctx context.Context, teacherID string) ([]string, error) {
	if f.teacherClassIDsFn != nil {
		return f.teacherClassIDsFn(ctx, teacherID)
	}
	return nil, nil
}

func (f *fakeClassRepo) TeacherAssigned(ctx context.Context, teacherID, classID string) (bool, error) {
	if f.teacherAssignedFn != nil {
		return f.teacherAssignedFn(ctx, teacherID, classID)
	}
	return true, nil
}

// safeRecorder guards the response body so tests can read it while the
// session goroutine is still writing.
type safeRecorder struct {
	*httptest.ResponseRecorder
	mu sync.Mutex
}

func newSafeRecorder() *safeRecorder {
	return &safeRecorder{ResponseRecorder: httptest.NewRecorder()}
}

func (r *safeRecorder) Write(b []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ResponseRecorder.Write(b)
}

func (r *safeRecorder) bodyString() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ResponseRecorder.Body.String()
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(time.Hour).Unix()
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func adminToken(t *testing.T, schoolID string) string {
	return signToken(t, jwt.MapClaims{
		"user_id":   "user-1",
		"role":      auth.RoleSchoolAdmin,
		"school_id": schoolID,
		"stream":    true,
	})
}

type streamFixture struct {
	bus     *Bus
	tracker *ConnectionTracker
	router  *gin.Engine
}

func newStreamFixture(t *testing.T, snapshots snapshot.Service, classes class.Repository) *streamFixture {
	t.Helper()
	t.Setenv("JWT_SECRET", testSecret)
	gin.SetMode(gin.TestMode)

	if snapshots == nil {
		snapshots = &fakeSnapshotService{}
	}
	if classes == nil {
		classes = &fakeClassRepo{}
	}

	bus := NewBus(zap.NewNop())
	tracker := NewConnectionTracker()
	handler := NewHandler(snapshots, classes, bus, tracker, zap.NewNop())

	router := gin.New()
	RegisterRoutes(router.Group("/api/v1"), handler)
	return &streamFixture{bus: bus, tracker: tracker, router: router}
}

// runStream serves one streaming request on its own goroutine, waits until
// the session has subscribed to subKey, and returns the recorder plus a stop
// function that disconnects the client and waits for the handler to finish.
func (f *streamFixture) runStream(t *testing.T, path, subKey string) (*safeRecorder, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, path, nil).WithContext(ctx)
	rec := newSafeRecorder()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.router.ServeHTTP(rec, req)
	}()

	waitFor(t, func() bool { return f.bus.SubscriberCount(subKey) > 0 })

	return rec, func() {
		cancel()
		wg.Wait()
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestStream_RejectsMissingToken(t *testing.T) {
	f := newStreamFixture(t, nil, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/schools/"+schoolA.String()+"/events/stream", nil)
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok":false`)
}

func TestStream_ConnectStormFromOneAddressIsThrottled(t *testing.T) {
	f := newStreamFixture(t, nil, nil)
	path := "/api/v1/schools/" + schoolA.String() + "/events/stream"

	var throttled *httptest.ResponseRecorder
	for i := 0; i < 12; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "203.0.113.7:4242"
		f.router.ServeHTTP(rec, req)

		if i == 0 {
			// under the limit the request reaches the session auth check
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		}
		if rec.Code == http.StatusTooManyRequests {
			throttled = rec
			break
		}
	}

	require.NotNil(t, throttled, "connect burst was never throttled")
	assert.Contains(t, throttled.Body.String(), "Too many requests from this IP")
}

func TestStream_RequiresStreamClaimInProduction(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	f := newStreamFixture(t, nil, nil)

	token := signToken(t, jwt.MapClaims{
		"user_id":   "user-1",
		"role":      auth.RoleSchoolAdmin,
		"school_id": schoolA.String(),
	})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/schools/"+schoolA.String()+"/events/stream?token="+token, nil)
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStream_ForbiddenForOtherSchool(t *testing.T) {
	f := newStreamFixture(t, nil, nil)

	token := adminToken(t, schoolB.String())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/schools/"+schoolA.String()+"/snapshots/stream?token="+token, nil)
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStream_ClassFromAnotherSchoolIsNotFound(t *testing.T) {
	classes := &fakeClassRepo{
		findByIDFn: func(ctx context.Context, id string) (*class.Class, error) {
			return &class.Class{ID: classA, SchoolID: schoolB}, nil
		},
	}
	f := newStreamFixture(t, nil, classes)

	token := adminToken(t, schoolA.String())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/schools/"+schoolA.String()+"/classes/"+classA.String()+"/events/stream?token="+token, nil)
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStream_SnapshotStreamPushesBothScopesOnConnect(t *testing.T) {
	f := newStreamFixture(t, nil, nil)

	token := adminToken(t, schoolA.String())
	rec, stop := f.runStream(t,
		"/api/v1/schools/"+schoolA.String()+"/snapshots/stream?token="+token,
		snapshot.SchoolKey(schoolA.String()))
	stop()

	body := rec.bodyString()
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, body, `"type":"connected"`)
	assert.Contains(t, body, `"scope":"started"`)
	assert.Contains(t, body, `"scope":"active"`)
}

func TestStream_DeliversPublishedEvents(t *testing.T) {
	f := newStreamFixture(t, nil, nil)

	key := EventSchoolKey(schoolA.String())
	token := adminToken(t, schoolA.String())
	rec, stop := f.runStream(t, "/api/v1/schools/"+schoolA.String()+"/events/stream?token="+token, key)

	classID := classA.String()
	f.bus.Publish(key, AttendanceEvent{
		Type:     TypeAttendanceEvent,
		SchoolID: schoolA.String(),
		ClassID:  &classID,
		Event:    attendance.EventResponse{ID: "event-1", EventType: "IN"},
	})
	waitFor(t, func() bool { return strings.Contains(rec.bodyString(), "event-1") })
	stop()

	assert.Contains(t, rec.bodyString(), `"attendance_event"`)
}

func TestStream_TeacherOnlySeesAssignedClassEvents(t *testing.T) {
	classes := &fakeClassRepo{
		teacherClassIDsFn: func(ctx context.Context, teacherID string) ([]string, error) {
			return []string{classA.String()}, nil
		},
	}
	f := newStreamFixture(t, nil, classes)

	key := EventSchoolKey(schoolA.String())
	token := signToken(t, jwt.MapClaims{
		"user_id":   "teacher-1",
		"role":      auth.RoleTeacher,
		"school_id": schoolA.String(),
		"stream":    true,
	})
	rec, stop := f.runStream(t, "/api/v1/schools/"+schoolA.String()+"/events/stream?token="+token, key)

	assigned := classA.String()
	other := uuid.NewString()
	f.bus.Publish(key, AttendanceEvent{
		Type: TypeAttendanceEvent, SchoolID: schoolA.String(), ClassID: &other,
		Event: attendance.EventResponse{ID: "hidden-event", EventType: "IN"},
	})
	f.bus.Publish(key, AttendanceEvent{
		Type: TypeAttendanceEvent, SchoolID: schoolA.String(), ClassID: &assigned,
		Event: attendance.EventResponse{ID: "visible-event", EventType: "IN"},
	})
	waitFor(t, func() bool { return strings.Contains(rec.bodyString(), "visible-event") })
	stop()

	body := rec.bodyString()
	assert.Contains(t, body, "visible-event")
	assert.NotContains(t, body, "hidden-event")
}

func TestStream_TrackerCountsSessionLifecycle(t *testing.T) {
	f := newStreamFixture(t, nil, nil)

	key := EventSchoolKey(schoolA.String())
	token := adminToken(t, schoolA.String())
	_, stop := f.runStream(t, "/api/v1/schools/"+schoolA.String()+"/events/stream?token="+token, key)

	assert.Equal(t, 1, f.tracker.Stats().ByKey[key])

	stop()
	waitFor(t, func() bool { return f.tracker.Stats().Total == 0 })
	assert.Equal(t, 0, f.bus.SubscriberCount(key))
}

func TestStream_AdminFeedRequiresSuperAdmin(t *testing.T) {
	f := newStreamFixture(t, nil, nil)

	token := adminToken(t, schoolA.String())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/events/stream?token="+token, nil)
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}
