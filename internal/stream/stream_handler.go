package stream

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"go-school/internal/auth"
	autherrors "go-school/internal/auth/errors"
	"go-school/internal/class"
	"go-school/internal/shared/apperror"
	"go-school/internal/shared/contextutil"
	"go-school/internal/shared/response"
	"go-school/internal/snapshot"
)

const (
	TypeConnected       = "connected"
	TypeConnectionStats = "connection_stats"

	connectionStatsInterval = 60 * time.Second

	// Per-session buffer between bus delivery and the SSE write loop. A
	// session that falls this far behind starts dropping frames; the next
	// periodic snapshot recompute restores its view.
	sessionBuffer = 64
)

// Handler serves the long-lived event-stream endpoints. Each connection is
// authenticated from a token query parameter, scoped to its school or class,
// registered with the connection tracker, and fed from bus subscriptions
// until the client goes away.
type Handler struct {
	snapshots snapshot.Service
	classes   class.Repository
	bus       *Bus
	tracker   *ConnectionTracker
	logger    *zap.Logger

	// requireStreamClaim rejects general API tokens on stream endpoints so
	// long-lived tokens never end up in URLs and proxy logs.
	requireStreamClaim bool
}

func NewHandler(
	snapshots snapshot.Service,
	classes class.Repository,
	bus *Bus,
	tracker *ConnectionTracker,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		snapshots:          snapshots,
		classes:            classes,
		bus:                bus,
		tracker:            tracker,
		logger:             logger.Named("stream.handler"),
		requireStreamClaim: os.Getenv("APP_ENV") == "production",
	}
}

// authenticate validates the token query parameter. EventSource cannot set
// an Authorization header, so streams carry the token in the URL.
func (h *Handler) authenticate(c *gin.Context) (*auth.Claims, *apperror.AppError) {
	token := c.Query("token")
	if token == "" {
		return nil, autherrors.ErrUnauthorized
	}
	claims, err := auth.ParseToken(token)
	if err != nil {
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, autherrors.ErrInvalidToken
	}
	if h.requireStreamClaim && !claims.Stream {
		return nil, autherrors.ErrStreamToken
	}
	return claims, nil
}

func (h *Handler) reject(c *gin.Context, appErr *apperror.AppError) {
	httpErr := apperror.ToHTTP(appErr)
	response.Error(c, httpErr.Status, httpErr.Code, httpErr.Message, nil)
}

// authorizeSchool checks role membership and school scope. For teachers it
// also resolves the assigned class list used to filter event payloads; nil
// means unrestricted.
func (h *Handler) authorizeSchool(c *gin.Context, claims *auth.Claims, schoolID string, roles ...string) ([]string, *apperror.AppError) {
	if !auth.HasRole(claims.Role, roles...) {
		return nil, autherrors.ErrForbidden
	}
	if claims.Role != auth.RoleSuperAdmin && claims.SchoolID != schoolID {
		return nil, autherrors.ErrForbidden
	}
	if claims.Role == auth.RoleTeacher {
		ids, err := h.classes.TeacherClassIDs(c.Request.Context(), claims.UserID)
		if err != nil {
			return nil, apperror.Wrap(err, apperror.CodeInternalError, "Failed to resolve class assignments", http.StatusInternalServerError)
		}
		if ids == nil {
			ids = []string{}
		}
		return ids, nil
	}
	return nil, nil
}

// authorizeClass additionally verifies the class belongs to the school and,
// for teachers, that the teacher is assigned to it.
func (h *Handler) authorizeClass(c *gin.Context, claims *auth.Claims, schoolID, classID string, roles ...string) *apperror.AppError {
	if !auth.HasRole(claims.Role, roles...) {
		return autherrors.ErrForbidden
	}
	if claims.Role != auth.RoleSuperAdmin && claims.SchoolID != schoolID {
		return autherrors.ErrForbidden
	}
	cls, err := h.classes.FindByID(c.Request.Context(), classID)
	if err != nil || cls == nil || cls.SchoolID.String() != schoolID {
		return apperror.New(apperror.CodeNotFound, "Class not found", http.StatusNotFound)
	}
	if claims.Role == auth.RoleTeacher {
		assigned, err := h.classes.TeacherAssigned(c.Request.Context(), claims.UserID, classID)
		if err != nil {
			return apperror.Wrap(err, apperror.CodeInternalError, "Failed to resolve class assignments", http.StatusInternalServerError)
		}
		if !assigned {
			return autherrors.ErrForbidden
		}
	}
	return nil
}

// subscription binds one bus key to an optional payload filter. A nil
// filter passes everything published on the key.
type subscription struct {
	key    string
	filter func(payload any) bool
}

type sessionConfig struct {
	trackerKey string
	initial    []any
	subs       []subscription
	// pushConnectionStats adds the periodic tracker report used by the
	// admin feed.
	pushConnectionStats bool
}

// serve runs one stream session to completion: tracker registration, bus
// subscriptions, initial frames, then the write loop until the client
// disconnects or a write fails. Cleanup runs exactly once on every exit
// path via the deferred disposers.
func (h *Handler) serve(c *gin.Context, cfg sessionConfig) {
	writer, err := newSSEWriter(c.Writer)
	if err != nil {
		h.reject(c, apperror.Wrap(err, apperror.CodeInternalError, "Streaming is not supported on this connection", http.StatusInternalServerError))
		return
	}

	logger := contextutil.GetLogger(c.Request.Context(), h.logger).
		With(zap.String("stream_key", cfg.trackerKey))

	out := make(chan any, sessionBuffer)
	send := func(payload any) {
		select {
		case out <- payload:
		default:
			logger.Warn("stream session buffer full, dropping frame")
		}
	}

	h.tracker.Connect(cfg.trackerKey)
	defer h.tracker.Disconnect(cfg.trackerKey)

	for _, sub := range cfg.subs {
		filter := sub.filter
		dispose := h.bus.Subscribe(sub.key, func(payload any) {
			if filter != nil && !filter(payload) {
				return
			}
			send(payload)
		})
		defer dispose()
	}

	for _, frame := range cfg.initial {
		if err := writer.WriteEvent(frame); err != nil {
			logger.Debug("initial stream write failed", zap.Error(err))
			return
		}
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	var stats <-chan time.Time
	if cfg.pushConnectionStats {
		ticker := time.NewTicker(connectionStatsInterval)
		defer ticker.Stop()
		stats = ticker.C
	}

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			logger.Debug("stream client disconnected")
			return
		case payload := <-out:
			if err := writer.WriteEvent(payload); err != nil {
				logger.Debug("stream write failed", zap.Error(err))
				return
			}
		case at := <-heartbeat.C:
			if err := writer.WriteHeartbeat(at); err != nil {
				logger.Debug("stream heartbeat failed", zap.Error(err))
				return
			}
		case <-stats:
			if err := writer.WriteEvent(h.connectionStatsFrame()); err != nil {
				logger.Debug("stream write failed", zap.Error(err))
				return
			}
		}
	}
}

func (h *Handler) connectionStatsFrame() ConnectionStats {
	frame := h.tracker.Stats()
	frame.Type = TypeConnectionStats
	frame.Timestamp = time.Now().UTC().Format(time.RFC3339)
	return frame
}

func connectedFrame() gin.H {
	return gin.H{
		"type":      TypeConnected,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
}

// eventScope extracts the school and class ids from an attendance event
// payload. Payloads arrive either as typed AttendanceEvent values from the
// local emitter or as raw JSON republished by the cross-instance bridge.
func eventScope(payload any) (schoolID string, classID *string, ok bool) {
	switch v := payload.(type) {
	case AttendanceEvent:
		return v.SchoolID, v.ClassID, true
	case json.RawMessage:
		var event AttendanceEvent
		if err := json.Unmarshal(v, &event); err != nil {
			return "", nil, false
		}
		return event.SchoolID, event.ClassID, true
	default:
		return "", nil, false
	}
}

// schoolEventFilter admits events for one school, optionally restricted to
// a teacher's assigned classes.
func schoolEventFilter(schoolID string, allowedClassIDs []string) func(payload any) bool {
	return func(payload any) bool {
		eventSchool, eventClass, ok := eventScope(payload)
		if !ok || eventSchool != schoolID {
			return false
		}
		if allowedClassIDs == nil {
			return true
		}
		if eventClass == nil {
			return false
		}
		for _, id := range allowedClassIDs {
			if id == *eventClass {
				return true
			}
		}
		return false
	}
}

// SchoolEvents streams every scan event for one school.
func (h *Handler) SchoolEvents(c *gin.Context) {
	claims, appErr := h.authenticate(c)
	if appErr != nil {
		h.reject(c, appErr)
		return
	}
	schoolID := c.Param("schoolId")
	allowedClassIDs, appErr := h.authorizeSchool(c, claims, schoolID,
		auth.RoleSchoolAdmin, auth.RoleTeacher, auth.RoleGuard)
	if appErr != nil {
		h.reject(c, appErr)
		return
	}

	h.serve(c, sessionConfig{
		trackerKey: EventSchoolKey(schoolID),
		initial:    []any{connectedFrame()},
		subs: []subscription{
			{key: EventSchoolKey(schoolID), filter: schoolEventFilter(schoolID, allowedClassIDs)},
		},
	})
}

// ClassEvents streams scan events for one class.
func (h *Handler) ClassEvents(c *gin.Context) {
	claims, appErr := h.authenticate(c)
	if appErr != nil {
		h.reject(c, appErr)
		return
	}
	schoolID := c.Param("schoolId")
	classID := c.Param("classId")
	if appErr := h.authorizeClass(c, claims, schoolID, classID,
		auth.RoleSchoolAdmin, auth.RoleTeacher, auth.RoleGuard); appErr != nil {
		h.reject(c, appErr)
		return
	}

	filter := func(payload any) bool {
		eventSchool, eventClass, ok := eventScope(payload)
		return ok && eventSchool == schoolID && eventClass != nil && *eventClass == classID
	}
	h.serve(c, sessionConfig{
		trackerKey: EventClassKey(schoolID, classID),
		initial:    []any{connectedFrame()},
		subs: []subscription{
			{key: EventClassKey(schoolID, classID), filter: filter},
		},
	})
}

// SchoolSnapshots streams school-level aggregate snapshots. Both scopes are
// pushed on connect with weekly stats so the dashboard renders immediately;
// subsequent frames come from recomputes on the bus.
func (h *Handler) SchoolSnapshots(c *gin.Context) {
	claims, appErr := h.authenticate(c)
	if appErr != nil {
		h.reject(c, appErr)
		return
	}
	schoolID := c.Param("schoolId")
	if _, appErr := h.authorizeSchool(c, claims, schoolID,
		auth.RoleSchoolAdmin, auth.RoleGuard); appErr != nil {
		h.reject(c, appErr)
		return
	}

	initial := []any{connectedFrame()}
	for _, scope := range []string{snapshot.ScopeStarted, snapshot.ScopeActive} {
		snap, err := h.snapshots.ComputeSchool(c.Request.Context(), schoolID, scope, true)
		if err != nil {
			h.logger.Warn("initial school snapshot failed",
				zap.String("school_id", schoolID), zap.String("scope", scope), zap.Error(err))
			continue
		}
		initial = append(initial, snap)
	}

	h.serve(c, sessionConfig{
		trackerKey: snapshot.SchoolKey(schoolID),
		initial:    initial,
		subs: []subscription{
			{key: snapshot.SchoolKey(schoolID)},
		},
	})
}

// ClassSnapshots streams class-level aggregate snapshots.
func (h *Handler) ClassSnapshots(c *gin.Context) {
	claims, appErr := h.authenticate(c)
	if appErr != nil {
		h.reject(c, appErr)
		return
	}
	schoolID := c.Param("schoolId")
	classID := c.Param("classId")
	if appErr := h.authorizeClass(c, claims, schoolID, classID,
		auth.RoleSchoolAdmin, auth.RoleTeacher, auth.RoleGuard); appErr != nil {
		h.reject(c, appErr)
		return
	}

	initial := []any{connectedFrame()}
	for _, scope := range []string{snapshot.ScopeStarted, snapshot.ScopeActive} {
		snap, err := h.snapshots.ComputeClass(c.Request.Context(), schoolID, classID, scope)
		if err != nil {
			h.logger.Warn("initial class snapshot failed",
				zap.String("class_id", classID), zap.String("scope", scope), zap.Error(err))
			continue
		}
		initial = append(initial, snap)
	}

	h.serve(c, sessionConfig{
		trackerKey: snapshot.ClassKey(schoolID, classID),
		initial:    initial,
		subs: []subscription{
			{key: snapshot.ClassKey(schoolID, classID)},
		},
	})
}

// AdminEvents streams the combined platform feed: every scan event, per
// school stat updates, and periodic connection counts.
func (h *Handler) AdminEvents(c *gin.Context) {
	claims, appErr := h.authenticate(c)
	if appErr != nil {
		h.reject(c, appErr)
		return
	}
	if claims.Role != auth.RoleSuperAdmin {
		h.reject(c, autherrors.ErrForbidden)
		return
	}

	h.serve(c, sessionConfig{
		trackerKey: snapshot.AdminKey,
		initial:    []any{connectedFrame(), h.connectionStatsFrame()},
		subs: []subscription{
			{key: snapshot.AdminKey},
			{key: EventAdminKey},
		},
		pushConnectionStats: true,
	})
}

// ConnectionStats reports live connection counts. Request/response, not a
// stream; route middleware restricts it to super admins.
func (h *Handler) ConnectionStats(c *gin.Context) {
	response.Success(c, http.StatusOK, h.tracker.Stats(), nil)
}
