package attendance

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"go-school/internal/auth"
	autherrors "go-school/internal/auth/errors"
	"go-school/internal/class"
	"go-school/internal/shared/apperror"
	"go-school/internal/shared/response"
)

type Handler struct {
	service Service
	classes class.Repository
}

func NewHandler(s Service, classes class.Repository) *Handler {
	return &Handler{service: s, classes: classes}
}

// resolveScope applies the tenancy rules shared by every school-scoped
// endpoint: non-super users stay inside their own school, teachers stay
// inside their assigned classes.
func (ctrl *Handler) resolveScope(c *gin.Context, schoolID, classID string) ([]string, *apperror.AppError) {
	claims := auth.FromGin(c)

	if claims.Role != auth.RoleSuperAdmin && claims.SchoolID != schoolID {
		return nil, autherrors.ErrForbidden
	}

	if classID != "" {
		cls, err := ctrl.classes.FindByID(c.Request.Context(), classID)
		if err != nil || cls.SchoolID.String() != schoolID {
			return nil, apperror.New(apperror.CodeNotFound, "Class not found", http.StatusNotFound)
		}
	}

	if claims.Role != auth.RoleTeacher {
		return nil, nil
	}

	if classID != "" {
		assigned, err := ctrl.classes.TeacherAssigned(c.Request.Context(), claims.UserID, classID)
		if err != nil {
			return nil, apperror.Wrap(err, apperror.CodeInternalError, "Failed to check class assignment", 500)
		}
		if !assigned {
			return nil, autherrors.ErrForbidden
		}
		return []string{classID}, nil
	}

	ids, err := ctrl.classes.TeacherClassIDs(c.Request.Context(), claims.UserID)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternalError, "Failed to load class assignments", 500)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// Dashboard handles GET /schools/:schoolId/dashboard.
func (ctrl *Handler) Dashboard(c *gin.Context) {
	schoolID := c.Param("schoolId")
	classID := c.Query("classId")

	allowed, appErr := ctrl.resolveScope(c, schoolID, classID)
	if appErr != nil {
		response.Error(c, appErr.HTTPStatus, appErr.Code, appErr.Message, nil)
		return
	}

	scope := c.DefaultQuery("scope", "started")
	if scope != "started" && scope != "active" {
		scope = "started"
	}

	q := DashboardQuery{
		SchoolID:        schoolID,
		ClassID:         classID,
		Period:          c.DefaultQuery("period", PeriodToday),
		CustomStart:     c.Query("startDate"),
		CustomEnd:       c.Query("endDate"),
		Scope:           scope,
		AllowedClassIDs: allowed,
	}

	resp, err := ctrl.service.Dashboard(c.Request.Context(), q)
	if err != nil {
		httpErr := apperror.ToHTTP(err)
		response.Error(c, httpErr.Status, httpErr.Code, httpErr.Message, nil)
		return
	}
	response.Success(c, http.StatusOK, resp, nil)
}

// AdminDashboard handles GET /admin/dashboard (super admin only).
func (ctrl *Handler) AdminDashboard(c *gin.Context) {
	scope := c.DefaultQuery("scope", "started")
	if scope != "started" && scope != "active" {
		scope = "started"
	}

	resp, err := ctrl.service.AdminDashboard(
		c.Request.Context(),
		scope,
		c.DefaultQuery("period", PeriodToday),
		c.Query("startDate"),
		c.Query("endDate"),
	)
	if err != nil {
		httpErr := apperror.ToHTTP(err)
		response.Error(c, httpErr.Status, httpErr.Code, httpErr.Message, nil)
		return
	}
	response.Success(c, http.StatusOK, resp, nil)
}

// Events handles GET /schools/:schoolId/events (today's scans, newest first).
func (ctrl *Handler) Events(c *gin.Context) {
	schoolID := c.Param("schoolId")

	allowed, appErr := ctrl.resolveScope(c, schoolID, "")
	if appErr != nil {
		response.Error(c, appErr.HTTPStatus, appErr.Code, appErr.Message, nil)
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	events, err := ctrl.service.EventsToday(c.Request.Context(), schoolID, allowed, limit)
	if err != nil {
		httpErr := apperror.ToHTTP(err)
		response.Error(c, httpErr.Status, httpErr.Code, httpErr.Message, nil)
		return
	}
	response.Success(c, http.StatusOK, events, nil)
}

// EventsHistory handles GET /schools/:schoolId/events/history.
func (ctrl *Handler) EventsHistory(c *gin.Context) {
	schoolID := c.Param("schoolId")

	allowed, appErr := ctrl.resolveScope(c, schoolID, "")
	if appErr != nil {
		response.Error(c, appErr.HTTPStatus, appErr.Code, appErr.Message, nil)
		return
	}

	var q HistoryQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		httpErr := apperror.ToHTTP(apperror.MapValidationError(err))
		response.Error(c, httpErr.Status, httpErr.Code, httpErr.Message, nil)
		return
	}
	if q.Limit == 0 {
		q.Limit = 200
	}

	events, err := ctrl.service.EventsHistory(
		c.Request.Context(),
		schoolID,
		allowed,
		q.StartDate,
		q.EndDate,
		q.Limit,
	)
	if err != nil {
		httpErr := apperror.ToHTTP(err)
		response.Error(c, httpErr.Status, httpErr.Code, httpErr.Message, nil)
		return
	}
	response.Success(c, http.StatusOK, events, nil)
}
