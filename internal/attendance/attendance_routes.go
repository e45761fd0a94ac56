package attendance

import (
	"go-school/internal/auth"
	"go-school/internal/middleware"

	"github.com/gin-gonic/gin"
)

func RegisterRoutes(r *gin.RouterGroup, handler *Handler) {
	schools := r.Group("/schools/:schoolId")
	schools.Use(middleware.AuthMiddleware())
	schools.Use(middleware.RoleMiddleware(auth.RoleSchoolAdmin, auth.RoleTeacher, auth.RoleGuard))
	{
		schools.GET("/dashboard", handler.Dashboard)
		schools.GET("/events", handler.Events)
		schools.GET("/events/history", handler.EventsHistory)
	}

	admin := r.Group("/admin")
	admin.Use(middleware.AuthMiddleware())
	admin.Use(middleware.RoleMiddleware())
	{
		admin.GET("/dashboard", handler.AdminDashboard)
	}
}
