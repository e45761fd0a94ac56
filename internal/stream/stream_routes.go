package stream

import (
	"go-school/internal/middleware"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes wires the event-stream endpoints. The stream handlers do
// their own token authentication because EventSource clients pass the token
// as a query parameter; only the request/response stats endpoint goes
// through the standard middleware chain.
func RegisterRoutes(r *gin.RouterGroup, handler *Handler) {
	// one shared limiter across every stream connect; reconnect storms from
	// a single address are throttled before any session work happens
	connectLimit := middleware.RateLimitByIP(5, 10)

	schools := r.Group("/schools/:schoolId")
	schools.Use(connectLimit)
	{
		schools.GET("/events/stream", handler.SchoolEvents)
		schools.GET("/classes/:classId/events/stream", handler.ClassEvents)
		schools.GET("/snapshots/stream", handler.SchoolSnapshots)
		schools.GET("/classes/:classId/snapshots/stream", handler.ClassSnapshots)
	}

	admin := r.Group("/admin")
	{
		admin.GET("/events/stream", connectLimit, handler.AdminEvents)
		admin.GET("/connection-stats",
			middleware.AuthMiddleware(),
			middleware.RoleMiddleware(),
			handler.ConnectionStats)
	}
}
