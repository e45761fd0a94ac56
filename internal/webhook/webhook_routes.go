package webhook

import (
	"go-school/internal/middleware"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes wires the device ingestion endpoint. No auth middleware:
// devices cannot carry bearer tokens, so access control is the per-school
// webhook secret plus an aggressive per-IP rate limit.
func RegisterRoutes(r *gin.RouterGroup, handler *Handler) {
	r.POST("/webhook/:schoolId/:direction", middleware.RateLimitByIP(20, 40), handler.Receive)
}
