package auth

import (
	"go-school/internal/middleware"

	"github.com/gin-gonic/gin"
)

func RegisterRoutes(r *gin.RouterGroup, handler *Handler) {
	auth := r.Group("/auth")
	{
		auth.GET("/stream-token", middleware.AuthMiddleware(), middleware.RateLimitByUser(2, 5), handler.StreamToken)
	}
}
