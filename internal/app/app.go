package app

import (
	"context"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"go-school/internal/shared/connection"
)

// BuildApp connects the infrastructure and wires every module onto the
// router. Redis is optional: without REDIS_ADDR the event bus stays
// process-local and a single instance serves all stream subscribers.
func BuildApp(ctx context.Context, router *gin.Engine) error {
	logger := zap.L()

	gormDB, err := connection.ConnectGORMWithRetry(
		os.Getenv("DB_HOST"),
		os.Getenv("DB_USER"),
		os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_NAME"),
		os.Getenv("DB_PORT"),
		os.Getenv("DB_SSLMODE"),
		5,
	)
	if err != nil {
		return err
	}
	logger.Info("database connection established")

	var redisClient *redis.Client
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		redisClient, err = connection.ConnectRedisWithRetry(addr, 5)
		if err != nil {
			return err
		}
		logger.Info("redis connected, cross-instance fan-out enabled")
	} else {
		logger.Info("REDIS_ADDR not set, event fan-out is local to this instance")
	}

	return registerModules(ctx, router, gormDB, redisClient)
}
