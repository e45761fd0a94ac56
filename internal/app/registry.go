package app

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"go-school/internal/attendance"
	"go-school/internal/auth"
	"go-school/internal/class"
	"go-school/internal/device"
	"go-school/internal/messaging/kafka"
	"go-school/internal/middleware"
	"go-school/internal/school"
	"go-school/internal/snapshot"
	"go-school/internal/stream"
	"go-school/internal/student"
	"go-school/internal/webhook"
)

func registerModules(
	ctx context.Context,
	router *gin.Engine,
	gormDB *gorm.DB,
	rdb *redis.Client,
) error {
	logger := zap.L()

	router.Use(middleware.RequestID())
	router.Use(middleware.ContextLogger(logger))

	// --- Repositories ---
	attendanceRepo := attendance.NewRepository(gormDB)
	schoolRepo := school.NewRepository(gormDB)
	classRepo := class.NewRepository(gormDB)
	studentRepo := student.NewRepository(gormDB)
	deviceRepo := device.NewRepository(gormDB)
	outboxRepo := kafka.NewOutboxRepository(gormDB)

	// --- Live fan-out ---
	bus := stream.NewBus(logger)
	tracker := stream.NewConnectionTracker()
	var pub stream.Publisher = bus
	if rdb != nil {
		bridge := stream.NewBridge(bus, rdb, logger)
		bridge.Start(ctx)
		pub = bridge
	}
	emitter := stream.NewEmitter(pub)

	// --- Services ---
	attendanceService := attendance.NewService(attendanceRepo, schoolRepo, classRepo, studentRepo)
	snapshotService := snapshot.NewService(attendanceRepo, schoolRepo, classRepo, studentRepo)
	scheduler := snapshot.NewScheduler(snapshotService, pub, bus, schoolRepo, logger)
	scheduler.Start(ctx)
	authService := auth.NewService()
	webhookService := webhook.NewServiceWithOutbox(
		gormDB, attendanceRepo, classRepo, studentRepo, deviceRepo,
		emitter, scheduler, outboxRepo, logger,
	)

	// --- Handlers ---
	authHandler := auth.NewHandler(authService)
	attendanceHandler := attendance.NewHandler(attendanceService, classRepo)
	webhookHandler := webhook.NewHandler(webhookService, schoolRepo, logger)
	streamHandler := stream.NewHandler(snapshotService, classRepo, bus, tracker, logger)

	// --- Routes Registration ---
	api := router.Group("/api/v1")
	{
		auth.RegisterRoutes(api, authHandler)
		attendance.RegisterRoutes(api, attendanceHandler)
		webhook.RegisterRoutes(api, webhookHandler)
		stream.RegisterRoutes(api, streamHandler)
	}

	return nil
}
