package main

import (
	"context"
	"os"

	"go-school/internal/app"
	"go-school/internal/bootstrap"
	"go-school/internal/shared/apperror"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	apperror.Init()
	r := gin.Default()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// build dependency + routes
	if err := app.BuildApp(ctx, r); err != nil {
		logger.Fatal("build app failed", zap.Error(err))
	}

	auditLogger := bootstrap.NewStdoutAuditLogger()
	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}
	bootstrap.StartHTTPServer(r, bootstrap.APIServerConfig(port), auditLogger)
}
