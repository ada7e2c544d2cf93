package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/academy-adm-api/api/swagger"
	"github.com/noah-isme/academy-adm-api/internal/handler"
	"github.com/noah-isme/academy-adm-api/internal/middleware"
	"github.com/noah-isme/academy-adm-api/internal/models"
	"github.com/noah-isme/academy-adm-api/internal/repository"
	"github.com/noah-isme/academy-adm-api/internal/service"
	"github.com/noah-isme/academy-adm-api/pkg/cache"
	"github.com/noah-isme/academy-adm-api/pkg/config"
	"github.com/noah-isme/academy-adm-api/pkg/database"
	"github.com/noah-isme/academy-adm-api/pkg/jobs"
	"github.com/noah-isme/academy-adm-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/academy-adm-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/academy-adm-api/pkg/middleware/requestid"
	"github.com/noah-isme/academy-adm-api/pkg/storage"
)

// @title Academy Admission API
// @version 1.0.0
// @description Multi-tenant academy management API with a serialized enrollment admission pipeline
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redisClient.Close()

	transcriptStorage, err := storage.NewLocalStorage(cfg.Transcripts.StorageDir)
	if err != nil {
		logr.Fatal("failed to init transcript storage", zap.Error(err))
	}
	transcriptSigner := storage.NewSignedURLSigner(cfg.Transcripts.SignedURLSecret, cfg.Transcripts.SignedURLTTL)

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	syllabusRepo := repository.NewSyllabusRepository(db)
	registrationRepo := repository.NewRegistrationRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)

	metricsService := service.NewMetricsService()
	authService := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	notifier := service.NewRedisProgressNotifier(redisClient, cfg.Admission.ProgressChannel, logr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	admissionQueue := jobs.NewSerialQueue("admission", jobs.SerialQueueConfig{
		BufferSize: cfg.Admission.QueueBufferSize,
		Logger:     logr,
	})
	admissionQueue.Start(ctx)
	defer admissionQueue.Stop()

	admissionService := service.NewAdmissionService(admissionQueue, syllabusRepo, registrationRepo, enrollmentRepo, notifier, metricsService, validate, logr, service.AdmissionConfig{
		WaitingThreshold: cfg.Admission.WaitingThreshold,
	})
	enrollmentService := service.NewEnrollmentService(enrollmentRepo, registrationRepo, syllabusRepo, validate, logr)
	syllabusService := service.NewSyllabusService(syllabusRepo, logr)
	transcriptService := service.NewTranscriptService(enrollmentRepo, transcriptStorage, transcriptSigner, service.TranscriptConfig{
		APIPrefix: cfg.APIPrefix,
	}, logr)

	authHandler := handler.NewAuthHandler(authService)
	enrollmentHandler := handler.NewEnrollmentHandler(admissionService, enrollmentService, transcriptService)
	syllabusHandler := handler.NewSyllabusHandler(syllabusService)
	metricsHandler := handler.NewMetricsHandler(metricsService)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsService))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)

	// Signed token downloads carry their own authentication.
	api.GET("/enrollments/transcript/download", enrollmentHandler.DownloadTranscript)

	enrollments := api.Group("/enrollments", middleware.JWT(authService))
	{
		enrollments.POST("", enrollmentHandler.Create)
		enrollments.GET("", enrollmentHandler.List)
		enrollments.GET("/evaluations", enrollmentHandler.Evaluations)
		enrollments.GET("/transcript", enrollmentHandler.Transcript)
		enrollments.GET("/:id", enrollmentHandler.Get)
		enrollments.PUT("/:id/evaluation", enrollmentHandler.UpdateEvaluation)
		enrollments.PUT("/:id/memo", enrollmentHandler.UpdateMemo)
		enrollments.PUT("/:id/hide", enrollmentHandler.Hide)
		enrollments.PUT("/:id/show", enrollmentHandler.Show)
		enrollments.DELETE("/:id", enrollmentHandler.Delete)
		enrollments.DELETE("", middleware.RequireRoles(models.RoleTeacher, models.RoleAdmin), enrollmentHandler.DeleteMany)
	}

	syllabuses := api.Group("/syllabuses", middleware.JWT(authService))
	{
		syllabuses.GET("", syllabusHandler.List)
		syllabuses.GET("/:id", syllabusHandler.Get)
		syllabuses.PUT("/:id/confirm", middleware.RequireRoles(models.RoleTeacher, models.RoleAdmin), syllabusHandler.Confirm)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logr.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Warn("forced shutdown", zap.Error(err))
	}
}
