package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-enroll-api/api/swagger"
	"github.com/noah-isme/sma-enroll-api/internal/handler"
	"github.com/noah-isme/sma-enroll-api/internal/middleware"
	"github.com/noah-isme/sma-enroll-api/internal/models"
	"github.com/noah-isme/sma-enroll-api/internal/repository"
	"github.com/noah-isme/sma-enroll-api/internal/service"
	"github.com/noah-isme/sma-enroll-api/pkg/cache"
	"github.com/noah-isme/sma-enroll-api/pkg/config"
	"github.com/noah-isme/sma-enroll-api/pkg/database"
	"github.com/noah-isme/sma-enroll-api/pkg/jobs"
	"github.com/noah-isme/sma-enroll-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-enroll-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-enroll-api/pkg/middleware/requestid"
)

// @title SMA Enrollment API
// @version 0.1.0
// @description Enrollment and waitlist engine
// @BasePath /api/v1
// @schemes http

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
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	enrollmentRepo := repository.NewEnrollmentRepository(db)
	waitlistRepo := repository.NewWaitlistRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	classRepo := repository.NewClassRepository(db)
	studentRepo := repository.NewStudentRepository(db)

	metricsSvc := service.NewMetricsService()
	ledgerSvc := service.NewLedgerService(enrollmentRepo, redisClient, metricsSvc, logr)
	waitlistSvc := service.NewWaitlistService(waitlistRepo, auditRepo, metricsSvc, logr)
	eligibilitySvc := service.NewEligibilityService()

	auditRecorder := service.NewAuditRecorder(auditRepo, jobs.QueueConfig{
		Workers:    cfg.Audit.Workers,
		BufferSize: cfg.Audit.BufferSize,
		MaxRetries: cfg.Audit.MaxRetries,
		RetryDelay: cfg.Audit.RetryDelay,
		Logger:     logr,
	}, logr)

	var eventsClient = redisClient
	if !cfg.Events.Enabled {
		eventsClient = nil
	}
	eventPublisher := service.NewEventPublisher(eventsClient, cfg.Events, logr)

	enrollmentSvc := service.NewEnrollmentService(
		enrollmentRepo, studentRepo, classRepo,
		ledgerSvc, waitlistSvc, eligibilitySvc,
		auditRecorder, eventPublisher,
		service.NewClassLocks(cfg.Enrollment.LockShards),
		metricsSvc, cfg.Enrollment, cfg.Waitlist,
		validator.New(), logr,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	auditRecorder.Start(ctx)
	defer auditRecorder.Stop()

	go runOfferExpirySweep(ctx, enrollmentSvc, cfg.Waitlist.ExpirySweepPeriod, logr)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc, auditRecorder)
	waitlistHandler := handler.NewWaitlistHandler(enrollmentSvc, waitlistSvc)
	capacityHandler := handler.NewCapacityHandler(enrollmentSvc)

	api := r.Group("/api/v1")
	api.Use(middleware.JWT(cfg.JWT))
	{
		api.GET("/enrollments",
			middleware.RequireRoles(models.RoleAdmin, models.RoleRegistrar),
			enrollmentHandler.List)
		api.POST("/enrollments", enrollmentHandler.Create)
		api.POST("/enrollments/bulk",
			middleware.RequireRoles(models.RoleAdmin, models.RoleRegistrar),
			enrollmentHandler.Bulk)

		classes := api.Group("/classes/:classId")
		{
			classes.GET("/capacity", capacityHandler.Get)
			classes.POST("/capacity/reconcile",
				middleware.RequireRoles(models.RoleAdmin),
				capacityHandler.Reconcile)

			classes.GET("/waitlist",
				middleware.RequireRoles(models.RoleAdmin, models.RoleRegistrar),
				waitlistHandler.List)
			classes.GET("/waitlist/:studentId",
				middleware.RBAC(string(models.RoleAdmin), string(models.RoleRegistrar), "SELF"),
				waitlistHandler.Position)
			classes.DELETE("/waitlist/:studentId",
				middleware.RBAC(string(models.RoleAdmin), string(models.RoleRegistrar), "SELF"),
				waitlistHandler.Leave)

			students := classes.Group("/students/:studentId")
			students.Use(middleware.RBAC(string(models.RoleAdmin), string(models.RoleRegistrar), "SELF"))
			{
				students.POST("/drop", enrollmentHandler.Drop)
				students.POST("/withdraw", enrollmentHandler.Withdraw)
				students.POST("/complete", enrollmentHandler.Complete)
				students.GET("/history", enrollmentHandler.History)
			}
		}
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("shutdown incomplete", "error", err)
	}
}

// runOfferExpirySweep periodically expires lapsed seat offers so stalled
// candidates do not hold promotions back.
func runOfferExpirySweep(ctx context.Context, svc *service.EnrollmentService, period time.Duration, logr *zap.Logger) {
	if period <= 0 {
		period = time.Minute
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := svc.ExpireLapsedOffers(ctx); err != nil {
				logr.Warn("offer expiry sweep failed", zap.Error(err))
			}
		}
	}
}
