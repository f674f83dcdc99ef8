package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

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
// @description Admission, waitlist, and approval engine for class enrollment
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, waitlist cache disabled", "error", err)
		redisClient = nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Repositories.
	txManager := repository.NewTxManager(db, cfg.Enrollment.OperationTimeout)
	classConfigs := repository.NewClassConfigRepository(db)
	enrollments := repository.NewEnrollmentRepository(db)
	waitlist := repository.NewWaitlistRepository(db)
	approvals := repository.NewApprovalRepository(db)
	overrides := repository.NewOverrideRepository(db)
	conflicts := repository.NewConflictRepository(db)
	audit := repository.NewAuditRepository(db)
	studentFacts := repository.NewStudentFactsRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close()

	// Services.
	metricsService := service.NewMetricsService()
	notifications := service.NewNotificationService(service.NewLogSender(logr), jobs.QueueConfig{
		Workers:    cfg.Notify.Workers,
		BufferSize: cfg.Notify.BufferSize,
		MaxRetries: cfg.Notify.MaxRetries,
		RetryDelay: cfg.Notify.RetryDelay,
		Logger:     logr,
	}, logr)
	notifications.Start(ctx)
	defer notifications.Stop()

	rulesService := service.NewRulesService()
	capacityService := service.NewCapacityService(txManager, classConfigs, enrollments, waitlist, audit,
		cacheRepo, metricsService, notifications, logr, cfg.Waitlist.HoldTTL, cfg.Waitlist.PositionCacheTTL)
	enrollmentService := service.NewEnrollmentService(txManager, classConfigs, enrollments, approvals,
		studentFacts, rulesService, capacityService, audit, notifications, logr,
		cfg.Enrollment.RequestTTL, cfg.Enrollment.BulkMaxStudents)
	approvalService := service.NewApprovalService(txManager, approvals, capacityService, audit, notifications, logr)
	overrideService := service.NewOverrideService(txManager, overrides, capacityService, audit, logr, cfg.Conflicts.OverrideQuotaPeriod)
	conflictService := service.NewConflictService(txManager, conflicts, audit, metricsService, logr, cfg.Conflicts)

	// Background sweeps.
	if cfg.Conflicts.SweepEnabled {
		go conflictService.Sweep(ctx, cfg.Conflicts.SweepInterval)
	}
	go func() {
		ticker := time.NewTicker(cfg.Waitlist.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				capacityService.SweepExpiredHolds(ctx)
			}
		}
	}()

	// Handlers.
	handler.RegisterValidations()
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentService)
	waitlistHandler := handler.NewWaitlistHandler(capacityService)
	approvalHandler := handler.NewApprovalHandler(approvalService)
	overrideHandler := handler.NewOverrideHandler(overrideService)
	conflictHandler := handler.NewConflictHandler(conflictService)
	auditHandler := handler.NewAuditHandler(audit)
	metricsHandler := handler.NewMetricsHandler(metricsService)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsService))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(cfg.JWT.Secret))

	staff := middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleInstructor)
	admins := middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin)

	api.POST("/enrollments", enrollmentHandler.Request)
	api.GET("/enrollments", staff, enrollmentHandler.List)
	api.POST("/enrollments/bulk", staff, enrollmentHandler.Bulk)

	api.DELETE("/classes/:classId/students/:studentId", middleware.RBAC("SUPERADMIN", "ADMIN", "INSTRUCTOR", "SELF"), enrollmentHandler.Drop)
	api.POST("/classes/:classId/students/:studentId/complete", staff, enrollmentHandler.Complete)
	api.GET("/classes/:classId/students/:studentId/eligibility", middleware.RBAC("SUPERADMIN", "ADMIN", "INSTRUCTOR", "SELF"), enrollmentHandler.Eligibility)
	api.POST("/classes/:classId/invitations/accept", enrollmentHandler.AcceptInvitation)

	api.GET("/classes/:classId/waitlist", staff, waitlistHandler.List)
	api.GET("/classes/:classId/waitlist/:studentId", middleware.RBAC("SUPERADMIN", "ADMIN", "INSTRUCTOR", "SELF"), waitlistHandler.Position)
	api.POST("/classes/:classId/waitlist/accept", waitlistHandler.Accept)
	api.POST("/classes/:classId/waitlist/decline", waitlistHandler.Decline)
	api.POST("/classes/:classId/waitlist/promote", admins, waitlistHandler.Promote)

	api.GET("/approvals/pending", staff, approvalHandler.ListPending)
	api.GET("/approvals/:id", staff, approvalHandler.Get)
	api.POST("/approvals/:id/approve", staff, approvalHandler.Approve)
	api.POST("/approvals/:id/deny", staff, approvalHandler.Deny)

	api.POST("/overrides", staff, overrideHandler.Request)
	api.POST("/overrides/:id/approve", admins, overrideHandler.Approve)
	api.POST("/overrides/:id/deny", admins, overrideHandler.Deny)
	api.GET("/overrides/pending", staff, overrideHandler.ListPending)
	api.GET("/overrides/policy", staff, overrideHandler.Policy)

	api.POST("/conflicts/detect", admins, conflictHandler.Detect)
	api.GET("/conflicts", admins, conflictHandler.List)
	api.POST("/conflicts/:id/resolve", admins, conflictHandler.Resolve)

	api.GET("/audit", admins, auditHandler.List)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
