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
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/tutorhub-api/api/swagger"
	"github.com/noah-isme/tutorhub-api/internal/bootstrap"
	"github.com/noah-isme/tutorhub-api/internal/handler"
	"github.com/noah-isme/tutorhub-api/internal/middleware"
	"github.com/noah-isme/tutorhub-api/internal/models"
	"github.com/noah-isme/tutorhub-api/pkg/config"
	"github.com/noah-isme/tutorhub-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/tutorhub-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/tutorhub-api/pkg/middleware/requestid"
)

// @title TutorHub API
// @version 1.0.0
// @description Scheduling, credit ledger and curriculum progression engine for tutoring programs
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

	reporter := logger.NewReporter(cfg, logr)
	defer reporter.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logr, bootstrap.Options{Async: true, Events: true})
	if err != nil {
		logr.Fatal("failed to bootstrap engine", zap.Error(err))
	}
	defer app.Close()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(reporter.Middleware())
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(app.Metrics))
	r.Use(middleware.WithResponseMeta())

	stores := map[string]handler.Pinger{"postgres": app.DB}
	if app.Redis != nil {
		stores["redis"] = handler.PingFunc(func(ctx context.Context) error { return app.Redis.Ping(ctx).Err() })
	}
	metricsHandler := handler.NewMetricsHandler(app.Metrics, stores)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	r.GET("/metrics/summary", metricsHandler.Snapshot)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	registerRoutes(r.Group(cfg.APIPrefix), app)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Errorw("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}
}

func registerRoutes(api *gin.RouterGroup, app *bootstrap.Container) {
	staff := middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin, models.RoleTeacher)
	admins := middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin)

	sessionHandler := handler.NewSessionHandler(app.Sessions, app.Generator, app.Lifecycle, app.Access)
	enrollmentHandler := handler.NewEnrollmentHandler(app.Enrollments, app.Ledger, app.Curriculum, app.Access)
	programHandler := handler.NewProgramHandler(app.Programs)
	availabilityHandler := handler.NewAvailabilityHandler(app.Availability)
	cancellationHandler := handler.NewCancellationHandler(app.Cancellations)

	secured := api.Group("")
	secured.Use(middleware.JWT(app.Tokens))

	sessions := secured.Group("/sessions")
	sessions.GET("", sessionHandler.List)
	sessions.POST("", staff, sessionHandler.Create)
	sessions.POST("/recurring", staff, sessionHandler.CreateRecurring)
	sessions.PATCH("/:id", staff, sessionHandler.Update)
	sessions.POST("/:id/status", staff, sessionHandler.SetStatus)
	sessions.POST("/:id/cancel", staff, sessionHandler.Cancel)
	sessions.GET("/:id/join", sessionHandler.Join)

	enrollments := secured.Group("/enrollments")
	enrollments.POST("", admins, enrollmentHandler.Create)
	enrollments.GET("/:id", enrollmentHandler.Get)
	enrollments.GET("/:id/balance", enrollmentHandler.Balance)
	enrollments.GET("/:id/transactions", enrollmentHandler.Transactions)
	enrollments.POST("/:id/credits", admins, enrollmentHandler.PurchaseCredits)
	enrollments.GET("/:id/ledger/verify", admins, enrollmentHandler.VerifyLedger)
	enrollments.GET("/:id/curriculum", enrollmentHandler.Curriculum)
	enrollments.PUT("/:id/curriculum/items/:itemId", staff, enrollmentHandler.SetCurriculumItem)

	programs := secured.Group("/programs")
	programs.POST("", admins, programHandler.Create)
	programs.GET("/:id", programHandler.Get)

	teacherWrites := middleware.RBAC(string(models.RoleAdmin), string(models.RoleSuperAdmin), middleware.Self)
	teachers := secured.Group("/teachers/:id")
	teachers.GET("/availability", availabilityHandler.Get)
	teachers.PUT("/availability", teacherWrites, availabilityHandler.Replace)
	teachers.POST("/unavailability", teacherWrites, availabilityHandler.AddUnavailability)
	teachers.GET("/availability/check", availabilityHandler.Check)

	requests := secured.Group("/cancellation-requests")
	requests.POST("", middleware.RequireRoles(models.RoleStudent, models.RoleParent), cancellationHandler.Create)
	requests.GET("", cancellationHandler.List)
	requests.POST("/:id/approve", staff, cancellationHandler.Approve)
	requests.POST("/:id/deny", staff, cancellationHandler.Deny)
}
