// Package bootstrap assembles the engine from configuration. Both the API server and
// the operator CLI build their services through Container.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/tutorhub-api/internal/repository"
	"github.com/noah-isme/tutorhub-api/internal/service"
	"github.com/noah-isme/tutorhub-api/pkg/cache"
	"github.com/noah-isme/tutorhub-api/pkg/config"
	"github.com/noah-isme/tutorhub-api/pkg/database"
	"github.com/noah-isme/tutorhub-api/pkg/events"
	"github.com/noah-isme/tutorhub-api/pkg/jobs"
	"github.com/noah-isme/tutorhub-api/pkg/mailer"
)

// Container owns the infrastructure handles and every engine service.
type Container struct {
	DB        *sqlx.DB
	Redis     *redis.Client
	Publisher *events.Publisher
	Queue     *jobs.Queue

	Metrics       *service.MetricsService
	Tokens        *service.TokenService
	Notifications *service.NotificationService
	Ledger        *service.LedgerService
	Curriculum    *service.CurriculumService
	Availability  *service.AvailabilityService
	Generator     *service.SessionGeneratorService
	Sessions      *service.SessionService
	Lifecycle     *service.SessionLifecycleService
	Cancellations *service.CancellationService
	Enrollments   *service.EnrollmentService
	Programs      *service.ProgramService
	Access        *service.AccessService
}

// Options toggles infrastructure that only the long running server needs.
type Options struct {
	// Async delivers post-commit notifications through a worker queue.
	Async bool
	// Events connects to NATS when a URL is configured.
	Events bool
}

// New connects to the stores and wires the services.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*Container, error) {
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	c := &Container{DB: db, Metrics: service.NewMetricsService()}

	tx := database.NewTxRunner(db, database.TxRunnerConfig{
		Timeout:    cfg.Database.StoreTimeout,
		MaxRetries: cfg.Database.MaxRetries,
		RetryDelay: cfg.Database.RetryDelay,
		Logger:     logger.Named("tx"),
	})

	var cacheSvc *service.CacheService
	if cfg.Cache.Enabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logger.Warn("read cache disabled, redis unreachable", zap.Error(err))
		} else {
			c.Redis = client
			cacheSvc = service.NewCacheService(repository.NewCacheRepository(client, logger), c.Metrics, cfg.Cache.TTL, logger, true)
		}
	}

	if opts.Events && cfg.Notifications.NATSURL != "" {
		conn, err := events.Connect(cfg.Notifications.NATSURL, logger)
		if err != nil {
			logger.Warn("domain events disabled, nats unreachable", zap.Error(err))
		} else {
			c.Publisher = events.NewPublisher(conn, cfg.Notifications.SubjectPrefix, logger)
		}
	}

	announcements := repository.NewAnnouncementRepository(db)
	assignments := repository.NewAssignmentRepository(db)
	availability := repository.NewAvailabilityRepository(db)
	cancellations := repository.NewCancellationRepository(db)
	transactions := repository.NewCreditTransactionRepository(db)
	progress := repository.NewCurriculumRepository(db)
	enrollments := repository.NewEnrollmentRepository(db)
	programs := repository.NewProgramRepository(db)
	sessions := repository.NewSessionRepository(db)
	students := repository.NewStudentRepository(db)

	sender := mailer.New(cfg.Notifications.ResendAPIKey, cfg.Notifications.MailFrom, logger)
	c.Notifications = service.NewNotificationService(announcements, sender, c.Publisher, cacheSvc, c.Metrics, logger.Named("notifications"))
	if opts.Async {
		c.Queue = jobs.NewQueue("notifications", c.Notifications.HandleJob, jobs.QueueConfig{
			Workers:    cfg.Notifications.Workers,
			MaxRetries: cfg.Notifications.MaxRetries,
			RetryDelay: 500 * time.Millisecond,
			Logger:     logger,
			DeadLetter: c.Notifications.DeadLetter,
		})
		c.Queue.Start(ctx)
		c.Notifications.UseQueue(c.Queue)
	}

	c.Tokens = service.NewTokenService(service.TokenConfig{
		Secret:   cfg.JWT.Secret,
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
	})

	sched := cfg.Scheduling
	c.Ledger = service.NewLedgerService(tx, enrollments, transactions, cacheSvc, c.Notifications, nil, logger.Named("ledger"), sched.LowCreditThreshold, cfg.Cache.TTL)
	c.Curriculum = service.NewCurriculumService(tx, progress, enrollments, cacheSvc, c.Notifications, nil, logger.Named("curriculum"), cfg.Cache.TTL)
	c.Availability = service.NewAvailabilityService(availability, tx, nil, logger.Named("availability"))
	c.Generator = service.NewSessionGeneratorService(tx, sessions, enrollments, programs, c.Availability, c.Notifications, nil, logger.Named("generator"), sched.MaxRecurringOccurrences)
	c.Sessions = service.NewSessionService(tx, sessions, c.Generator, cacheSvc, c.Notifications, nil, logger.Named("sessions"), service.JoinWindow{
		Before: sched.JoinWindowBefore,
		After:  sched.JoinWindowAfter,
	}, cfg.Cache.TTL)
	c.Lifecycle = service.NewSessionLifecycleService(
		tx, sessions, enrollments, programs,
		c.Ledger, c.Curriculum,
		service.NewProgressionCollaborators(students, assignments),
		c.Notifications, c.Notifications,
		nil, logger.Named("lifecycle"),
		service.LifecycleConfig{
			LowCreditThreshold:   sched.LowCreditThreshold,
			ExperiencePerSession: sched.ExperiencePerSession,
			AssignmentDueDays:    sched.AssignmentDueDays,
			LowCreditTemplateID:  sched.LowCreditTemplateID,
			CompanyName:          sched.CompanyName,
		},
	)
	c.Cancellations = service.NewCancellationService(tx, cancellations, sessions, students, c.Lifecycle, c.Notifications, nil, logger.Named("cancellations"))
	c.Enrollments = service.NewEnrollmentService(tx, enrollments, programs, c.Curriculum, c.Ledger, c.Notifications, nil, logger.Named("enrollments"))
	c.Access = service.NewAccessService(students, enrollments)
	c.Programs = service.NewProgramService(tx, programs, c.Notifications, nil, logger.Named("programs"))

	return c, nil
}

// Close stops background workers and releases connections.
func (c *Container) Close() {
	if c.Queue != nil {
		c.Queue.Stop()
	}
	c.Publisher.Close()
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.DB != nil {
		_ = c.DB.Close()
	}
}
