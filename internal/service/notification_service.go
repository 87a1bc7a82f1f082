package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	goldmarkHTML "github.com/yuin/goldmark/renderer/html"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/noah-isme/tutorhub-api/internal/models"
	appErrors "github.com/noah-isme/tutorhub-api/pkg/errors"
	"github.com/noah-isme/tutorhub-api/pkg/jobs"
	"github.com/noah-isme/tutorhub-api/pkg/mailer"
)

const (
	jobTypeEmail = "email"
	jobTypeEvent = "event"
)

type announcementStore interface {
	GetTemplate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.MessageTemplate, error)
	Create(ctx context.Context, exec sqlx.ExtContext, announcement *models.Announcement) error
}

type eventPublisher interface {
	Publish(ctx context.Context, eventType string, data interface{}) error
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// NotificationService renders templated announcements and delivers committed side effects:
// emails, domain events, cache invalidation and metric observations.
type NotificationService struct {
	repo      announcementStore
	sender    mailer.Sender
	publisher eventPublisher
	queue     jobEnqueuer
	cache     *CacheService
	metrics   *MetricsService
	logger    *zap.Logger
	tracer    trace.Tracer
	markdown  goldmark.Markdown
	policy    *bluemonday.Policy
	strict    *bluemonday.Policy
	now       func() time.Time
}

// NewNotificationService constructs the service. Without a queue, effects are delivered inline.
func NewNotificationService(repo announcementStore, sender mailer.Sender, publisher eventPublisher, cacheSvc *CacheService, metrics *MetricsService, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		repo:      repo,
		sender:    sender,
		publisher: publisher,
		cache:     cacheSvc,
		metrics:   metrics,
		logger:    logger,
		tracer:    otel.Tracer("github.com/noah-isme/tutorhub-api/internal/service/notification"),
		markdown:  goldmark.New(goldmark.WithRendererOptions(goldmarkHTML.WithHardWraps())),
		policy:    bluemonday.UGCPolicy(),
		strict:    bluemonday.StrictPolicy(),
		now:       time.Now,
	}
}

// UseQueue routes emails and events through an asynchronous worker pool.
func (s *NotificationService) UseQueue(queue jobEnqueuer) {
	s.queue = queue
}

// Render fills {{name}} placeholders and renders the markdown body to HTML. The subject is
// plain text and takes values verbatim; the body takes them sanitised.
func (s *NotificationService) Render(tpl *models.MessageTemplate, vars map[string]string) (string, string, error) {
	plain := make([]string, 0, len(vars)*2)
	escaped := make([]string, 0, len(vars)*2)
	for key, value := range vars {
		placeholder := "{{" + key + "}}"
		plain = append(plain, placeholder, value)
		escaped = append(escaped, placeholder, s.strict.Sanitize(value))
	}

	subject := strings.NewReplacer(plain...).Replace(tpl.Subject)
	var buf bytes.Buffer
	if err := s.markdown.Convert([]byte(strings.NewReplacer(escaped...).Replace(tpl.Body)), &buf); err != nil {
		return "", "", fmt.Errorf("render template %s: %w", tpl.ID, err)
	}
	return subject, s.policy.Sanitize(buf.String()), nil
}

// SendTemplatedAnnouncement stores a rendered announcement for target inside the caller's
// transaction and schedules the email for after commit.
func (s *NotificationService) SendTemplatedAnnouncement(ctx context.Context, exec sqlx.ExtContext, fx *Effects, target models.AnnouncementTarget, templateID string, vars map[string]string) (*models.Announcement, error) {
	ctx, span := s.tracer.Start(ctx, "notifications.templated", trace.WithAttributes(
		attribute.String("template.id", templateID),
		attribute.String("recipient.id", target.UserID),
	))
	defer span.End()

	tpl, err := s.repo.GetTemplate(ctx, exec, templateID)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("message template %s not found", templateID))
		}
		return nil, passThrough(err, "failed to load message template")
	}
	subject, body, err := s.Render(tpl, vars)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to render message template")
	}

	id := tpl.ID
	announcement := &models.Announcement{
		ID:          uuid.NewString(),
		RecipientID: target.UserID,
		TemplateID:  &id,
		Subject:     subject,
		Body:        body,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.repo.Create(ctx, exec, announcement); err != nil {
		span.RecordError(err)
		return nil, passThrough(err, "failed to store announcement")
	}
	if target.Email != "" {
		fx.email(mailer.Message{To: []string{target.Email}, Subject: subject, HTML: body})
	}
	return announcement, nil
}

// Dispatch performs the effects of a committed transaction. Failures are logged, never returned:
// the data change has already happened.
func (s *NotificationService) Dispatch(ctx context.Context, fx *Effects) {
	if s == nil || fx == nil {
		return
	}
	for _, msg := range fx.emails {
		s.submit(ctx, jobs.Job{ID: uuid.NewString(), Type: jobTypeEmail, Payload: msg})
	}
	for _, evt := range fx.events {
		s.submit(ctx, jobs.Job{ID: uuid.NewString(), Type: jobTypeEvent, Payload: evt})
	}
	s.cache.InvalidateEnrollments(ctx, fx.enrollments, fx.sessions)
	if s.metrics != nil {
		for _, observe := range fx.observers {
			observe(s.metrics)
		}
	}
}

func (s *NotificationService) submit(ctx context.Context, job jobs.Job) {
	if s.queue != nil {
		err := s.queue.Enqueue(job)
		if err == nil {
			return
		}
		s.logger.Warn("notification queue rejected job, delivering inline", zap.String("type", job.Type), zap.Error(err))
	}
	if err := s.HandleJob(ctx, job); err != nil {
		s.logger.Warn("notification delivery failed", zap.String("type", job.Type), zap.String("job_id", job.ID), zap.Error(err))
	}
}

// HandleJob delivers one queued effect. It is the worker handler of the notification queue.
func (s *NotificationService) HandleJob(ctx context.Context, job jobs.Job) error {
	switch payload := job.Payload.(type) {
	case mailer.Message:
		if s.sender == nil {
			return nil
		}
		return s.sender.Send(ctx, payload)
	case pendingEvent:
		if s.publisher == nil {
			return nil
		}
		return s.publisher.Publish(ctx, payload.Type, payload.Data)
	default:
		return fmt.Errorf("unsupported notification job %q", job.Type)
	}
}

// ObserveOperation forwards transaction timings to the metrics service.
func (s *NotificationService) ObserveOperation(operation string, err error, duration time.Duration) {
	if s == nil {
		return
	}
	s.metrics.ObserveOperation(operation, err, duration)
}

// DeadLetter logs jobs that exhausted their retries.
func (s *NotificationService) DeadLetter(job jobs.Job, err error) {
	s.logger.Error("notification job dropped", zap.String("type", job.Type), zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
}
