package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/noah-isme/tutorhub-api/internal/curriculum"
	"github.com/noah-isme/tutorhub-api/internal/dto"
	"github.com/noah-isme/tutorhub-api/internal/models"
	"github.com/noah-isme/tutorhub-api/pkg/cache"
	appErrors "github.com/noah-isme/tutorhub-api/pkg/errors"
	"github.com/noah-isme/tutorhub-api/pkg/events"
)

type progressStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, progress *models.CurriculumProgress) error
	Get(ctx context.Context, exec sqlx.ExtContext, enrollmentID string) (*models.CurriculumProgress, error)
	GetForUpdate(ctx context.Context, exec sqlx.ExtContext, enrollmentID string) (*models.CurriculumProgress, error)
	Save(ctx context.Context, exec sqlx.ExtContext, progress *models.CurriculumProgress) error
}

// CurriculumService reads and advances an enrollment's curriculum progress.
type CurriculumService struct {
	tx          txRunner
	progress    progressStore
	enrollments enrollmentStore
	cache       *CacheService
	dispatcher  effectDispatcher
	validator   *validator.Validate
	logger      *zap.Logger
	tracer      trace.Tracer
	cacheTTL    time.Duration
	now         func() time.Time
}

// progressUpdate reports what a status change did.
type progressUpdate struct {
	Found               bool
	EnrollmentCompleted bool
	Progress            *models.CurriculumProgress
}

// NewCurriculumService constructs the service.
func NewCurriculumService(tx txRunner, progress progressStore, enrollments enrollmentStore, cacheSvc *CacheService, dispatcher effectDispatcher, validate *validator.Validate, logger *zap.Logger, cacheTTL time.Duration) *CurriculumService {
	if validate == nil {
		validate = dto.NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CurriculumService{
		tx:          tx,
		progress:    progress,
		enrollments: enrollments,
		cache:       cacheSvc,
		dispatcher:  dispatcher,
		validator:   validate,
		logger:      logger,
		tracer:      otel.Tracer("github.com/noah-isme/tutorhub-api/internal/service/curriculum"),
		cacheTTL:    cacheTTL,
		now:         time.Now,
	}
}

// GetCurriculumProgress returns the tree of an enrollment with its completion percentage.
func (s *CurriculumService) GetCurriculumProgress(ctx context.Context, enrollmentID string) (*models.ProgressView, error) {
	return readThrough(ctx, s.cache, cache.EnrollmentGenerationKey(enrollmentID), cache.ProgressKey(enrollmentID), s.cacheTTL, func() (*models.ProgressView, error) {
		progress, err := s.progress.Get(ctx, nil, enrollmentID)
		if err != nil {
			return nil, notFoundOr(err, "curriculum progress not found", "failed to load curriculum progress")
		}
		return progressView(progress), nil
	})
}

// SetCurriculumItemStatus applies a status to one item, cascading through the tree, and
// completes the enrollment once every item is Completed.
func (s *CurriculumService) SetCurriculumItemStatus(ctx context.Context, enrollmentID, itemID string, req dto.SetCurriculumItemRequest) (*models.ProgressView, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid curriculum status payload")
	}
	status := curriculum.Status(strings.ToUpper(req.Status))

	ctx, span := s.tracer.Start(ctx, "curriculum.set_status", trace.WithAttributes(
		attribute.String("enrollment.id", enrollmentID),
		attribute.String("item.id", itemID),
		attribute.String("status", string(status)),
	))
	defer span.End()

	var update *progressUpdate
	err := runInTx(ctx, "curriculum.set_status", s.tx, s.dispatcher, func(ctx context.Context, exec sqlx.ExtContext, fx *Effects) error {
		var err error
		update, err = s.apply(ctx, exec, fx, enrollmentID, itemID, status, true)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return progressView(update.Progress), nil
}

// apply changes an item status inside the caller's transaction. With strict unset, a
// missing progress or item is a no-op, which is how session completion treats stale ids.
func (s *CurriculumService) apply(ctx context.Context, exec sqlx.ExtContext, fx *Effects, enrollmentID, itemID string, status curriculum.Status, strict bool) (*progressUpdate, error) {
	progress, err := s.progress.GetForUpdate(ctx, exec, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) && !strict {
			return &progressUpdate{}, nil
		}
		return nil, notFoundOr(err, "curriculum progress not found", "failed to load curriculum progress")
	}
	if !progress.Tree.SetStatus(itemID, status) {
		if strict {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "curriculum item not found")
		}
		return &progressUpdate{Progress: progress}, nil
	}
	if err := s.progress.Save(ctx, exec, progress); err != nil {
		return nil, passThrough(err, "failed to save curriculum progress")
	}
	fx.touch(enrollmentID)

	update := &progressUpdate{Found: true, Progress: progress}
	if progress.Tree.AllCompleted() {
		completed, err := s.enrollments.MarkCompleted(ctx, exec, enrollmentID, s.now().UTC())
		if err != nil {
			return nil, passThrough(err, "failed to complete enrollment")
		}
		if completed {
			update.EnrollmentCompleted = true
			fx.event(events.TypeEnrollmentCompleted, map[string]interface{}{"enrollment_id": enrollmentID})
			s.logger.Info("enrollment completed", zap.String("enrollment_id", enrollmentID))
		}
	}
	return update, nil
}

// Instantiate stores a Locked copy of the program curriculum for a new enrollment.
func (s *CurriculumService) Instantiate(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment, program *models.Program) (*models.CurriculumProgress, error) {
	progress := &models.CurriculumProgress{
		EnrollmentID: enrollment.ID,
		ProgramID:    program.ID,
		Tree:         *program.Curriculum.Instantiate(),
	}
	if err := s.progress.Create(ctx, exec, progress); err != nil {
		return nil, passThrough(err, "failed to create curriculum progress")
	}
	return progress, nil
}

func progressView(progress *models.CurriculumProgress) *models.ProgressView {
	return &models.ProgressView{
		EnrollmentID: progress.EnrollmentID,
		ProgramID:    progress.ProgramID,
		Percent:      progress.Tree.Percent(),
		Completed:    progress.Tree.AllCompleted(),
		Items:        progress.Tree.Items(),
	}
}
