package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/tutorhub-api/internal/dto"
	"github.com/noah-isme/tutorhub-api/internal/models"
	appErrors "github.com/noah-isme/tutorhub-api/pkg/errors"
	"github.com/noah-isme/tutorhub-api/pkg/events"
)

// EnrollmentService enrolls students into programs.
type EnrollmentService struct {
	tx          txRunner
	enrollments enrollmentStore
	programs    programStore
	curriculum  *CurriculumService
	ledger      *LedgerService
	dispatcher  effectDispatcher
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(tx txRunner, enrollments enrollmentStore, programs programStore, curriculumSvc *CurriculumService, ledger *LedgerService, dispatcher effectDispatcher, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = dto.NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{
		tx:          tx,
		enrollments: enrollments,
		programs:    programs,
		curriculum:  curriculumSvc,
		ledger:      ledger,
		dispatcher:  dispatcher,
		validator:   validate,
		logger:      logger,
	}
}

// Get returns one enrollment.
func (s *EnrollmentService) Get(ctx context.Context, id string) (*models.Enrollment, error) {
	enrollment, err := s.enrollments.GetByID(ctx, nil, id)
	if err != nil {
		return nil, notFoundOr(err, "enrollment not found", "failed to load enrollment")
	}
	return enrollment, nil
}

// CreateEnrollment creates the enrollment, its Locked curriculum copy and the opening ledger entry.
func (s *EnrollmentService) CreateEnrollment(ctx context.Context, req dto.CreateEnrollmentRequest, actorID string) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}

	var enrollment *models.Enrollment
	err := runInTx(ctx, "enrollments.create", s.tx, s.dispatcher, func(ctx context.Context, exec sqlx.ExtContext, fx *Effects) error {
		program, err := s.programs.GetByID(ctx, exec, req.ProgramID)
		if err != nil {
			return notFoundOr(err, "program not found", "failed to load program")
		}
		existing, err := s.enrollments.FindActive(ctx, exec, req.StudentID, req.ProgramID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return passThrough(err, "failed to check existing enrollment")
		}
		if existing != nil {
			return appErrors.Clone(appErrors.ErrConflict, "student already has an active enrollment in this program")
		}

		enrollment = &models.Enrollment{
			StudentID: req.StudentID,
			ProgramID: req.ProgramID,
			TeacherID: req.TeacherID,
			Status:    models.EnrollmentStatusActive,
		}
		if err := s.enrollments.Create(ctx, exec, enrollment); err != nil {
			return passThrough(err, "failed to create enrollment")
		}
		if _, err := s.curriculum.Instantiate(ctx, exec, enrollment, program); err != nil {
			return err
		}
		if req.InitialCredits > 0 {
			change, err := s.ledger.ApplyChange(ctx, exec, fx, enrollment.ID, req.InitialCredits, models.CreditReasonOpening, actorID)
			if err != nil {
				return err
			}
			enrollment.CreditsRemaining = change.After
			enrollment.Version++
		}
		fx.event(events.TypeEnrollmentCreated, map[string]interface{}{
			"enrollment_id": enrollment.ID,
			"student_id":    enrollment.StudentID,
			"program_id":    enrollment.ProgramID,
			"credits":       enrollment.CreditsRemaining,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("enrollment created", zap.String("enrollment_id", enrollment.ID), zap.String("student_id", enrollment.StudentID))
	return enrollment, nil
}
