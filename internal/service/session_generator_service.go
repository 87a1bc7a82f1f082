package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/noah-isme/tutorhub-api/internal/dto"
	"github.com/noah-isme/tutorhub-api/internal/models"
	"github.com/noah-isme/tutorhub-api/internal/repository"
	"github.com/noah-isme/tutorhub-api/pkg/database"
	appErrors "github.com/noah-isme/tutorhub-api/pkg/errors"
	"github.com/noah-isme/tutorhub-api/pkg/events"
)

const defaultMaxOccurrences = 52

type sessionStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, session *models.Session) error
	GetByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Session, error)
	GetForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Session, error)
	List(ctx context.Context, filter models.SessionFilter) ([]models.Session, int, error)
	TeacherHasOverlap(ctx context.Context, exec sqlx.ExtContext, q repository.OverlapQuery) (bool, error)
	StudentHasOverlap(ctx context.Context, exec sqlx.ExtContext, q repository.OverlapQuery) (bool, error)
	ListSeriesFrom(ctx context.Context, exec sqlx.ExtContext, recurringID string, from time.Time, excludeID string) ([]models.Session, error)
	UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, from, to models.SessionStatus) error
	Update(ctx context.Context, exec sqlx.ExtContext, session *models.Session) error
}

type programStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, program *models.Program) error
	GetByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Program, error)
}

type availabilityChecker interface {
	IsAvailableFor(ctx context.Context, exec sqlx.ExtContext, teacherID string, start, end time.Time) (bool, error)
}

// SessionGeneratorService materialises single and weekly recurring sessions subject to
// teacher availability, double-booking rules and the enrollment's credit balance.
type SessionGeneratorService struct {
	tx             txRunner
	sessions       sessionStore
	enrollments    enrollmentStore
	programs       programStore
	availability   availabilityChecker
	dispatcher     effectDispatcher
	validator      *validator.Validate
	logger         *zap.Logger
	tracer         trace.Tracer
	lock           lockFunc
	maxOccurrences int
}

// NewSessionGeneratorService constructs the generator.
func NewSessionGeneratorService(tx txRunner, sessions sessionStore, enrollments enrollmentStore, programs programStore, availability availabilityChecker, dispatcher effectDispatcher, validate *validator.Validate, logger *zap.Logger, maxOccurrences int) *SessionGeneratorService {
	if validate == nil {
		validate = dto.NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxOccurrences <= 0 {
		maxOccurrences = defaultMaxOccurrences
	}
	return &SessionGeneratorService{
		tx:             tx,
		sessions:       sessions,
		enrollments:    enrollments,
		programs:       programs,
		availability:   availability,
		dispatcher:     dispatcher,
		validator:      validate,
		logger:         logger,
		tracer:         otel.Tracer("github.com/noah-isme/tutorhub-api/internal/service/session_generator"),
		lock:           database.AdvisoryLock,
		maxOccurrences: maxOccurrences,
	}
}

// GenerateRecurring creates Count weekly occurrences of the template sharing one recurring id.
// Occurrences the teacher cannot take or that double-book someone are reported, not created.
// When the template bears credits, the whole batch is rejected unless the active enrollment
// holds at least Count credits.
func (s *SessionGeneratorService) GenerateRecurring(ctx context.Context, req dto.CreateRecurringSessionsRequest) (*models.GenerationResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid recurring session payload")
	}
	if req.Count > s.maxOccurrences {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("count must be between 1 and %d", s.maxOccurrences))
	}
	template := sessionFromRequest(req.CreateSessionRequest)
	recurringID := uuid.NewString()
	template.RecurringID = &recurringID
	return s.generate(ctx, template, req.Count)
}

// CreateSession creates one session. A slot the teacher cannot take or that double-books
// someone is a Conflict.
func (s *SessionGeneratorService) CreateSession(ctx context.Context, req dto.CreateSessionRequest) (*models.Session, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}
	result, err := s.generate(ctx, sessionFromRequest(req), 1)
	if err != nil {
		return nil, err
	}
	if len(result.Skipped) > 0 {
		return nil, skipConflict(result.Skipped[0].Reason)
	}
	return &result.Created[0], nil
}

func (s *SessionGeneratorService) generate(ctx context.Context, template models.Session, count int) (*models.GenerationResult, error) {
	ctx, span := s.tracer.Start(ctx, "sessions.generate", trace.WithAttributes(
		attribute.String("teacher.id", template.TeacherID),
		attribute.String("session.type", string(template.SessionType)),
		attribute.Int("occurrences", count),
	))
	defer span.End()

	var result *models.GenerationResult
	err := runInTx(ctx, "sessions.generate", s.tx, s.dispatcher, func(ctx context.Context, exec sqlx.ExtContext, fx *Effects) error {
		result = &models.GenerationResult{Created: []models.Session{}, Skipped: []models.SkippedOccurrence{}}

		keys := []string{"teacher:" + template.TeacherID}
		if student := template.StudentIDValue(); student != "" {
			keys = append(keys, "student:"+student)
		}
		if err := s.lock(ctx, exec, keys...); err != nil {
			return passThrough(err, "failed to lock calendars")
		}

		if _, err := s.programs.GetByID(ctx, exec, template.ProgramID); err != nil {
			return notFoundOr(err, "program not found", "failed to load program")
		}
		if err := s.checkCredits(ctx, exec, template, count); err != nil {
			return err
		}

		for i := 0; i < count; i++ {
			occurrence := template
			occurrence.ID = ""
			occurrence.StartTime = template.StartTime.AddDate(0, 0, 7*i)
			occurrence.EndTime = template.EndTime.AddDate(0, 0, 7*i)

			reason, ok, err := s.CheckSlot(ctx, exec, &occurrence, "")
			if err != nil {
				return err
			}
			if !ok {
				result.Skipped = append(result.Skipped, models.SkippedOccurrence{
					Occurrence: i + 1,
					StartTime:  occurrence.StartTime,
					EndTime:    occurrence.EndTime,
					Reason:     reason,
				})
				continue
			}
			if err := s.sessions.Create(ctx, exec, &occurrence); err != nil {
				return passThrough(err, "failed to create session")
			}
			result.Created = append(result.Created, occurrence)
		}

		if len(result.Created) > 0 {
			result.RecurringID = template.RecurringID
			fx.touchSessions()
			ids := make([]string, len(result.Created))
			for i := range result.Created {
				ids[i] = result.Created[i].ID
			}
			fx.event(events.TypeSessionsCreated, map[string]interface{}{
				"session_ids":  ids,
				"recurring_id": result.RecurringID,
				"teacher_id":   template.TeacherID,
			})
		}
		generated := result
		fx.observe(func(m *MetricsService) { m.RecordOccurrences(generated) })
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.logger.Info("sessions generated",
		zap.String("teacher_id", template.TeacherID),
		zap.Int("created", len(result.Created)),
		zap.Int("skipped", len(result.Skipped)),
	)
	return result, nil
}

func (s *SessionGeneratorService) checkCredits(ctx context.Context, exec sqlx.ExtContext, template models.Session, count int) error {
	student := template.StudentIDValue()
	if !template.SessionType.IsCreditBearing() || student == "" {
		return nil
	}
	enrollment, err := s.enrollments.FindActive(ctx, exec, student, template.ProgramID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrPreconditionFailed, "student has no active enrollment in this program")
		}
		return passThrough(err, "failed to load enrollment")
	}
	if enrollment.CreditsRemaining < count {
		return appErrors.Clone(appErrors.ErrPreconditionFailed,
			fmt.Sprintf("insufficient credits: %d remaining, %d sessions requested", enrollment.CreditsRemaining, count))
	}
	return nil
}

// CheckSlot reports whether session can be placed, or why it cannot. excludeID ignores the
// session itself when rescheduling.
func (s *SessionGeneratorService) CheckSlot(ctx context.Context, exec sqlx.ExtContext, session *models.Session, excludeID string) (models.SkipReason, bool, error) {
	available, err := s.availability.IsAvailableFor(ctx, exec, session.TeacherID, session.StartTime, session.EndTime)
	if err != nil {
		return "", false, passThrough(err, "failed to check availability")
	}
	if !available {
		return models.SkipTeacherUnavailable, false, nil
	}
	query := repository.OverlapQuery{
		TeacherID: session.TeacherID,
		StudentID: session.StudentIDValue(),
		Start:     session.StartTime,
		End:       session.EndTime,
		ExcludeID: excludeID,
	}
	clash, err := s.sessions.TeacherHasOverlap(ctx, exec, query)
	if err != nil {
		return "", false, passThrough(err, "failed to check teacher calendar")
	}
	if clash {
		return models.SkipTeacherConflict, false, nil
	}
	if session.SessionType != models.SessionTypeDemo && query.StudentID != "" {
		clash, err = s.sessions.StudentHasOverlap(ctx, exec, query)
		if err != nil {
			return "", false, passThrough(err, "failed to check student calendar")
		}
		if clash {
			return models.SkipStudentConflict, false, nil
		}
	}
	return "", true, nil
}

func sessionFromRequest(req dto.CreateSessionRequest) models.Session {
	session := models.Session{
		Title:            strings.TrimSpace(req.Title),
		TeacherID:        req.TeacherID,
		StudentID:        req.StudentID,
		ProgramID:        req.ProgramID,
		SessionType:      models.SessionType(strings.ToUpper(req.SessionType)),
		StartTime:        naive(req.StartTime),
		EndTime:          naive(req.EndTime),
		CurriculumItemID: req.CurriculumItemID,
		MeetingURL:       req.MeetingURL,
		Summary:          req.Summary,
		Status:           models.SessionStatusScheduled,
	}
	return session
}

func skipConflict(reason models.SkipReason) error {
	switch reason {
	case models.SkipTeacherUnavailable:
		return appErrors.Clone(appErrors.ErrConflict, "teacher is not available for this time")
	case models.SkipStudentConflict:
		return appErrors.Clone(appErrors.ErrConflict, "student already has a session at this time")
	default:
		return appErrors.Clone(appErrors.ErrConflict, "teacher already has a session at this time")
	}
}
