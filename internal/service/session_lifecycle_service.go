package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/noah-isme/tutorhub-api/internal/curriculum"
	"github.com/noah-isme/tutorhub-api/internal/dto"
	"github.com/noah-isme/tutorhub-api/internal/models"
	appErrors "github.com/noah-isme/tutorhub-api/pkg/errors"
	"github.com/noah-isme/tutorhub-api/pkg/events"
)

// LifecycleConfig carries the product settings applied on session transitions.
type LifecycleConfig struct {
	LowCreditThreshold   int
	ExperiencePerSession int
	AssignmentDueDays    int
	LowCreditTemplateID  string
	CompanyName          string
}

type announcer interface {
	SendTemplatedAnnouncement(ctx context.Context, exec sqlx.ExtContext, fx *Effects, target models.AnnouncementTarget, templateID string, vars map[string]string) (*models.Announcement, error)
}

// SessionLifecycleService moves sessions through their states and applies the consequences:
// credit deduction and refund, low-credit alerts, assignments, curriculum progress and
// experience points. Every transition commits or rolls back as a whole.
type SessionLifecycleService struct {
	tx            txRunner
	sessions      sessionStore
	enrollments   enrollmentStore
	programs      programStore
	ledger        *LedgerService
	curriculum    *CurriculumService
	collaborators *ProgressionCollaborators
	announcer     announcer
	dispatcher    effectDispatcher
	validator     *validator.Validate
	logger        *zap.Logger
	tracer        trace.Tracer
	cfg           LifecycleConfig
}

// NewSessionLifecycleService constructs the lifecycle manager.
func NewSessionLifecycleService(
	tx txRunner,
	sessions sessionStore,
	enrollments enrollmentStore,
	programs programStore,
	ledger *LedgerService,
	curriculumSvc *CurriculumService,
	collaborators *ProgressionCollaborators,
	announcer announcer,
	dispatcher effectDispatcher,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg LifecycleConfig,
) *SessionLifecycleService {
	if validate == nil {
		validate = dto.NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AssignmentDueDays <= 0 {
		cfg.AssignmentDueDays = 7
	}
	return &SessionLifecycleService{
		tx:            tx,
		sessions:      sessions,
		enrollments:   enrollments,
		programs:      programs,
		ledger:        ledger,
		curriculum:    curriculumSvc,
		collaborators: collaborators,
		announcer:     announcer,
		dispatcher:    dispatcher,
		validator:     validate,
		logger:        logger,
		tracer:        otel.Tracer("github.com/noah-isme/tutorhub-api/internal/service/session_lifecycle"),
		cfg:           cfg,
	}
}

// SetSessionStatus applies a status to a session. Confirming the current status is a no-op,
// Cancelled delegates to a single-occurrence cancellation and anything other than a move out
// of Scheduled fails with PreconditionFailed.
func (s *SessionLifecycleService) SetSessionStatus(ctx context.Context, id string, req dto.SetSessionStatusRequest, actorID string) (*models.StatusChangeResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session status payload")
	}
	target := models.SessionStatus(strings.ToUpper(req.Status))

	ctx, span := s.tracer.Start(ctx, "sessions.set_status", trace.WithAttributes(
		attribute.String("session.id", id),
		attribute.String("status", string(target)),
	))
	defer span.End()

	var result *models.StatusChangeResult
	err := runInTx(ctx, "sessions.set_status", s.tx, s.dispatcher, func(ctx context.Context, exec sqlx.ExtContext, fx *Effects) error {
		session, err := s.sessions.GetForUpdate(ctx, exec, id)
		if err != nil {
			return notFoundOr(err, "session not found", "failed to load session")
		}
		result = &models.StatusChangeResult{}
		if session.Status == target {
			result.Session = *session
			return nil
		}
		if session.Status != models.SessionStatusScheduled {
			return appErrors.Clone(appErrors.ErrPreconditionFailed,
				fmt.Sprintf("cannot move a %s session to %s", strings.ToLower(session.Status.Label()), strings.ToLower(target.Label())))
		}

		if target == models.SessionStatusCancelled {
			cancellation, err := s.cancelInTx(ctx, exec, fx, session, models.CancelScopeSingle, actorID)
			if err != nil {
				return err
			}
			session.Status = models.SessionStatusCancelled
			result.Session = *session
			result.Changed = true
			result.Cancellation = cancellation
			return nil
		}

		if err := s.sessions.UpdateStatus(ctx, exec, session.ID, models.SessionStatusScheduled, target); err != nil {
			return passThrough(err, "failed to update session status")
		}
		session.Status = target
		result.Changed = true
		fx.touchSessions()
		fx.event(events.TypeSessionStatusChanged, map[string]interface{}{
			"session_id": session.ID,
			"from":       models.SessionStatusScheduled,
			"to":         target,
		})
		fx.observe(func(m *MetricsService) { m.RecordTransition(models.SessionStatusScheduled, target) })

		if err := s.settle(ctx, exec, fx, session, actorID, result); err != nil {
			return err
		}
		result.Session = *session
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if result.Changed {
		s.logger.Info("session status changed",
			zap.String("session_id", id),
			zap.String("status", string(target)),
			zap.Strings("notices", result.Notices),
		)
	}
	return result, nil
}

// settle applies the consequences of moving session to Completed or Absent.
func (s *SessionLifecycleService) settle(ctx context.Context, exec sqlx.ExtContext, fx *Effects, session *models.Session, actorID string, result *models.StatusChangeResult) error {
	student := session.StudentIDValue()
	var enrollment *models.Enrollment
	if student != "" {
		found, err := s.enrollments.FindActive(ctx, exec, student, session.ProgramID)
		switch {
		case err == nil:
			enrollment = found
		case errors.Is(err, sql.ErrNoRows):
		default:
			return passThrough(err, "failed to load enrollment")
		}
	}

	var program *models.Program
	loadProgram := func() (*models.Program, error) {
		if program != nil {
			return program, nil
		}
		loaded, err := s.programs.GetByID(ctx, exec, session.ProgramID)
		if err != nil {
			return nil, notFoundOr(err, "program not found", "failed to load program")
		}
		program = loaded
		return program, nil
	}

	if session.SessionType.IsCreditBearing() && student != "" {
		if enrollment == nil {
			result.Notices = append(result.Notices, "no active enrollment for this program; no credit deducted")
		} else {
			change, err := s.ledger.DeductIfAvailable(ctx, exec, fx, enrollment.ID, models.DeductionReason(session.Status), actorID)
			if err != nil {
				return err
			}
			remaining := change.After
			result.CreditsRemaining = &remaining
			if change.Skipped {
				result.Notices = append(result.Notices, "no credits remaining; deduction skipped")
			} else if change.Before > s.cfg.LowCreditThreshold && change.After <= s.cfg.LowCreditThreshold {
				prog, err := loadProgram()
				if err != nil {
					return err
				}
				if err := s.alertLowCredit(ctx, exec, fx, student, prog, change.After, result); err != nil {
					return err
				}
			}
		}
	}

	if session.Status != models.SessionStatusCompleted {
		return nil
	}

	if session.CurriculumItemID != nil && *session.CurriculumItemID != "" {
		itemID := *session.CurriculumItemID
		prog, err := loadProgram()
		if err != nil {
			return err
		}
		if next, ok := prog.Curriculum.NextItem(itemID); ok && student != "" {
			if err := s.createAssignments(ctx, exec, student, enrollment, next, result); err != nil {
				return err
			}
		}
		if enrollment != nil {
			update, err := s.curriculum.apply(ctx, exec, fx, enrollment.ID, itemID, curriculum.StatusCompleted, false)
			if err != nil {
				return err
			}
			result.EnrollmentCompleted = update.EnrollmentCompleted
			if update.EnrollmentCompleted {
				result.Notices = append(result.Notices, "curriculum finished; enrollment completed")
			}
		}
	}

	if student != "" && s.cfg.ExperiencePerSession > 0 {
		if err := s.collaborators.AddExperiencePoints(ctx, exec, student, s.cfg.ExperiencePerSession); err != nil {
			return err
		}
		result.ExperienceAwarded = s.cfg.ExperiencePerSession
	}
	return nil
}

func (s *SessionLifecycleService) createAssignments(ctx context.Context, exec sqlx.ExtContext, studentID string, enrollment *models.Enrollment, next curriculum.Item, result *models.StatusChangeResult) error {
	enrollmentID := ""
	if enrollment != nil {
		enrollmentID = enrollment.ID
	}
	for _, tpl := range next.Assignments {
		if _, err := s.collaborators.CreateAssignment(ctx, exec, studentID, enrollmentID, next, tpl, s.cfg.AssignmentDueDays); err != nil {
			return err
		}
		result.AssignmentsCreated++
		result.Notices = append(result.Notices, fmt.Sprintf("assignment %q created for %s", tpl.Title, next.Title))
	}
	return nil
}

func (s *SessionLifecycleService) alertLowCredit(ctx context.Context, exec sqlx.ExtContext, fx *Effects, studentID string, program *models.Program, remaining int, result *models.StatusChangeResult) error {
	contact, err := s.collaborators.Contact(ctx, exec, studentID)
	if err != nil {
		return err
	}
	if contact.ParentID == nil || *contact.ParentID == "" {
		result.Notices = append(result.Notices, "student has no linked parent; low-credit alert not sent")
		return nil
	}
	target := models.AnnouncementTarget{UserID: *contact.ParentID}
	if contact.ParentEmail != nil {
		target.Email = *contact.ParentEmail
	}
	parentName := ""
	if contact.ParentName != nil {
		parentName = *contact.ParentName
	}
	vars := map[string]string{
		"parent_name":       parentName,
		"student_name":      contact.StudentName,
		"program_name":      program.Name,
		"remaining_credits": strconv.Itoa(remaining),
		"company_name":      s.cfg.CompanyName,
	}
	if _, err := s.announcer.SendTemplatedAnnouncement(ctx, exec, fx, target, s.cfg.LowCreditTemplateID, vars); err != nil {
		return err
	}
	result.LowCreditAlert = true
	result.Notices = append(result.Notices, fmt.Sprintf("low-credit alert sent to parent (%d remaining)", remaining))
	fx.observe(func(m *MetricsService) { m.RecordLowCreditAlert() })
	return nil
}

// CancelSession cancels one session, or with series scope every later scheduled occurrence of
// its recurring batch too, refunding one credit per credit-bearing session.
func (s *SessionLifecycleService) CancelSession(ctx context.Context, id string, req dto.CancelSessionRequest, actorID string) (*models.CancelResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid cancel payload")
	}
	scope := models.CancelScope(strings.ToLower(req.Scope))
	if scope == "" {
		scope = models.CancelScopeSingle
	}

	ctx, span := s.tracer.Start(ctx, "sessions.cancel", trace.WithAttributes(
		attribute.String("session.id", id),
		attribute.String("scope", string(scope)),
	))
	defer span.End()

	var result *models.CancelResult
	err := runInTx(ctx, "sessions.cancel", s.tx, s.dispatcher, func(ctx context.Context, exec sqlx.ExtContext, fx *Effects) error {
		session, err := s.sessions.GetForUpdate(ctx, exec, id)
		if err != nil {
			return notFoundOr(err, "session not found", "failed to load session")
		}
		result, err = s.cancelInTx(ctx, exec, fx, session, scope, actorID)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.logger.Info("sessions cancelled", zap.String("session_id", id), zap.Int("cancelled", result.Cancelled), zap.Int("refunded", result.Refunded))
	return result, nil
}

// cancelInTx cancels target (locked by the caller) and, for series scope, the rest of its batch.
func (s *SessionLifecycleService) cancelInTx(ctx context.Context, exec sqlx.ExtContext, fx *Effects, target *models.Session, scope models.CancelScope, actorID string) (*models.CancelResult, error) {
	if target.Status != models.SessionStatusScheduled {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "only scheduled sessions can be cancelled")
	}
	victims := []models.Session{*target}
	if scope == models.CancelScopeSeries && target.RecurringID != nil {
		rest, err := s.sessions.ListSeriesFrom(ctx, exec, *target.RecurringID, target.StartTime, target.ID)
		if err != nil {
			return nil, passThrough(err, "failed to load series")
		}
		victims = append(victims, rest...)
	}

	result := &models.CancelResult{CancelledSessionIDs: make([]string, 0, len(victims))}
	for _, victim := range victims {
		if err := s.sessions.UpdateStatus(ctx, exec, victim.ID, models.SessionStatusScheduled, models.SessionStatusCancelled); err != nil {
			return nil, passThrough(err, "failed to cancel session")
		}
		result.Cancelled++
		result.CancelledSessionIDs = append(result.CancelledSessionIDs, victim.ID)

		student := victim.StudentIDValue()
		if !victim.SessionType.IsCreditBearing() || student == "" {
			continue
		}
		enrollment, err := s.enrollments.Resolve(ctx, exec, student, victim.ProgramID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return nil, passThrough(err, "failed to resolve enrollment")
		}
		if _, err := s.ledger.ApplyChange(ctx, exec, fx, enrollment.ID, 1, models.CreditReasonRefund, actorID); err != nil {
			return nil, err
		}
		result.Refunded++
	}

	cancelled := result.Cancelled
	fx.touchSessions()
	fx.event(events.TypeSessionsCancelled, map[string]interface{}{
		"session_ids": result.CancelledSessionIDs,
		"scope":       scope,
		"refunded":    result.Refunded,
	})
	fx.observe(func(m *MetricsService) {
		for i := 0; i < cancelled; i++ {
			m.RecordTransition(models.SessionStatusScheduled, models.SessionStatusCancelled)
		}
	})
	return result, nil
}
