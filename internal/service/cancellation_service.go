package service

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/noah-isme/tutorhub-api/internal/dto"
	"github.com/noah-isme/tutorhub-api/internal/models"
	appErrors "github.com/noah-isme/tutorhub-api/pkg/errors"
	"github.com/noah-isme/tutorhub-api/pkg/events"
)

type cancellationStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, request *models.CancellationRequest) error
	GetForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.CancellationRequest, error)
	HasPending(ctx context.Context, exec sqlx.ExtContext, sessionID string) (bool, error)
	List(ctx context.Context, filter models.CancellationFilter) ([]models.CancellationRequest, int, error)
	Review(ctx context.Context, exec sqlx.ExtContext, id string, status models.CancellationStatus, reviewer string, at time.Time) error
}

// CancellationService runs the request and approval workflow for cancelling upcoming sessions.
type CancellationService struct {
	tx         txRunner
	requests   cancellationStore
	sessions   sessionStore
	students   studentStore
	lifecycle  *SessionLifecycleService
	dispatcher effectDispatcher
	validator  *validator.Validate
	logger     *zap.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// NewCancellationService constructs the service.
func NewCancellationService(tx txRunner, requests cancellationStore, sessions sessionStore, students studentStore, lifecycle *SessionLifecycleService, dispatcher effectDispatcher, validate *validator.Validate, logger *zap.Logger) *CancellationService {
	if validate == nil {
		validate = dto.NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CancellationService{
		tx:         tx,
		requests:   requests,
		sessions:   sessions,
		students:   students,
		lifecycle:  lifecycle,
		dispatcher: dispatcher,
		validator:  validate,
		logger:     logger,
		tracer:     otel.Tracer("github.com/noah-isme/tutorhub-api/internal/service/cancellation"),
		now:        time.Now,
	}
}

// Create files a pending request for a future scheduled session of the student.
// Students file for themselves; parents name the child they file for.
func (s *CancellationService) Create(ctx context.Context, req dto.CreateCancellationRequest, claims *models.JWTClaims) (*models.CancellationRequest, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid cancellation request payload")
	}
	studentID, err := s.resolveStudent(ctx, req.StudentID, claims)
	if err != nil {
		return nil, err
	}

	var request *models.CancellationRequest
	err = runInTx(ctx, "cancellations.create", s.tx, s.dispatcher, func(ctx context.Context, exec sqlx.ExtContext, fx *Effects) error {
		session, err := s.sessions.GetForUpdate(ctx, exec, req.SessionID)
		if err != nil {
			return notFoundOr(err, "session not found", "failed to load session")
		}
		if session.StudentIDValue() != studentID {
			return appErrors.Clone(appErrors.ErrForbidden, "session does not belong to this student")
		}
		if session.Status != models.SessionStatusScheduled {
			return appErrors.Clone(appErrors.ErrPreconditionFailed, "only scheduled sessions can be cancelled")
		}
		if !session.StartTime.After(naive(s.now())) {
			return appErrors.Clone(appErrors.ErrPreconditionFailed, "session has already started")
		}
		pending, err := s.requests.HasPending(ctx, exec, session.ID)
		if err != nil {
			return passThrough(err, "failed to check pending requests")
		}
		if pending {
			return appErrors.Clone(appErrors.ErrConflict, "a cancellation request is already pending for this session")
		}

		request = &models.CancellationRequest{
			SessionID:   session.ID,
			StudentID:   studentID,
			RequestedBy: claims.UserID,
			Reason:      req.Reason,
			Status:      models.CancellationStatusPending,
			RequestedAt: s.now().UTC(),
		}
		if err := s.requests.Create(ctx, exec, request); err != nil {
			return passThrough(err, "failed to create cancellation request")
		}
		fx.event(events.TypeCancellationRequested, map[string]interface{}{
			"request_id": request.ID,
			"session_id": session.ID,
			"student_id": studentID,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

func (s *CancellationService) resolveStudent(ctx context.Context, requested string, claims *models.JWTClaims) (string, error) {
	if claims == nil {
		return "", appErrors.ErrUnauthorized
	}
	requested = strings.TrimSpace(requested)
	switch claims.Role {
	case models.RoleStudent:
		if requested != "" && requested != claims.UserID {
			return "", appErrors.Clone(appErrors.ErrForbidden, "students can only cancel their own sessions")
		}
		return claims.UserID, nil
	case models.RoleParent:
		if requested == "" {
			return "", appErrors.Clone(appErrors.ErrValidation, "student_id is required")
		}
		contact, err := s.students.GetContact(ctx, nil, requested)
		if err != nil {
			return "", notFoundOr(err, "student not found", "failed to load student")
		}
		if contact.ParentID == nil || *contact.ParentID != claims.UserID {
			return "", appErrors.Clone(appErrors.ErrForbidden, "student is not linked to this parent")
		}
		return requested, nil
	default:
		if requested == "" {
			return "", appErrors.Clone(appErrors.ErrValidation, "student_id is required")
		}
		return requested, nil
	}
}

// Approve cancels the session with a refund and marks the request approved, atomically.
func (s *CancellationService) Approve(ctx context.Context, id, reviewerID string) (*models.CancellationReview, error) {
	ctx, span := s.tracer.Start(ctx, "cancellations.approve", trace.WithAttributes(attribute.String("request.id", id)))
	defer span.End()

	var review *models.CancellationReview
	err := runInTx(ctx, "cancellations.approve", s.tx, s.dispatcher, func(ctx context.Context, exec sqlx.ExtContext, fx *Effects) error {
		request, err := s.loadPending(ctx, exec, id)
		if err != nil {
			return err
		}
		session, err := s.sessions.GetForUpdate(ctx, exec, request.SessionID)
		if err != nil {
			return notFoundOr(err, "session not found", "failed to load session")
		}
		cancellation, err := s.lifecycle.cancelInTx(ctx, exec, fx, session, models.CancelScopeSingle, reviewerID)
		if err != nil {
			return err
		}
		if err := s.review(ctx, exec, fx, request, models.CancellationStatusApproved, reviewerID); err != nil {
			return err
		}
		review = &models.CancellationReview{Request: *request, Cancellation: cancellation}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.logger.Info("cancellation approved", zap.String("request_id", id), zap.String("reviewer_id", reviewerID))
	return review, nil
}

// Deny closes a pending request without touching the session.
func (s *CancellationService) Deny(ctx context.Context, id, reviewerID string) (*models.CancellationReview, error) {
	var review *models.CancellationReview
	err := runInTx(ctx, "cancellations.deny", s.tx, s.dispatcher, func(ctx context.Context, exec sqlx.ExtContext, fx *Effects) error {
		request, err := s.loadPending(ctx, exec, id)
		if err != nil {
			return err
		}
		if err := s.review(ctx, exec, fx, request, models.CancellationStatusDenied, reviewerID); err != nil {
			return err
		}
		review = &models.CancellationReview{Request: *request}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return review, nil
}

// List returns requests matching filter. Students only see their own.
func (s *CancellationService) List(ctx context.Context, filter models.CancellationFilter, claims *models.JWTClaims) ([]models.CancellationRequest, *models.Pagination, error) {
	if claims != nil {
		switch claims.Role {
		case models.RoleStudent:
			filter.StudentID = claims.UserID
		case models.RoleParent:
			if _, err := s.resolveStudent(ctx, filter.StudentID, claims); err != nil {
				return nil, nil, err
			}
		}
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	requests, total, err := s.requests.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list cancellation requests")
	}
	if requests == nil {
		requests = []models.CancellationRequest{}
	}
	return requests, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

func (s *CancellationService) loadPending(ctx context.Context, exec sqlx.ExtContext, id string) (*models.CancellationRequest, error) {
	request, err := s.requests.GetForUpdate(ctx, exec, id)
	if err != nil {
		return nil, notFoundOr(err, "cancellation request not found", "failed to load cancellation request")
	}
	if request.Status != models.CancellationStatusPending {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "cancellation request has already been reviewed")
	}
	return request, nil
}

func (s *CancellationService) review(ctx context.Context, exec sqlx.ExtContext, fx *Effects, request *models.CancellationRequest, status models.CancellationStatus, reviewerID string) error {
	at := s.now().UTC()
	if err := s.requests.Review(ctx, exec, request.ID, status, reviewerID, at); err != nil {
		return passThrough(err, "failed to review cancellation request")
	}
	request.Status = status
	request.ReviewedBy = &reviewerID
	request.ReviewedAt = &at
	fx.event(events.TypeCancellationReviewed, map[string]interface{}{
		"request_id": request.ID,
		"session_id": request.SessionID,
		"status":     status,
	})
	return nil
}
