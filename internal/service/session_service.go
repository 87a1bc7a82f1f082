package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/tutorhub-api/internal/dto"
	"github.com/noah-isme/tutorhub-api/internal/models"
	"github.com/noah-isme/tutorhub-api/pkg/cache"
	appErrors "github.com/noah-isme/tutorhub-api/pkg/errors"
)

// JoinWindow widens a session's start and end for joining.
type JoinWindow struct {
	Before time.Duration
	After  time.Duration
}

// SessionService serves session reads, edits of scheduled sessions and join links.
type SessionService struct {
	tx         txRunner
	sessions   sessionStore
	generator  *SessionGeneratorService
	cache      *CacheService
	dispatcher effectDispatcher
	validator  *validator.Validate
	logger     *zap.Logger
	window     JoinWindow
	cacheTTL   time.Duration
	now        func() time.Time
}

// NewSessionService constructs the service.
func NewSessionService(tx txRunner, sessions sessionStore, generator *SessionGeneratorService, cacheSvc *CacheService, dispatcher effectDispatcher, validate *validator.Validate, logger *zap.Logger, window JoinWindow, cacheTTL time.Duration) *SessionService {
	if validate == nil {
		validate = dto.NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		tx:         tx,
		sessions:   sessions,
		generator:  generator,
		cache:      cacheSvc,
		dispatcher: dispatcher,
		validator:  validate,
		logger:     logger,
		window:     window,
		cacheTTL:   cacheTTL,
		now:        time.Now,
	}
}

type sessionPage struct {
	Sessions   []models.Session  `json:"sessions"`
	Pagination models.Pagination `json:"pagination"`
}

// List returns sessions matching filter ordered by start time.
func (s *SessionService) List(ctx context.Context, filter models.SessionFilter) ([]models.Session, *models.Pagination, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	page, err := readThrough(ctx, s.cache, cache.SessionsGenerationKey(), cache.SessionListKey(filterFingerprint(filter)), s.cacheTTL, func() (sessionPage, error) {
		sessions, total, err := s.sessions.List(ctx, filter)
		if err != nil {
			return sessionPage{}, appErrors.Internal(err, "failed to list sessions")
		}
		if sessions == nil {
			sessions = []models.Session{}
		}
		return sessionPage{Sessions: sessions, Pagination: models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return page.Sessions, &page.Pagination, nil
}

// Get returns one session.
func (s *SessionService) Get(ctx context.Context, id string) (*models.Session, error) {
	session, err := s.sessions.GetByID(ctx, nil, id)
	if err != nil {
		return nil, notFoundOr(err, "session not found", "failed to load session")
	}
	return session, nil
}

// UpdateSession edits a scheduled session. A new time is checked against availability and
// both calendars, ignoring the session itself; credits are never re-checked.
func (s *SessionService) UpdateSession(ctx context.Context, id string, req dto.UpdateSessionRequest) (*models.Session, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session update payload")
	}

	var updated *models.Session
	err := runInTx(ctx, "sessions.update", s.tx, s.dispatcher, func(ctx context.Context, exec sqlx.ExtContext, fx *Effects) error {
		session, err := s.sessions.GetForUpdate(ctx, exec, id)
		if err != nil {
			return notFoundOr(err, "session not found", "failed to load session")
		}
		if session.Status != models.SessionStatusScheduled {
			return appErrors.Clone(appErrors.ErrPreconditionFailed, "only scheduled sessions can be edited")
		}

		rescheduled := false
		if req.StartTime != nil {
			session.StartTime = naive(*req.StartTime)
			rescheduled = true
		}
		if req.EndTime != nil {
			session.EndTime = naive(*req.EndTime)
			rescheduled = true
		}
		if !session.EndTime.After(session.StartTime) {
			return appErrors.Clone(appErrors.ErrValidation, "end_time must be after start_time")
		}
		if req.Title != nil {
			session.Title = strings.TrimSpace(*req.Title)
		}
		if req.MeetingURL != nil {
			session.MeetingURL = req.MeetingURL
		}
		if req.Summary != nil {
			session.Summary = req.Summary
		}
		if req.CurriculumItemID != nil {
			session.CurriculumItemID = req.CurriculumItemID
		}

		if rescheduled {
			keys := []string{"teacher:" + session.TeacherID}
			if student := session.StudentIDValue(); student != "" {
				keys = append(keys, "student:"+student)
			}
			if err := s.generator.lock(ctx, exec, keys...); err != nil {
				return passThrough(err, "failed to lock calendars")
			}
			reason, ok, err := s.generator.CheckSlot(ctx, exec, session, session.ID)
			if err != nil {
				return err
			}
			if !ok {
				return skipConflict(reason)
			}
		}
		if err := s.sessions.Update(ctx, exec, session); err != nil {
			return notFoundOr(err, "session not found", "failed to update session")
		}
		fx.touchSessions()
		updated = session
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// JoinSession returns the meeting link to a participant or staff member inside the join window.
func (s *SessionService) JoinSession(ctx context.Context, id string, claims *models.JWTClaims) (*models.JoinInfo, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	participant := claims.UserID == session.TeacherID || claims.UserID == session.StudentIDValue()
	if !participant && !claims.Role.IsStaff() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only participants can join this session")
	}
	if session.Status != models.SessionStatusScheduled {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "session is not scheduled")
	}
	if session.MeetingURL == nil || *session.MeetingURL == "" {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "session has no meeting link")
	}

	opens := session.StartTime.Add(-s.window.Before)
	closes := session.EndTime.Add(s.window.After)
	now := naive(s.now())
	if now.Before(opens) || now.After(closes) {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "session can only be joined between "+
			opens.Format("2006-01-02 15:04")+" and "+closes.Format("2006-01-02 15:04"))
	}
	return &models.JoinInfo{SessionID: session.ID, MeetingURL: *session.MeetingURL, OpensAt: opens, ClosesAt: closes}, nil
}

func filterFingerprint(filter models.SessionFilter) string {
	raw, _ := json.Marshal(filter)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:12])
}
