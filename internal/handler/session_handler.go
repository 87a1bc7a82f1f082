package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutorhub-api/internal/dto"
	"github.com/noah-isme/tutorhub-api/internal/middleware"
	"github.com/noah-isme/tutorhub-api/internal/models"
	"github.com/noah-isme/tutorhub-api/pkg/response"
)

type sessionReader interface {
	List(ctx context.Context, filter models.SessionFilter) ([]models.Session, *models.Pagination, error)
	UpdateSession(ctx context.Context, id string, req dto.UpdateSessionRequest) (*models.Session, error)
	JoinSession(ctx context.Context, id string, claims *models.JWTClaims) (*models.JoinInfo, error)
}

type sessionGenerator interface {
	CreateSession(ctx context.Context, req dto.CreateSessionRequest) (*models.Session, error)
	GenerateRecurring(ctx context.Context, req dto.CreateRecurringSessionsRequest) (*models.GenerationResult, error)
}

type sessionLifecycle interface {
	SetSessionStatus(ctx context.Context, id string, req dto.SetSessionStatusRequest, actorID string) (*models.StatusChangeResult, error)
	CancelSession(ctx context.Context, id string, req dto.CancelSessionRequest, actorID string) (*models.CancelResult, error)
}

// SessionHandler exposes scheduling and lifecycle endpoints.
type SessionHandler struct {
	sessions  sessionReader
	generator sessionGenerator
	lifecycle sessionLifecycle
	access    studentAccess
}

type studentAccess interface {
	AuthorizeStudent(ctx context.Context, claims *models.JWTClaims, requested string) (string, error)
}

// NewSessionHandler builds a new handler.
func NewSessionHandler(sessions sessionReader, generator sessionGenerator, lifecycle sessionLifecycle, access studentAccess) *SessionHandler {
	return &SessionHandler{sessions: sessions, generator: generator, lifecycle: lifecycle, access: access}
}

// List godoc
// @Summary List sessions
// @Tags Sessions
// @Produce json
// @Param teacher_id query string false "Teacher filter"
// @Param student_id query string false "Student filter"
// @Param program_id query string false "Program filter"
// @Param recurring_id query string false "Recurring batch filter"
// @Param status query []string false "Status filter"
// @Param from query string false "Start at or after (2006-01-02T15:04:05)"
// @Param to query string false "Start before (2006-01-02T15:04:05)"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /sessions [get]
func (h *SessionHandler) List(c *gin.Context) {
	var query dto.SessionListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, bindError(err, "invalid session query"))
		return
	}
	filter := models.SessionFilter{
		TeacherID:   query.TeacherID,
		StudentID:   query.StudentID,
		ProgramID:   query.ProgramID,
		RecurringID: query.RecurringID,
		From:        query.From,
		To:          query.To,
		Page:        query.Page,
		PageSize:    query.PageSize,
	}
	for _, status := range query.Status {
		filter.Status = append(filter.Status, models.SessionStatus(strings.ToUpper(status)))
	}
	// Students see their own calendar, parents one linked child at a time.
	studentID, err := h.access.AuthorizeStudent(c.Request.Context(), claimsFromContext(c), filter.StudentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	filter.StudentID = studentID

	sessions, pagination, err := h.sessions.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sessions, pagination, middleware.ExtractMeta(c))
}

// Create godoc
// @Summary Schedule a single session
// @Tags Sessions
// @Accept json
// @Produce json
// @Param payload body dto.CreateSessionRequest true "Session payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sessions [post]
func (h *SessionHandler) Create(c *gin.Context) {
	var req dto.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid session payload"))
		return
	}
	session, err := h.generator.CreateSession(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, session)
}

// CreateRecurring godoc
// @Summary Generate weekly recurring sessions
// @Description Occurrences that clash with availability or another booking are skipped and reported.
// @Tags Sessions
// @Accept json
// @Produce json
// @Param payload body dto.CreateRecurringSessionsRequest true "Recurring payload"
// @Success 201 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /sessions/recurring [post]
func (h *SessionHandler) CreateRecurring(c *gin.Context) {
	var req dto.CreateRecurringSessionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid recurring session payload"))
		return
	}
	result, err := h.generator.GenerateRecurring(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetMeta(c, "created", len(result.Created))
	middleware.SetMeta(c, "skipped", len(result.Skipped))
	response.Created(c, result, middleware.ExtractMeta(c))
}

// Update godoc
// @Summary Edit or reschedule a scheduled session
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body dto.UpdateSessionRequest true "Fields to change"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id} [patch]
func (h *SessionHandler) Update(c *gin.Context) {
	var req dto.UpdateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid session update payload"))
		return
	}
	session, err := h.sessions.UpdateSession(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// SetStatus godoc
// @Summary Move a session to Completed, Absent or Cancelled
// @Description Applies credit deduction, low-credit alerts and curriculum progression atomically.
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body dto.SetSessionStatusRequest true "Target status"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/status [post]
func (h *SessionHandler) SetStatus(c *gin.Context) {
	var req dto.SetSessionStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid status payload"))
		return
	}
	result, err := h.lifecycle.SetSessionStatus(c.Request.Context(), c.Param("id"), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Cancel godoc
// @Summary Cancel a session or the rest of its series
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body dto.CancelSessionRequest false "Scope (single or series)"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/cancel [post]
func (h *SessionHandler) Cancel(c *gin.Context) {
	var req dto.CancelSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, bindError(err, "invalid cancel payload"))
			return
		}
	}
	if scope := c.Query("scope"); scope != "" {
		req.Scope = scope
	}
	result, err := h.lifecycle.CancelSession(c.Request.Context(), c.Param("id"), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Join godoc
// @Summary Get the meeting link inside the join window
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/join [get]
func (h *SessionHandler) Join(c *gin.Context) {
	info, err := h.sessions.JoinSession(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, info, nil)
}
