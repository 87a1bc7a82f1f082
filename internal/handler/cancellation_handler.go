package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutorhub-api/internal/dto"
	"github.com/noah-isme/tutorhub-api/internal/models"
	"github.com/noah-isme/tutorhub-api/pkg/response"
)

type cancellationService interface {
	Create(ctx context.Context, req dto.CreateCancellationRequest, claims *models.JWTClaims) (*models.CancellationRequest, error)
	List(ctx context.Context, filter models.CancellationFilter, claims *models.JWTClaims) ([]models.CancellationRequest, *models.Pagination, error)
	Approve(ctx context.Context, id, reviewerID string) (*models.CancellationReview, error)
	Deny(ctx context.Context, id, reviewerID string) (*models.CancellationReview, error)
}

// CancellationHandler exposes the cancellation request workflow.
type CancellationHandler struct {
	service cancellationService
}

// NewCancellationHandler builds a new handler.
func NewCancellationHandler(service cancellationService) *CancellationHandler {
	return &CancellationHandler{service: service}
}

// Create godoc
// @Summary Request cancellation of an upcoming session
// @Tags Cancellations
// @Accept json
// @Produce json
// @Param payload body dto.CreateCancellationRequest true "Request payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /cancellation-requests [post]
func (h *CancellationHandler) Create(c *gin.Context) {
	var req dto.CreateCancellationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid cancellation request payload"))
		return
	}
	request, err := h.service.Create(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, request)
}

// List godoc
// @Summary List cancellation requests
// @Tags Cancellations
// @Produce json
// @Param session_id query string false "Session filter"
// @Param student_id query string false "Student filter"
// @Param status query []string false "Status filter"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /cancellation-requests [get]
func (h *CancellationHandler) List(c *gin.Context) {
	var query dto.CancellationListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, bindError(err, "invalid cancellation query"))
		return
	}
	filter := models.CancellationFilter{
		SessionID: query.SessionID,
		StudentID: query.StudentID,
		Page:      query.Page,
		PageSize:  query.PageSize,
	}
	for _, status := range query.Status {
		filter.Status = append(filter.Status, models.CancellationStatus(strings.ToUpper(status)))
	}
	requests, pagination, err := h.service.List(c.Request.Context(), filter, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, pagination)
}

// Approve godoc
// @Summary Approve a request, cancelling and refunding the session
// @Tags Cancellations
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /cancellation-requests/{id}/approve [post]
func (h *CancellationHandler) Approve(c *gin.Context) {
	review, err := h.service.Approve(c.Request.Context(), c.Param("id"), actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, review, nil)
}

// Deny godoc
// @Summary Deny a pending request
// @Tags Cancellations
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /cancellation-requests/{id}/deny [post]
func (h *CancellationHandler) Deny(c *gin.Context) {
	review, err := h.service.Deny(c.Request.Context(), c.Param("id"), actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, review, nil)
}
