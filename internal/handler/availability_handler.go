package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutorhub-api/internal/dto"
	"github.com/noah-isme/tutorhub-api/internal/models"
	"github.com/noah-isme/tutorhub-api/pkg/response"
)

type availabilityService interface {
	GetAvailability(ctx context.Context, teacherID string) (*models.TeacherAvailability, error)
	ReplaceSlots(ctx context.Context, teacherID string, req dto.ReplaceAvailabilityRequest) (*models.TeacherAvailability, error)
	AddUnavailability(ctx context.Context, teacherID string, req dto.AddUnavailabilityRequest) (*models.Unavailability, error)
	Check(ctx context.Context, teacherID string, start time.Time, end *time.Time) (bool, error)
}

// AvailabilityHandler exposes the weekly availability template of teachers.
type AvailabilityHandler struct {
	service availabilityService
}

// NewAvailabilityHandler builds a new handler.
func NewAvailabilityHandler(service availabilityService) *AvailabilityHandler {
	return &AvailabilityHandler{service: service}
}

// Get godoc
// @Summary Get a teacher's weekly slots and blocked dates
// @Tags Availability
// @Produce json
// @Param id path string true "Teacher ID"
// @Success 200 {object} response.Envelope
// @Router /teachers/{id}/availability [get]
func (h *AvailabilityHandler) Get(c *gin.Context) {
	availability, err := h.service.GetAvailability(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, availability, nil)
}

// Replace godoc
// @Summary Replace a teacher's weekly slots
// @Tags Availability
// @Accept json
// @Produce json
// @Param id path string true "Teacher ID"
// @Param payload body dto.ReplaceAvailabilityRequest true "Weekly slots"
// @Success 200 {object} response.Envelope
// @Router /teachers/{id}/availability [put]
func (h *AvailabilityHandler) Replace(c *gin.Context) {
	var req dto.ReplaceAvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid availability payload"))
		return
	}
	availability, err := h.service.ReplaceSlots(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, availability, nil)
}

// AddUnavailability godoc
// @Summary Block a calendar date for a teacher
// @Tags Availability
// @Accept json
// @Produce json
// @Param id path string true "Teacher ID"
// @Param payload body dto.AddUnavailabilityRequest true "Blocked date"
// @Success 201 {object} response.Envelope
// @Router /teachers/{id}/unavailability [post]
func (h *AvailabilityHandler) AddUnavailability(c *gin.Context) {
	var req dto.AddUnavailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid unavailability payload"))
		return
	}
	entry, err := h.service.AddUnavailability(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, entry)
}

// Check godoc
// @Summary Check whether a teacher can take an instant or a window
// @Tags Availability
// @Produce json
// @Param id path string true "Teacher ID"
// @Param start query string true "Start (2006-01-02T15:04:05)"
// @Param end query string false "End (2006-01-02T15:04:05)"
// @Success 200 {object} response.Envelope
// @Router /teachers/{id}/availability/check [get]
func (h *AvailabilityHandler) Check(c *gin.Context) {
	var query dto.AvailabilityCheckQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, bindError(err, "invalid availability query"))
		return
	}
	available, err := h.service.Check(c.Request.Context(), c.Param("id"), query.Start, query.End)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"teacher_id": c.Param("id"), "available": available}, nil)
}
