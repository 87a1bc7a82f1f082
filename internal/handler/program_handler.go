package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutorhub-api/internal/dto"
	"github.com/noah-isme/tutorhub-api/internal/models"
	"github.com/noah-isme/tutorhub-api/pkg/response"
)

type programService interface {
	Get(ctx context.Context, id string) (*models.Program, error)
	CreateProgram(ctx context.Context, req dto.CreateProgramRequest) (*models.Program, error)
}

// ProgramHandler exposes program templates.
type ProgramHandler struct {
	service programService
}

// NewProgramHandler builds a new handler.
func NewProgramHandler(service programService) *ProgramHandler {
	return &ProgramHandler{service: service}
}

// Create godoc
// @Summary Create a program with its curriculum template
// @Tags Programs
// @Accept json
// @Produce json
// @Param payload body dto.CreateProgramRequest true "Program payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /programs [post]
func (h *ProgramHandler) Create(c *gin.Context) {
	var req dto.CreateProgramRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid program payload"))
		return
	}
	program, err := h.service.CreateProgram(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, program)
}

// Get godoc
// @Summary Get a program
// @Tags Programs
// @Produce json
// @Param id path string true "Program ID"
// @Success 200 {object} response.Envelope
// @Router /programs/{id} [get]
func (h *ProgramHandler) Get(c *gin.Context) {
	program, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, program, nil)
}
