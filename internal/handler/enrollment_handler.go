package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutorhub-api/internal/dto"
	"github.com/noah-isme/tutorhub-api/internal/models"
	"github.com/noah-isme/tutorhub-api/pkg/response"
)

type enrollmentService interface {
	Get(ctx context.Context, id string) (*models.Enrollment, error)
	CreateEnrollment(ctx context.Context, req dto.CreateEnrollmentRequest, actorID string) (*models.Enrollment, error)
}

type ledgerService interface {
	PurchaseCredits(ctx context.Context, enrollmentID string, req dto.PurchaseCreditsRequest, actorID string) (*models.CreditTransaction, error)
	GetBalance(ctx context.Context, enrollmentID string) (*models.EnrollmentBalance, error)
	ListTransactions(ctx context.Context, filter models.CreditTransactionFilter) ([]models.CreditTransaction, *models.Pagination, error)
	VerifyLedger(ctx context.Context, enrollmentID string) (*models.LedgerVerification, error)
}

type curriculumService interface {
	GetCurriculumProgress(ctx context.Context, enrollmentID string) (*models.ProgressView, error)
	SetCurriculumItemStatus(ctx context.Context, enrollmentID, itemID string, req dto.SetCurriculumItemRequest) (*models.ProgressView, error)
}

type enrollmentAccess interface {
	AuthorizeEnrollment(ctx context.Context, claims *models.JWTClaims, enrollmentID string) error
}

// EnrollmentHandler exposes enrollments, their credit ledger and curriculum progress.
type EnrollmentHandler struct {
	enrollments enrollmentService
	ledger      ledgerService
	curriculum  curriculumService
	access      enrollmentAccess
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments enrollmentService, ledger ledgerService, curriculum curriculumService, access enrollmentAccess) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments, ledger: ledger, curriculum: curriculum, access: access}
}

// readable writes the error response and returns false when the caller may not read the enrollment.
func (h *EnrollmentHandler) readable(c *gin.Context) bool {
	if err := h.access.AuthorizeEnrollment(c.Request.Context(), claimsFromContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return false
	}
	return true
}

// Create godoc
// @Summary Enroll a student in a program
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body dto.CreateEnrollmentRequest true "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /enrollments [post]
func (h *EnrollmentHandler) Create(c *gin.Context) {
	var req dto.CreateEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid enrollment payload"))
		return
	}
	enrollment, err := h.enrollments.CreateEnrollment(c.Request.Context(), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, enrollment)
}

// Get godoc
// @Summary Get an enrollment
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id} [get]
func (h *EnrollmentHandler) Get(c *gin.Context) {
	if !h.readable(c) {
		return
	}
	enrollment, err := h.enrollments.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// Balance godoc
// @Summary Get the credit balance of an enrollment
// @Tags Credits
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/balance [get]
func (h *EnrollmentHandler) Balance(c *gin.Context) {
	if !h.readable(c) {
		return
	}
	balance, err := h.ledger.GetBalance(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, balance, nil)
}

// Transactions godoc
// @Summary List ledger entries of an enrollment, newest first
// @Tags Credits
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/transactions [get]
func (h *EnrollmentHandler) Transactions(c *gin.Context) {
	if !h.readable(c) {
		return
	}
	filter := models.CreditTransactionFilter{
		EnrollmentID: c.Param("id"),
		Page:         queryInt(c, "page"),
		PageSize:     queryInt(c, "page_size"),
	}
	entries, pagination, err := h.ledger.ListTransactions(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, pagination)
}

// PurchaseCredits godoc
// @Summary Add purchased credits to an enrollment
// @Tags Credits
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body dto.PurchaseCreditsRequest true "Purchase payload"
// @Success 201 {object} response.Envelope
// @Router /enrollments/{id}/credits [post]
func (h *EnrollmentHandler) PurchaseCredits(c *gin.Context) {
	var req dto.PurchaseCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid credit purchase payload"))
		return
	}
	entry, err := h.ledger.PurchaseCredits(c.Request.Context(), c.Param("id"), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, entry)
}

// VerifyLedger godoc
// @Summary Recompute the hash chain and balance of an enrollment ledger
// @Tags Credits
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/ledger/verify [get]
func (h *EnrollmentHandler) VerifyLedger(c *gin.Context) {
	report, err := h.ledger.VerifyLedger(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// Curriculum godoc
// @Summary Get the curriculum progress of an enrollment
// @Tags Curriculum
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/curriculum [get]
func (h *EnrollmentHandler) Curriculum(c *gin.Context) {
	if !h.readable(c) {
		return
	}
	view, err := h.curriculum.GetCurriculumProgress(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

// SetCurriculumItem godoc
// @Summary Set the status of a curriculum item
// @Description Completing an item completes its descendants; ancestors are re-derived.
// @Tags Curriculum
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param itemId path string true "Curriculum item ID"
// @Param payload body dto.SetCurriculumItemRequest true "Status payload"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/curriculum/items/{itemId} [put]
func (h *EnrollmentHandler) SetCurriculumItem(c *gin.Context) {
	var req dto.SetCurriculumItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid curriculum status payload"))
		return
	}
	view, err := h.curriculum.SetCurriculumItemStatus(c.Request.Context(), c.Param("id"), c.Param("itemId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}
