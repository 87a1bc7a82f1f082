package dto

// CreateCancellationRequest asks staff to cancel an upcoming session.
// StudentID is required when a parent files on behalf of a child.
type CreateCancellationRequest struct {
	SessionID string  `json:"session_id" validate:"required"`
	StudentID string  `json:"student_id"`
	Reason    *string `json:"reason" validate:"omitempty,max=500"`
}

// CancellationListQuery maps query string filters.
type CancellationListQuery struct {
	SessionID string   `form:"session_id"`
	StudentID string   `form:"student_id"`
	Status    []string `form:"status"`
	Page      int      `form:"page"`
	PageSize  int      `form:"page_size"`
}
