package dto

import "time"

// CreateSessionRequest describes a single session or the template of a recurring batch.
type CreateSessionRequest struct {
	Title            string    `json:"title" validate:"required,max=200"`
	TeacherID        string    `json:"teacher_id" validate:"required"`
	StudentID        *string   `json:"student_id" validate:"omitempty,min=1"`
	ProgramID        string    `json:"program_id" validate:"required"`
	SessionType      string    `json:"session_type" validate:"required,session_type"`
	StartTime        time.Time `json:"start_time" validate:"required"`
	EndTime          time.Time `json:"end_time" validate:"required,gtfield=StartTime"`
	CurriculumItemID *string   `json:"curriculum_item_id"`
	MeetingURL       *string   `json:"meeting_url" validate:"omitempty,url"`
	Summary          *string   `json:"summary"`
}

// CreateRecurringSessionsRequest materialises Count weekly occurrences of the template.
type CreateRecurringSessionsRequest struct {
	CreateSessionRequest
	Count int `json:"count" validate:"required,min=1"`
}

// UpdateSessionRequest reschedules or edits a scheduled session. Nil fields are left untouched.
type UpdateSessionRequest struct {
	Title            *string    `json:"title" validate:"omitempty,min=1,max=200"`
	StartTime        *time.Time `json:"start_time"`
	EndTime          *time.Time `json:"end_time"`
	CurriculumItemID *string    `json:"curriculum_item_id"`
	MeetingURL       *string    `json:"meeting_url" validate:"omitempty,url"`
	Summary          *string    `json:"summary"`
}

// SetSessionStatusRequest moves a session through its lifecycle.
type SetSessionStatusRequest struct {
	Status string `json:"status" validate:"required,session_status"`
}

// CancelSessionRequest cancels one occurrence or the rest of its series.
type CancelSessionRequest struct {
	Scope string `json:"scope" validate:"omitempty,cancel_scope"`
}

// SessionListQuery maps query string filters.
type SessionListQuery struct {
	TeacherID   string     `form:"teacher_id"`
	StudentID   string     `form:"student_id"`
	ProgramID   string     `form:"program_id"`
	RecurringID string     `form:"recurring_id"`
	Status      []string   `form:"status"`
	From        *time.Time `form:"from" time_format:"2006-01-02T15:04:05"`
	To          *time.Time `form:"to" time_format:"2006-01-02T15:04:05"`
	Page        int        `form:"page"`
	PageSize    int        `form:"page_size"`
}
