package models

import "time"

// CancellationStatus captures workflow states for cancellation requests.
type CancellationStatus string

const (
	CancellationStatusPending  CancellationStatus = "PENDING"
	CancellationStatusApproved CancellationStatus = "APPROVED"
	CancellationStatusDenied   CancellationStatus = "DENIED"
)

// CancellationRequest is a student's ask to cancel an upcoming session.
type CancellationRequest struct {
	ID          string             `db:"id" json:"id"`
	SessionID   string             `db:"session_id" json:"session_id"`
	StudentID   string             `db:"student_id" json:"student_id"`
	RequestedBy string             `db:"requested_by" json:"requested_by"`
	Reason      *string            `db:"reason" json:"reason,omitempty"`
	Status      CancellationStatus `db:"status" json:"status"`
	RequestedAt time.Time          `db:"requested_at" json:"requested_at"`
	ReviewedBy  *string            `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time         `db:"reviewed_at" json:"reviewed_at,omitempty"`
}

// CancellationFilter constrains listing queries.
type CancellationFilter struct {
	SessionID string
	StudentID string
	Status    []CancellationStatus
	Page      int
	PageSize  int
}

// CancellationReview is returned by approve and deny.
type CancellationReview struct {
	Request      CancellationRequest `json:"request"`
	Cancellation *CancelResult       `json:"cancellation,omitempty"`
}
