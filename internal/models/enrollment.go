package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusActive    EnrollmentStatus = "ACTIVE"
	EnrollmentStatusCompleted EnrollmentStatus = "COMPLETED"
	EnrollmentStatusCancelled EnrollmentStatus = "CANCELLED"
)

// Enrollment pairs a student with a program and holds the projected credit balance.
type Enrollment struct {
	ID               string           `db:"id" json:"id"`
	StudentID        string           `db:"student_id" json:"student_id"`
	ProgramID        string           `db:"program_id" json:"program_id"`
	TeacherID        string           `db:"teacher_id" json:"teacher_id"`
	Status           EnrollmentStatus `db:"status" json:"status"`
	CreditsRemaining int              `db:"credits_remaining" json:"credits_remaining"`
	Version          int64            `db:"version" json:"-"`
	DateEnrolled     time.Time        `db:"date_enrolled" json:"date_enrolled"`
	CompletedAt      *time.Time       `db:"completed_at" json:"completed_at,omitempty"`
}

// EnrollmentBalance is the read model served to dashboards.
type EnrollmentBalance struct {
	EnrollmentID     string           `json:"enrollment_id"`
	Status           EnrollmentStatus `json:"status"`
	CreditsRemaining int              `json:"credits_remaining"`
	LowCredit        bool             `json:"low_credit"`
}
