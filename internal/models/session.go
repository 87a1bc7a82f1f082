package models

import "time"

// SessionStatus is the lifecycle state of a tutoring session.
type SessionStatus string

const (
	SessionStatusScheduled SessionStatus = "SCHEDULED"
	SessionStatusCompleted SessionStatus = "COMPLETED"
	SessionStatusCancelled SessionStatus = "CANCELLED"
	SessionStatusAbsent    SessionStatus = "ABSENT"
)

// Valid reports whether s is a known status.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusScheduled, SessionStatusCompleted, SessionStatusCancelled, SessionStatusAbsent:
		return true
	}
	return false
}

// Label renders the status the way it appears in ledger reasons.
func (s SessionStatus) Label() string {
	switch s {
	case SessionStatusCompleted:
		return "Completed"
	case SessionStatusAbsent:
		return "Absent"
	case SessionStatusCancelled:
		return "Cancelled"
	default:
		return "Scheduled"
	}
}

// SessionType distinguishes billable curriculum sessions from free ones.
type SessionType string

const (
	SessionTypeCurriculum    SessionType = "CURRICULUM"
	SessionTypeDemo          SessionType = "DEMO"
	SessionTypeParentTeacher SessionType = "PARENT_TEACHER"
)

// Valid reports whether t is a known type.
func (t SessionType) Valid() bool {
	switch t {
	case SessionTypeCurriculum, SessionTypeDemo, SessionTypeParentTeacher:
		return true
	}
	return false
}

// IsCreditBearing is the single rule deciding whether a session consumes and refunds credits.
func (t SessionType) IsCreditBearing() bool {
	return t == SessionTypeCurriculum
}

// Session is a scheduled tutoring slot. Sessions are never deleted; cancellation is a status.
type Session struct {
	ID               string        `db:"id" json:"id"`
	Title            string        `db:"title" json:"title"`
	StartTime        time.Time     `db:"start_time" json:"start_time"`
	EndTime          time.Time     `db:"end_time" json:"end_time"`
	StudentID        *string       `db:"student_id" json:"student_id,omitempty"`
	TeacherID        string        `db:"teacher_id" json:"teacher_id"`
	ProgramID        string        `db:"program_id" json:"program_id"`
	CurriculumItemID *string       `db:"curriculum_item_id" json:"curriculum_item_id,omitempty"`
	Status           SessionStatus `db:"status" json:"status"`
	SessionType      SessionType   `db:"session_type" json:"session_type"`
	RecurringID      *string       `db:"recurring_id" json:"recurring_id,omitempty"`
	MeetingURL       *string       `db:"meeting_url" json:"-"`
	Summary          *string       `db:"summary" json:"summary,omitempty"`
	CreatedAt        time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time     `db:"updated_at" json:"updated_at"`
}

// Overlaps reports whether the session intersects the half-open window [start, end).
func (s Session) Overlaps(start, end time.Time) bool {
	return s.StartTime.Before(end) && start.Before(s.EndTime)
}

// StudentIDValue returns the student id or empty string.
func (s Session) StudentIDValue() string {
	if s.StudentID == nil {
		return ""
	}
	return *s.StudentID
}

// SessionFilter captures listing criteria.
type SessionFilter struct {
	TeacherID   string
	StudentID   string
	ProgramID   string
	RecurringID string
	Status      []SessionStatus
	From        *time.Time
	To          *time.Time
	Page        int
	PageSize    int
}

// CancelScope selects how many occurrences a cancellation touches.
type CancelScope string

const (
	CancelScopeSingle CancelScope = "single"
	CancelScopeSeries CancelScope = "series"
)

// SkipReason explains why a recurring occurrence was not created.
type SkipReason string

const (
	SkipTeacherUnavailable SkipReason = "TEACHER_UNAVAILABLE"
	SkipTeacherConflict    SkipReason = "TEACHER_CONFLICT"
	SkipStudentConflict    SkipReason = "STUDENT_CONFLICT"
)

// SkippedOccurrence reports an occurrence that was left out of a batch.
type SkippedOccurrence struct {
	Occurrence int        `json:"occurrence"`
	StartTime  time.Time  `json:"start_time"`
	EndTime    time.Time  `json:"end_time"`
	Reason     SkipReason `json:"reason"`
}

// GenerationResult is the outcome of a recurring batch.
type GenerationResult struct {
	RecurringID *string             `json:"recurring_id,omitempty"`
	Created     []Session           `json:"created"`
	Skipped     []SkippedOccurrence `json:"skipped"`
}

// CancelResult summarises a cancellation.
type CancelResult struct {
	CancelledSessionIDs []string `json:"cancelled_session_ids"`
	Cancelled           int      `json:"cancelled"`
	Refunded            int      `json:"refunded"`
}

// StatusChangeResult summarises a lifecycle transition and its side effects.
type StatusChangeResult struct {
	Session             Session       `json:"session"`
	Changed             bool          `json:"changed"`
	CreditsRemaining    *int          `json:"credits_remaining,omitempty"`
	LowCreditAlert      bool          `json:"low_credit_alert"`
	AssignmentsCreated  int           `json:"assignments_created"`
	EnrollmentCompleted bool          `json:"enrollment_completed"`
	ExperienceAwarded   int           `json:"experience_awarded"`
	Cancellation        *CancelResult `json:"cancellation,omitempty"`
	Notices             []string      `json:"notices,omitempty"`
}

// JoinInfo is returned when a participant opens a session inside its join window.
type JoinInfo struct {
	SessionID  string    `json:"session_id"`
	MeetingURL string    `json:"meeting_url"`
	OpensAt    time.Time `json:"opens_at"`
	ClosesAt   time.Time `json:"closes_at"`
}
