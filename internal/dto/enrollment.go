package dto

// CreateEnrollmentRequest enrolls a student in a program.
type CreateEnrollmentRequest struct {
	StudentID      string `json:"student_id" validate:"required"`
	ProgramID      string `json:"program_id" validate:"required"`
	TeacherID      string `json:"teacher_id" validate:"required"`
	InitialCredits int    `json:"initial_credits" validate:"min=0"`
}

// PurchaseCreditsRequest tops up an enrollment.
type PurchaseCreditsRequest struct {
	Amount int    `json:"amount" validate:"required,min=1,max=1000"`
	Reason string `json:"reason" validate:"omitempty,max=200"`
}

// SetCurriculumItemRequest updates the status of one curriculum item.
type SetCurriculumItemRequest struct {
	Status string `json:"status" validate:"required,curriculum_status"`
}
