package models

import "time"

// Assignment is homework created when a curriculum item becomes next in line.
type Assignment struct {
	ID               string    `db:"id" json:"id"`
	EnrollmentID     *string   `db:"enrollment_id" json:"enrollment_id,omitempty"`
	StudentID        string    `db:"student_id" json:"student_id"`
	CurriculumItemID string    `db:"curriculum_item_id" json:"curriculum_item_id"`
	Title            string    `db:"title" json:"title"`
	Description      *string   `db:"description" json:"description,omitempty"`
	DueDate          time.Time `db:"due_date" json:"due_date"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}
