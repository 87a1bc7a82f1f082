package models

import (
	"time"

	"github.com/noah-isme/tutorhub-api/internal/curriculum"
)

// Program owns the template curriculum copied into every enrollment.
type Program struct {
	ID         string          `db:"id" json:"id"`
	Name       string          `db:"name" json:"name"`
	Curriculum curriculum.Tree `db:"curriculum" json:"curriculum"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updated_at"`
}

// CurriculumProgress is an enrollment's private copy of the program tree.
type CurriculumProgress struct {
	EnrollmentID string          `db:"enrollment_id" json:"enrollment_id"`
	ProgramID    string          `db:"program_id" json:"program_id"`
	Tree         curriculum.Tree `db:"tree" json:"tree"`
	Version      int64           `db:"version" json:"-"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// ProgressView is the read model for a curriculum progress.
type ProgressView struct {
	EnrollmentID string            `json:"enrollment_id"`
	ProgramID    string            `json:"program_id"`
	Percent      float64           `json:"percent"`
	Completed    bool              `json:"completed"`
	Items        []curriculum.Item `json:"items"`
}
