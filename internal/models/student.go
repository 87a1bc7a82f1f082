package models

// Student is the learner profile consumed by the engine.
type Student struct {
	ID               string  `db:"id" json:"id"`
	FullName         string  `db:"full_name" json:"full_name"`
	ParentID         *string `db:"parent_id" json:"parent_id,omitempty"`
	ExperiencePoints int     `db:"experience_points" json:"experience_points"`
}

// StudentContact joins a student with the parent who receives alerts.
type StudentContact struct {
	StudentID   string  `db:"student_id"`
	StudentName string  `db:"student_name"`
	ParentID    *string `db:"parent_id"`
	ParentName  *string `db:"parent_name"`
	ParentEmail *string `db:"parent_email"`
}
