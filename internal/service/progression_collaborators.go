package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutorhub-api/internal/curriculum"
	"github.com/noah-isme/tutorhub-api/internal/models"
	appErrors "github.com/noah-isme/tutorhub-api/pkg/errors"
)

type studentStore interface {
	GetContact(ctx context.Context, exec sqlx.ExtContext, studentID string) (*models.StudentContact, error)
	AddExperience(ctx context.Context, exec sqlx.ExtContext, studentID string, amount int) error
}

type assignmentStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, assignment *models.Assignment) error
}

// ProgressionCollaborators awards experience points and creates homework as sessions complete.
type ProgressionCollaborators struct {
	students    studentStore
	assignments assignmentStore
	now         func() time.Time
}

// NewProgressionCollaborators constructs the collaborators.
func NewProgressionCollaborators(students studentStore, assignments assignmentStore) *ProgressionCollaborators {
	return &ProgressionCollaborators{students: students, assignments: assignments, now: time.Now}
}

// AddExperiencePoints credits amount to the student.
func (p *ProgressionCollaborators) AddExperiencePoints(ctx context.Context, exec sqlx.ExtContext, studentID string, amount int) error {
	if amount <= 0 {
		return nil
	}
	if err := p.students.AddExperience(ctx, exec, studentID, amount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return passThrough(err, "failed to award experience points")
	}
	return nil
}

// CreateAssignment materialises template for item, due dueInDays from now.
func (p *ProgressionCollaborators) CreateAssignment(ctx context.Context, exec sqlx.ExtContext, studentID, enrollmentID string, item curriculum.Item, template curriculum.AssignmentTemplate, dueInDays int) (*models.Assignment, error) {
	now := p.now().UTC()
	assignment := &models.Assignment{
		ID:               uuid.NewString(),
		StudentID:        studentID,
		CurriculumItemID: item.ID,
		Title:            template.Title,
		DueDate:          now.AddDate(0, 0, dueInDays),
		CreatedAt:        now,
	}
	if enrollmentID != "" {
		assignment.EnrollmentID = &enrollmentID
	}
	if desc := strings.TrimSpace(template.Description); desc != "" {
		assignment.Description = &desc
	}
	if err := p.assignments.Create(ctx, exec, assignment); err != nil {
		return nil, passThrough(err, "failed to create assignment")
	}
	return assignment, nil
}

// Contact returns the student with the linked parent.
func (p *ProgressionCollaborators) Contact(ctx context.Context, exec sqlx.ExtContext, studentID string) (*models.StudentContact, error) {
	contact, err := p.students.GetContact(ctx, exec, studentID)
	if err != nil {
		return nil, notFoundOr(err, "student not found", "failed to load student")
	}
	return contact, nil
}
