package service

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutorhub-api/internal/models"
	appErrors "github.com/noah-isme/tutorhub-api/pkg/errors"
)

type studentDirectory interface {
	GetContact(ctx context.Context, exec sqlx.ExtContext, studentID string) (*models.StudentContact, error)
}

type enrollmentLookup interface {
	GetByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Enrollment, error)
}

// AccessService decides which student records a caller may read. Staff read everything,
// students read their own records and parents read those of their linked children.
type AccessService struct {
	students    studentDirectory
	enrollments enrollmentLookup
}

// NewAccessService constructs the service.
func NewAccessService(students studentDirectory, enrollments enrollmentLookup) *AccessService {
	return &AccessService{students: students, enrollments: enrollments}
}

// AuthorizeStudent returns the student filter the caller is held to. Staff keep the requested
// value, which may be empty; students are pinned to themselves; parents must name a child.
func (s *AccessService) AuthorizeStudent(ctx context.Context, claims *models.JWTClaims, requested string) (string, error) {
	if claims == nil {
		return "", appErrors.ErrUnauthorized
	}
	requested = strings.TrimSpace(requested)
	switch claims.Role {
	case models.RoleAdmin, models.RoleSuperAdmin, models.RoleTeacher:
		return requested, nil
	case models.RoleStudent:
		if requested != "" && requested != claims.UserID {
			return "", appErrors.Clone(appErrors.ErrForbidden, "students can only read their own records")
		}
		return claims.UserID, nil
	case models.RoleParent:
		if requested == "" {
			return "", appErrors.Clone(appErrors.ErrValidation, "student_id is required")
		}
		if err := s.requireParent(ctx, claims.UserID, requested); err != nil {
			return "", err
		}
		return requested, nil
	default:
		return "", appErrors.ErrForbidden
	}
}

// AuthorizeEnrollment fails unless the caller may read the enrollment's balance, ledger and progress.
func (s *AccessService) AuthorizeEnrollment(ctx context.Context, claims *models.JWTClaims, enrollmentID string) error {
	if claims == nil {
		return appErrors.ErrUnauthorized
	}
	switch claims.Role {
	case models.RoleAdmin, models.RoleSuperAdmin, models.RoleTeacher:
		return nil
	case models.RoleStudent, models.RoleParent:
	default:
		return appErrors.ErrForbidden
	}

	enrollment, err := s.enrollments.GetByID(ctx, nil, enrollmentID)
	if err != nil {
		return notFoundOr(err, "enrollment not found", "failed to load enrollment")
	}
	if claims.Role == models.RoleStudent {
		if enrollment.StudentID != claims.UserID {
			return appErrors.Clone(appErrors.ErrForbidden, "enrollment belongs to another student")
		}
		return nil
	}
	return s.requireParent(ctx, claims.UserID, enrollment.StudentID)
}

func (s *AccessService) requireParent(ctx context.Context, parentID, studentID string) error {
	contact, err := s.students.GetContact(ctx, nil, studentID)
	if err != nil {
		return notFoundOr(err, "student not found", "failed to load student")
	}
	if contact.ParentID == nil || *contact.ParentID != parentID {
		return appErrors.Clone(appErrors.ErrForbidden, "student is not linked to this parent")
	}
	return nil
}
