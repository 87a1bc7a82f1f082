package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutorhub-api/internal/models"
)

// AnnouncementRepository stores message templates and rendered announcements.
type AnnouncementRepository struct {
	db *sqlx.DB
}

// NewAnnouncementRepository constructs the repository.
func NewAnnouncementRepository(db *sqlx.DB) *AnnouncementRepository {
	return &AnnouncementRepository{db: db}
}

func (r *AnnouncementRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// GetTemplate fetches a message template.
func (r *AnnouncementRepository) GetTemplate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.MessageTemplate, error) {
	var tmpl models.MessageTemplate
	const query = `SELECT id, name, subject, body, created_at FROM message_templates WHERE id = $1`
	if err := sqlx.GetContext(ctx, r.exec(exec), &tmpl, query, id); err != nil {
		return nil, err
	}
	return &tmpl, nil
}

// Create stores a rendered announcement.
func (r *AnnouncementRepository) Create(ctx context.Context, exec sqlx.ExtContext, announcement *models.Announcement) error {
	if announcement.ID == "" {
		announcement.ID = uuid.NewString()
	}
	if announcement.CreatedAt.IsZero() {
		announcement.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO announcements (id, recipient_id, template_id, subject, body, created_at)
	VALUES (:id, :recipient_id, :template_id, :subject, :body, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, announcement); err != nil {
		return fmt.Errorf("create announcement: %w", err)
	}
	return nil
}
