package models

import "time"

// MessageTemplate is a markdown body with {{variable}} placeholders.
type MessageTemplate struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Subject   string    `db:"subject" json:"subject"`
	Body      string    `db:"body" json:"body"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Announcement is a rendered message addressed to one user.
type Announcement struct {
	ID          string    `db:"id" json:"id"`
	RecipientID string    `db:"recipient_id" json:"recipient_id"`
	TemplateID  *string   `db:"template_id" json:"template_id,omitempty"`
	Subject     string    `db:"subject" json:"subject"`
	Body        string    `db:"body" json:"body"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// AnnouncementTarget identifies the recipient of a templated announcement.
type AnnouncementTarget struct {
	UserID string
	Email  string
}
