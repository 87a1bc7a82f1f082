package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutorhub-api/internal/models"
	"github.com/noah-isme/tutorhub-api/pkg/database"
)

const sessionColumns = `id, title, start_time, end_time, student_id, teacher_id, program_id, curriculum_item_id,
       status, session_type, recurring_id, meeting_url, summary, created_at, updated_at`

// SessionRepository persists tutoring sessions.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository constructs the repository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts a session.
func (r *SessionRepository) Create(ctx context.Context, exec sqlx.ExtContext, session *models.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.Status == "" {
		session.Status = models.SessionStatusScheduled
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now

	const query = `INSERT INTO sessions (` + sessionColumns + `)
	VALUES (:id, :title, :start_time, :end_time, :student_id, :teacher_id, :program_id, :curriculum_item_id,
	        :status, :session_type, :recurring_id, :meeting_url, :summary, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, session); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetByID fetches a session.
func (r *SessionRepository) GetByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Session, error) {
	var session models.Session
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	if err := sqlx.GetContext(ctx, r.exec(exec), &session, query, id); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetForUpdate fetches a session and locks its row for the rest of the transaction.
func (r *SessionRepository) GetForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Session, error) {
	var session models.Session
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1 FOR UPDATE`
	if err := sqlx.GetContext(ctx, r.exec(exec), &session, query, id); err != nil {
		return nil, err
	}
	return &session, nil
}

// List returns sessions matching filter ordered by start time with the total count.
func (r *SessionRepository) List(ctx context.Context, filter models.SessionFilter) ([]models.Session, int, error) {
	conditions := make([]string, 0, 6)
	args := make([]interface{}, 0, 8)

	add := func(cond string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}
	if filter.TeacherID != "" {
		add("teacher_id = $%d", filter.TeacherID)
	}
	if filter.StudentID != "" {
		add("student_id = $%d", filter.StudentID)
	}
	if filter.ProgramID != "" {
		add("program_id = $%d", filter.ProgramID)
	}
	if filter.RecurringID != "" {
		add("recurring_id = $%d", filter.RecurringID)
	}
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.From != nil {
		add("start_time >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("start_time < $%d", *filter.To)
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	page, size := normalizePage(filter.Page, filter.PageSize)
	query := fmt.Sprintf(`SELECT %s FROM sessions%s ORDER BY start_time ASC, id ASC LIMIT %d OFFSET %d`,
		sessionColumns, where, size, (page-1)*size)

	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM sessions`+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}
	return sessions, total, nil
}

// OverlapQuery describes a calendar window to test for double booking.
type OverlapQuery struct {
	TeacherID string
	StudentID string
	Start     time.Time
	End       time.Time
	ExcludeID string
}

// TeacherHasOverlap reports whether the teacher has a non-cancelled session intersecting the window.
func (r *SessionRepository) TeacherHasOverlap(ctx context.Context, exec sqlx.ExtContext, q OverlapQuery) (bool, error) {
	return r.hasOverlap(ctx, exec, "teacher_id", q.TeacherID, q)
}

// StudentHasOverlap reports whether the student has a non-cancelled session intersecting the window.
func (r *SessionRepository) StudentHasOverlap(ctx context.Context, exec sqlx.ExtContext, q OverlapQuery) (bool, error) {
	return r.hasOverlap(ctx, exec, "student_id", q.StudentID, q)
}

func (r *SessionRepository) hasOverlap(ctx context.Context, exec sqlx.ExtContext, column, owner string, q OverlapQuery) (bool, error) {
	if owner == "" {
		return false, nil
	}
	query := fmt.Sprintf(`SELECT EXISTS (
	SELECT 1 FROM sessions
	WHERE %s = $1 AND status <> 'CANCELLED' AND start_time < $3 AND end_time > $2 AND id <> $4
)`, column)
	var exists bool
	if err := sqlx.GetContext(ctx, r.exec(exec), &exists, query, owner, q.Start, q.End, q.ExcludeID); err != nil {
		return false, fmt.Errorf("check %s overlap: %w", column, err)
	}
	return exists, nil
}

// ListSeriesFrom locks the scheduled occurrences of a series starting at or after from.
func (r *SessionRepository) ListSeriesFrom(ctx context.Context, exec sqlx.ExtContext, recurringID string, from time.Time, excludeID string) ([]models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions
	WHERE recurring_id = $1 AND status = 'SCHEDULED' AND start_time >= $2 AND id <> $3
	ORDER BY start_time ASC FOR UPDATE`
	var sessions []models.Session
	if err := sqlx.SelectContext(ctx, r.exec(exec), &sessions, query, recurringID, from, excludeID); err != nil {
		return nil, fmt.Errorf("list series occurrences: %w", err)
	}
	return sessions, nil
}

// UpdateStatus moves a session from one status to another. A status that changed underneath
// the caller yields database.ErrVersionConflict.
func (r *SessionRepository) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, from, to models.SessionStatus) error {
	const query = `UPDATE sessions SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`
	res, err := r.exec(exec).ExecContext(ctx, query, to, time.Now().UTC(), id, from)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return database.ErrVersionConflict
	}
	return nil
}

// Update persists editable fields of a scheduled session.
func (r *SessionRepository) Update(ctx context.Context, exec sqlx.ExtContext, session *models.Session) error {
	session.UpdatedAt = time.Now().UTC()
	const query = `UPDATE sessions SET title = :title, start_time = :start_time, end_time = :end_time,
	meeting_url = :meeting_url, summary = :summary, curriculum_item_id = :curriculum_item_id, updated_at = :updated_at
	WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, session)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func normalizePage(page, size int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	if size > 200 {
		size = 200
	}
	return page, size
}
