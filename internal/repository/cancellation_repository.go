package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutorhub-api/internal/models"
	"github.com/noah-isme/tutorhub-api/pkg/database"
)

const cancellationColumns = `id, session_id, student_id, requested_by, reason, status, requested_at, reviewed_by, reviewed_at`

// CancellationRepository persists cancellation requests.
type CancellationRepository struct {
	db *sqlx.DB
}

// NewCancellationRepository constructs the repository.
func NewCancellationRepository(db *sqlx.DB) *CancellationRepository {
	return &CancellationRepository{db: db}
}

func (r *CancellationRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts a pending request.
func (r *CancellationRepository) Create(ctx context.Context, exec sqlx.ExtContext, request *models.CancellationRequest) error {
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	if request.Status == "" {
		request.Status = models.CancellationStatusPending
	}
	if request.RequestedAt.IsZero() {
		request.RequestedAt = time.Now().UTC()
	}
	const query = `INSERT INTO cancellation_requests (` + cancellationColumns + `)
	VALUES (:id, :session_id, :student_id, :requested_by, :reason, :status, :requested_at, :reviewed_by, :reviewed_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, request); err != nil {
		return fmt.Errorf("create cancellation request: %w", err)
	}
	return nil
}

// GetForUpdate fetches and locks a request.
func (r *CancellationRepository) GetForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.CancellationRequest, error) {
	var request models.CancellationRequest
	if err := sqlx.GetContext(ctx, r.exec(exec), &request, `SELECT `+cancellationColumns+` FROM cancellation_requests WHERE id = $1 FOR UPDATE`, id); err != nil {
		return nil, err
	}
	return &request, nil
}

// HasPending reports whether the session already has an open request.
func (r *CancellationRepository) HasPending(ctx context.Context, exec sqlx.ExtContext, sessionID string) (bool, error) {
	var exists bool
	const query = `SELECT EXISTS (SELECT 1 FROM cancellation_requests WHERE session_id = $1 AND status = 'PENDING')`
	if err := sqlx.GetContext(ctx, r.exec(exec), &exists, query, sessionID); err != nil {
		return false, fmt.Errorf("check pending cancellation: %w", err)
	}
	return exists, nil
}

// List returns requests matching the filter, newest first.
func (r *CancellationRepository) List(ctx context.Context, filter models.CancellationFilter) ([]models.CancellationRequest, int, error) {
	conditions := make([]string, 0, 3)
	args := make([]interface{}, 0, 4)
	if filter.SessionID != "" {
		args = append(args, filter.SessionID)
		conditions = append(conditions, fmt.Sprintf("session_id = $%d", len(args)))
	}
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)))
	}
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	page, size := normalizePage(filter.Page, filter.PageSize)
	query := fmt.Sprintf(`SELECT %s FROM cancellation_requests%s ORDER BY requested_at DESC LIMIT %d OFFSET %d`,
		cancellationColumns, where, size, (page-1)*size)

	var requests []models.CancellationRequest
	if err := r.db.SelectContext(ctx, &requests, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list cancellation requests: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM cancellation_requests`+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count cancellation requests: %w", err)
	}
	return requests, total, nil
}

// Review records the decision on a pending request.
func (r *CancellationRepository) Review(ctx context.Context, exec sqlx.ExtContext, id string, status models.CancellationStatus, reviewer string, at time.Time) error {
	const query = `UPDATE cancellation_requests SET status = $1, reviewed_by = $2, reviewed_at = $3
	WHERE id = $4 AND status = 'PENDING'`
	res, err := r.exec(exec).ExecContext(ctx, query, status, reviewer, at, id)
	if err != nil {
		return fmt.Errorf("review cancellation request: %w", err)
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
