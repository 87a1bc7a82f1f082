package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutorhub-api/internal/models"
)

const creditTransactionColumns = `id, seq, enrollment_id, change, reason, actor_id, created_at, balance_after, prev_hash, hash`

// CreditTransactionRepository is the append-only credit ledger.
type CreditTransactionRepository struct {
	db *sqlx.DB
}

// NewCreditTransactionRepository constructs the repository.
func NewCreditTransactionRepository(db *sqlx.DB) *CreditTransactionRepository {
	return &CreditTransactionRepository{db: db}
}

func (r *CreditTransactionRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Append writes a ledger entry. Entries are never updated or deleted.
func (r *CreditTransactionRepository) Append(ctx context.Context, exec sqlx.ExtContext, entry *models.CreditTransaction) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	const query = `INSERT INTO credit_transactions (id, enrollment_id, change, reason, actor_id, created_at, balance_after, prev_hash, hash)
	VALUES (:id, :enrollment_id, :change, :reason, :actor_id, :created_at, :balance_after, :prev_hash, :hash)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, entry); err != nil {
		return fmt.Errorf("append credit transaction: %w", err)
	}
	return nil
}

// Last returns the newest entry of an enrollment or sql.ErrNoRows.
func (r *CreditTransactionRepository) Last(ctx context.Context, exec sqlx.ExtContext, enrollmentID string) (*models.CreditTransaction, error) {
	var entry models.CreditTransaction
	query := `SELECT ` + creditTransactionColumns + ` FROM credit_transactions WHERE enrollment_id = $1 ORDER BY seq DESC LIMIT 1`
	if err := sqlx.GetContext(ctx, r.exec(exec), &entry, query, enrollmentID); err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListAll returns the full chain of an enrollment in append order.
func (r *CreditTransactionRepository) ListAll(ctx context.Context, exec sqlx.ExtContext, enrollmentID string) ([]models.CreditTransaction, error) {
	var entries []models.CreditTransaction
	query := `SELECT ` + creditTransactionColumns + ` FROM credit_transactions WHERE enrollment_id = $1 ORDER BY seq ASC`
	if err := sqlx.SelectContext(ctx, r.exec(exec), &entries, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list credit transactions: %w", err)
	}
	return entries, nil
}

// List pages through an enrollment's ledger, newest first.
func (r *CreditTransactionRepository) List(ctx context.Context, filter models.CreditTransactionFilter) ([]models.CreditTransaction, int, error) {
	page, size := normalizePage(filter.Page, filter.PageSize)
	query := fmt.Sprintf(`SELECT %s FROM credit_transactions WHERE enrollment_id = $1 ORDER BY seq DESC LIMIT %d OFFSET %d`,
		creditTransactionColumns, size, (page-1)*size)

	var entries []models.CreditTransaction
	if err := r.db.SelectContext(ctx, &entries, query, filter.EnrollmentID); err != nil {
		return nil, 0, fmt.Errorf("list credit transactions: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM credit_transactions WHERE enrollment_id = $1`, filter.EnrollmentID); err != nil {
		return nil, 0, fmt.Errorf("count credit transactions: %w", err)
	}
	return entries, total, nil
}
