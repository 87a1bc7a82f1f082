package database

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/tutorhub-api/pkg/errors"
)

// ErrVersionConflict is returned by repositories when an optimistic version guard matched no row.
var ErrVersionConflict = errors.New("database: version conflict")

const (
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
)

// TxFunc is the unit of work executed inside a transaction.
type TxFunc func(ctx context.Context, exec sqlx.ExtContext) error

// TxRunnerConfig bounds the runner.
type TxRunnerConfig struct {
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zap.Logger
}

// TxRunner executes units of work atomically, retrying lost optimistic races.
type TxRunner struct {
	db         *sqlx.DB
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger
}

// NewTxRunner constructs a TxRunner.
func NewTxRunner(db *sqlx.DB, cfg TxRunnerConfig) *TxRunner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 25 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &TxRunner{
		db:         db,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     cfg.Logger,
	}
}

// InTx runs fn in a single transaction. fn may be invoked more than once when a
// concurrent writer wins a race, so it must not perform non-transactional side effects.
func (r *TxRunner) InTx(ctx context.Context, fn TxFunc) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * r.retryDelay
			r.logger.Debug("retrying transaction", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return timeoutError(ctx.Err())
			case <-time.After(delay):
			}
		}

		lastErr = r.runOnce(ctx, fn)
		if lastErr == nil {
			return nil
		}
		if isTimeout(ctx, lastErr) {
			return timeoutError(lastErr)
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
	}

	r.logger.Warn("transaction retries exhausted", zap.Int("max_retries", r.maxRetries), zap.Error(lastErr))
	return appErrors.Wrap(lastErr, appErrors.ErrConcurrencyConflict.Code, appErrors.ErrConcurrencyConflict.Status, appErrors.ErrConcurrencyConflict.Message).WithRetryable()
}

func (r *TxRunner) runOnce(ctx context.Context, fn TxFunc) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

// AdvisoryLock takes transaction-scoped advisory locks on keys in a stable order.
func AdvisoryLock(ctx context.Context, exec sqlx.ExecerContext, keys ...string) error {
	sorted := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		sorted = append(sorted, key)
	}
	sort.Strings(sorted)

	for _, key := range sorted {
		if _, err := exec.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
			return err
		}
	}
	return nil
}

func isRetryable(err error) bool {
	if errors.Is(err, ErrVersionConflict) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqSerializationFailure || pqErr.Code == pqDeadlockDetected
	}
	return false
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return ctx.Err() != nil && (errors.Is(err, sql.ErrTxDone) || errors.Is(err, context.Canceled))
}

func timeoutError(err error) error {
	return appErrors.Wrap(err, appErrors.ErrStoreTimeout.Code, appErrors.ErrStoreTimeout.Status, appErrors.ErrStoreTimeout.Message).WithRetryable()
}
