package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutorhub-api/pkg/database"
	appErrors "github.com/noah-isme/tutorhub-api/pkg/errors"
	"github.com/noah-isme/tutorhub-api/pkg/mailer"
)

// txRunner executes a unit of work atomically. *database.TxRunner satisfies it.
type txRunner interface {
	InTx(ctx context.Context, fn database.TxFunc) error
}

// lockFunc serialises writers on the given keys for the rest of the transaction.
type lockFunc func(ctx context.Context, exec sqlx.ExecerContext, keys ...string) error

// Effects collects work that may only run once the surrounding transaction has committed.
// It is reset at the start of every attempt, so a retried transaction never duplicates it.
type Effects struct {
	emails      []mailer.Message
	events      []pendingEvent
	enrollments []string
	sessions    bool
	observers   []func(*MetricsService)
}

type pendingEvent struct {
	Type string
	Data interface{}
}

func (fx *Effects) reset() {
	*fx = Effects{}
}

func (fx *Effects) email(msg mailer.Message) {
	fx.emails = append(fx.emails, msg)
}

func (fx *Effects) event(eventType string, data interface{}) {
	fx.events = append(fx.events, pendingEvent{Type: eventType, Data: data})
}

// touch marks enrollments whose cached read models are stale.
func (fx *Effects) touch(enrollmentIDs ...string) {
	fx.enrollments = append(fx.enrollments, enrollmentIDs...)
}

func (fx *Effects) touchSessions() {
	fx.sessions = true
}

func (fx *Effects) observe(fn func(*MetricsService)) {
	fx.observers = append(fx.observers, fn)
}

// effectDispatcher performs committed side effects.
type effectDispatcher interface {
	Dispatch(ctx context.Context, fx *Effects)
}

// operationObserver times transactional operations, including the failed ones.
type operationObserver interface {
	ObserveOperation(operation string, err error, duration time.Duration)
}

// runInTx runs fn inside tx with a fresh Effects per attempt and dispatches them after commit.
// The whole call, retries included, is timed under operation when dispatcher observes operations.
func runInTx(ctx context.Context, operation string, tx txRunner, dispatcher effectDispatcher, fn func(ctx context.Context, exec sqlx.ExtContext, fx *Effects) error) error {
	fx := &Effects{}
	start := time.Now()
	err := tx.InTx(ctx, func(ctx context.Context, exec sqlx.ExtContext) error {
		fx.reset()
		return fn(ctx, exec, fx)
	})
	if observer, ok := dispatcher.(operationObserver); ok {
		observer.ObserveOperation(operation, err, time.Since(start))
	}
	if err != nil {
		return err
	}
	if dispatcher != nil {
		dispatcher.Dispatch(ctx, fx)
	}
	return nil
}

// notFoundOr maps sql.ErrNoRows to a NotFound error and anything else to an internal error.
func notFoundOr(err error, notFound, internal string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, notFound)
	}
	return passThrough(err, internal)
}

// passThrough keeps typed and retry-relevant errors intact so the transaction runner
// can classify them, wrapping everything else as internal.
func passThrough(err error, message string) error {
	if err == nil {
		return nil
	}
	var typed *appErrors.Error
	if errors.As(err, &typed) || errors.Is(err, database.ErrVersionConflict) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return appErrors.Internal(err, message)
}

// naive drops the location of t while keeping its wall clock. Sessions are stored
// as local timestamps without a zone.
func naive(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}
