package service

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/noah-isme/tutorhub-api/internal/dto"
	"github.com/noah-isme/tutorhub-api/internal/models"
	"github.com/noah-isme/tutorhub-api/pkg/cache"
	appErrors "github.com/noah-isme/tutorhub-api/pkg/errors"
	"github.com/noah-isme/tutorhub-api/pkg/events"
)

const (
	creditKindDeduction = "deduction"
	creditKindRefund    = "refund"
	creditKindPurchase  = "purchase"

	ledgerTimeLayout      = "2006-01-02T15:04:05.000000"
	defaultPurchaseReason = "credit purchase"
)

type enrollmentStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) error
	GetByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Enrollment, error)
	GetForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Enrollment, error)
	FindActive(ctx context.Context, exec sqlx.ExtContext, studentID, programID string) (*models.Enrollment, error)
	Resolve(ctx context.Context, exec sqlx.ExtContext, studentID, programID string) (*models.Enrollment, error)
	UpdateBalance(ctx context.Context, exec sqlx.ExtContext, id string, balance int, version int64) error
	MarkCompleted(ctx context.Context, exec sqlx.ExtContext, id string, at time.Time) (bool, error)
	ListIDs(ctx context.Context) ([]string, error)
}

type creditTransactionStore interface {
	Append(ctx context.Context, exec sqlx.ExtContext, entry *models.CreditTransaction) error
	Last(ctx context.Context, exec sqlx.ExtContext, enrollmentID string) (*models.CreditTransaction, error)
	ListAll(ctx context.Context, exec sqlx.ExtContext, enrollmentID string) ([]models.CreditTransaction, error)
	List(ctx context.Context, filter models.CreditTransactionFilter) ([]models.CreditTransaction, int, error)
}

// LedgerService owns every write to an enrollment's credit balance. Each change appends a
// hash-chained ledger entry and moves credits_remaining by the same amount under a row lock,
// so the balance always equals the sum of the ledger.
type LedgerService struct {
	tx           txRunner
	enrollments  enrollmentStore
	transactions creditTransactionStore
	cache        *CacheService
	dispatcher   effectDispatcher
	validator    *validator.Validate
	logger       *zap.Logger
	tracer       trace.Tracer
	threshold    int
	cacheTTL     time.Duration
	now          func() time.Time
}

// CreditChange is the outcome of one ledger operation.
type CreditChange struct {
	Entry   *models.CreditTransaction
	Before  int
	After   int
	Skipped bool
}

// NewLedgerService constructs the ledger.
func NewLedgerService(tx txRunner, enrollments enrollmentStore, transactions creditTransactionStore, cacheSvc *CacheService, dispatcher effectDispatcher, validate *validator.Validate, logger *zap.Logger, lowCreditThreshold int, cacheTTL time.Duration) *LedgerService {
	if validate == nil {
		validate = dto.NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerService{
		tx:           tx,
		enrollments:  enrollments,
		transactions: transactions,
		cache:        cacheSvc,
		dispatcher:   dispatcher,
		validator:    validate,
		logger:       logger,
		tracer:       otel.Tracer("github.com/noah-isme/tutorhub-api/internal/service/ledger"),
		threshold:    lowCreditThreshold,
		cacheTTL:     cacheTTL,
		now:          time.Now,
	}
}

// PurchaseCredits appends a positive entry to an enrollment.
func (s *LedgerService) PurchaseCredits(ctx context.Context, enrollmentID string, req dto.PurchaseCreditsRequest, actorID string) (*models.CreditTransaction, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid credit purchase payload")
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = defaultPurchaseReason
	}

	ctx, span := s.tracer.Start(ctx, "ledger.purchase", trace.WithAttributes(
		attribute.String("enrollment.id", enrollmentID),
		attribute.Int("credits.amount", req.Amount),
	))
	defer span.End()

	var change *CreditChange
	err := runInTx(ctx, "ledger.purchase", s.tx, s.dispatcher, func(ctx context.Context, exec sqlx.ExtContext, fx *Effects) error {
		var err error
		change, err = s.ApplyChange(ctx, exec, fx, enrollmentID, req.Amount, reason, actorID)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.logger.Info("credits purchased", zap.String("enrollment_id", enrollmentID), zap.Int("amount", req.Amount), zap.Int("balance", change.After))
	return change.Entry, nil
}

// ApplyChange locks the enrollment, appends an entry and moves the balance by change.
// A change that would make the balance negative fails with PreconditionFailed.
func (s *LedgerService) ApplyChange(ctx context.Context, exec sqlx.ExtContext, fx *Effects, enrollmentID string, change int, reason, actorID string) (*CreditChange, error) {
	enrollment, err := s.enrollments.GetForUpdate(ctx, exec, enrollmentID)
	if err != nil {
		return nil, notFoundOr(err, "enrollment not found", "failed to load enrollment")
	}
	if enrollment.CreditsRemaining+change < 0 {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("insufficient credits: %d remaining", enrollment.CreditsRemaining))
	}
	return s.write(ctx, exec, fx, enrollment, change, reason, actorID)
}

// DeductIfAvailable consumes one credit, or reports Skipped when the balance is already zero.
func (s *LedgerService) DeductIfAvailable(ctx context.Context, exec sqlx.ExtContext, fx *Effects, enrollmentID, reason, actorID string) (*CreditChange, error) {
	enrollment, err := s.enrollments.GetForUpdate(ctx, exec, enrollmentID)
	if err != nil {
		return nil, notFoundOr(err, "enrollment not found", "failed to load enrollment")
	}
	if enrollment.CreditsRemaining <= 0 {
		return &CreditChange{Before: 0, After: 0, Skipped: true}, nil
	}
	return s.write(ctx, exec, fx, enrollment, -1, reason, actorID)
}

func (s *LedgerService) write(ctx context.Context, exec sqlx.ExtContext, fx *Effects, enrollment *models.Enrollment, change int, reason, actorID string) (*CreditChange, error) {
	prevHash := ""
	last, err := s.transactions.Last(ctx, exec, enrollment.ID)
	switch {
	case err == nil:
		prevHash = last.Hash
	case errors.Is(err, sql.ErrNoRows):
	default:
		return nil, passThrough(err, "failed to read ledger head")
	}

	before := enrollment.CreditsRemaining
	entry := &models.CreditTransaction{
		ID:           uuid.NewString(),
		EnrollmentID: enrollment.ID,
		Change:       change,
		Reason:       reason,
		ActorID:      actorID,
		CreatedAt:    s.now().UTC().Truncate(time.Microsecond),
		BalanceAfter: before + change,
		PrevHash:     prevHash,
	}
	entry.Hash = ledgerHash(entry)

	if err := s.enrollments.UpdateBalance(ctx, exec, enrollment.ID, entry.BalanceAfter, enrollment.Version); err != nil {
		return nil, passThrough(err, "failed to update balance")
	}
	enrollment.CreditsRemaining = entry.BalanceAfter
	enrollment.Version++
	if err := s.transactions.Append(ctx, exec, entry); err != nil {
		return nil, passThrough(err, "failed to append ledger entry")
	}

	kind := creditKind(change, reason)
	fx.touch(enrollment.ID)
	fx.event(events.TypeCreditsChanged, map[string]interface{}{
		"enrollment_id": enrollment.ID,
		"change":        change,
		"balance":       entry.BalanceAfter,
		"reason":        reason,
	})
	fx.observe(func(m *MetricsService) { m.RecordCreditChange(kind, change) })
	return &CreditChange{Entry: entry, Before: before, After: entry.BalanceAfter}, nil
}

// GetBalance returns the balance projection of an enrollment.
func (s *LedgerService) GetBalance(ctx context.Context, enrollmentID string) (*models.EnrollmentBalance, error) {
	return readThrough(ctx, s.cache, cache.EnrollmentGenerationKey(enrollmentID), cache.BalanceKey(enrollmentID), s.cacheTTL, func() (*models.EnrollmentBalance, error) {
		enrollment, err := s.enrollments.GetByID(ctx, nil, enrollmentID)
		if err != nil {
			return nil, notFoundOr(err, "enrollment not found", "failed to load enrollment")
		}
		return &models.EnrollmentBalance{
			EnrollmentID:     enrollment.ID,
			Status:           enrollment.Status,
			CreditsRemaining: enrollment.CreditsRemaining,
			LowCredit:        enrollment.CreditsRemaining <= s.threshold,
		}, nil
	})
}

// ListTransactions pages through an enrollment's ledger, newest first.
func (s *LedgerService) ListTransactions(ctx context.Context, filter models.CreditTransactionFilter) ([]models.CreditTransaction, *models.Pagination, error) {
	if _, err := s.enrollments.GetByID(ctx, nil, filter.EnrollmentID); err != nil {
		return nil, nil, notFoundOr(err, "enrollment not found", "failed to load enrollment")
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	entries, total, err := s.transactions.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list credit transactions")
	}
	if entries == nil {
		entries = []models.CreditTransaction{}
	}
	return entries, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// VerifyLedger recomputes the hash chain of an enrollment and checks the balance against the ledger sum.
func (s *LedgerService) VerifyLedger(ctx context.Context, enrollmentID string) (*models.LedgerVerification, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.verify", trace.WithAttributes(attribute.String("enrollment.id", enrollmentID)))
	defer span.End()

	enrollment, err := s.enrollments.GetByID(ctx, nil, enrollmentID)
	if err != nil {
		return nil, notFoundOr(err, "enrollment not found", "failed to load enrollment")
	}
	entries, err := s.transactions.ListAll(ctx, nil, enrollmentID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load ledger")
	}

	report := &models.LedgerVerification{
		EnrollmentID:     enrollmentID,
		Entries:          len(entries),
		CreditsRemaining: enrollment.CreditsRemaining,
		CheckedAt:        s.now().UTC(),
	}
	prev := ""
	for i := range entries {
		entry := entries[i]
		if entry.PrevHash != prev {
			report.Problems = append(report.Problems, fmt.Sprintf("entry %s does not link to its predecessor", entry.ID))
		}
		if ledgerHash(&entry) != entry.Hash {
			report.Problems = append(report.Problems, fmt.Sprintf("entry %s hash mismatch", entry.ID))
		}
		report.LedgerSum += entry.Change
		if entry.BalanceAfter != report.LedgerSum {
			report.Problems = append(report.Problems, fmt.Sprintf("entry %s records balance %d, ledger sum is %d", entry.ID, entry.BalanceAfter, report.LedgerSum))
		}
		prev = entry.Hash
	}
	if report.LedgerSum != enrollment.CreditsRemaining {
		report.Problems = append(report.Problems, fmt.Sprintf("credits_remaining %d differs from ledger sum %d", enrollment.CreditsRemaining, report.LedgerSum))
	}
	report.Valid = len(report.Problems) == 0
	if !report.Valid {
		s.logger.Warn("ledger verification failed", zap.String("enrollment_id", enrollmentID), zap.Strings("problems", report.Problems))
	}
	return report, nil
}

// VerifyAll audits every enrollment.
func (s *LedgerService) VerifyAll(ctx context.Context) ([]models.LedgerVerification, error) {
	ids, err := s.enrollments.ListIDs(ctx)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list enrollments")
	}
	reports := make([]models.LedgerVerification, 0, len(ids))
	for _, id := range ids {
		report, err := s.VerifyLedger(ctx, id)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *report)
	}
	return reports, nil
}

func ledgerHash(entry *models.CreditTransaction) string {
	payload := strings.Join([]string{
		entry.PrevHash,
		entry.ID,
		entry.EnrollmentID,
		strconv.Itoa(entry.Change),
		entry.Reason,
		entry.ActorID,
		entry.CreatedAt.UTC().Format(ledgerTimeLayout),
		strconv.Itoa(entry.BalanceAfter),
	}, "|")
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

func creditKind(change int, reason string) string {
	switch {
	case change < 0:
		return creditKindDeduction
	case reason == models.CreditReasonRefund:
		return creditKindRefund
	default:
		return creditKindPurchase
	}
}
