package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/tutorhub-api/internal/dto"
	"github.com/noah-isme/tutorhub-api/internal/models"
	appErrors "github.com/noah-isme/tutorhub-api/pkg/errors"
)

type availabilityStore interface {
	ListSlots(ctx context.Context, exec sqlx.ExtContext, teacherID string) ([]models.AvailabilitySlot, error)
	SlotsForDay(ctx context.Context, exec sqlx.ExtContext, teacherID string, day time.Weekday) ([]models.AvailabilitySlot, error)
	ReplaceSlots(ctx context.Context, exec sqlx.ExtContext, teacherID string, slots []models.AvailabilitySlot) error
	IsBlocked(ctx context.Context, exec sqlx.ExtContext, teacherID string, date time.Time) (bool, error)
	AddUnavailability(ctx context.Context, exec sqlx.ExtContext, entry *models.Unavailability) error
	ListUnavailability(ctx context.Context, exec sqlx.ExtContext, teacherID string, from time.Time) ([]models.Unavailability, error)
}

// AvailabilityService answers whether a teacher can take a given time.
type AvailabilityService struct {
	repo      availabilityStore
	tx        txRunner
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewAvailabilityService constructs the service.
func NewAvailabilityService(repo availabilityStore, tx txRunner, validate *validator.Validate, logger *zap.Logger) *AvailabilityService {
	if validate == nil {
		validate = dto.NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AvailabilityService{repo: repo, tx: tx, validator: validate, logger: logger, now: time.Now}
}

// IsAvailable reports whether a weekly slot covers instant and the date is not blocked.
func (s *AvailabilityService) IsAvailable(ctx context.Context, exec sqlx.ExtContext, teacherID string, instant time.Time) (bool, error) {
	slots, err := s.repo.SlotsForDay(ctx, exec, teacherID, instant.Weekday())
	if err != nil {
		return false, err
	}
	minute := models.MinuteOfDay(instant)
	covered := false
	for _, slot := range slots {
		start, end, err := slotBounds(slot)
		if err != nil {
			s.logger.Warn("skipping malformed availability slot", zap.String("slot_id", slot.ID), zap.Error(err))
			continue
		}
		if start <= minute && minute < end {
			covered = true
			break
		}
	}
	if !covered {
		return false, nil
	}
	blocked, err := s.repo.IsBlocked(ctx, exec, teacherID, instant)
	if err != nil {
		return false, err
	}
	return !blocked, nil
}

// IsAvailableFor reports whether a single slot on the start's weekday covers the whole
// window and the start date is not blocked. Windows crossing midnight are never available.
func (s *AvailabilityService) IsAvailableFor(ctx context.Context, exec sqlx.ExtContext, teacherID string, start, end time.Time) (bool, error) {
	if !end.After(start) || start.Format(models.DateLayout) != end.Format(models.DateLayout) {
		return false, nil
	}
	slots, err := s.repo.SlotsForDay(ctx, exec, teacherID, start.Weekday())
	if err != nil {
		return false, err
	}
	from, to := models.MinuteOfDay(start), models.MinuteOfDay(end)
	if end.Second() > 0 || end.Nanosecond() > 0 {
		to++
	}
	covered := false
	for _, slot := range slots {
		slotStart, slotEnd, err := slotBounds(slot)
		if err != nil {
			continue
		}
		if slotStart <= from && to <= slotEnd {
			covered = true
			break
		}
	}
	if !covered {
		return false, nil
	}
	blocked, err := s.repo.IsBlocked(ctx, exec, teacherID, start)
	if err != nil {
		return false, err
	}
	return !blocked, nil
}

// Check is the read-only endpoint variant of IsAvailable and IsAvailableFor.
func (s *AvailabilityService) Check(ctx context.Context, teacherID string, start time.Time, end *time.Time) (bool, error) {
	var (
		ok  bool
		err error
	)
	if end == nil {
		ok, err = s.IsAvailable(ctx, nil, teacherID, naive(start))
	} else {
		ok, err = s.IsAvailableFor(ctx, nil, teacherID, naive(start), naive(*end))
	}
	if err != nil {
		return false, appErrors.Internal(err, "failed to check availability")
	}
	return ok, nil
}

// GetAvailability returns the weekly template and upcoming blocked dates.
func (s *AvailabilityService) GetAvailability(ctx context.Context, teacherID string) (*models.TeacherAvailability, error) {
	slots, err := s.repo.ListSlots(ctx, nil, teacherID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load availability")
	}
	today := s.now()
	today = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	blocked, err := s.repo.ListUnavailability(ctx, nil, teacherID, today)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load unavailability")
	}
	if slots == nil {
		slots = []models.AvailabilitySlot{}
	}
	if blocked == nil {
		blocked = []models.Unavailability{}
	}
	return &models.TeacherAvailability{TeacherID: teacherID, Slots: slots, Unavailability: blocked}, nil
}

// ReplaceSlots atomically swaps the weekly template of a teacher.
func (s *AvailabilityService) ReplaceSlots(ctx context.Context, teacherID string, req dto.ReplaceAvailabilityRequest) (*models.TeacherAvailability, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid availability payload")
	}
	slots := make([]models.AvailabilitySlot, 0, len(req.Slots))
	for i, slot := range req.Slots {
		start, end, err := slotBounds(models.AvailabilitySlot{StartTime: slot.StartTime, EndTime: slot.EndTime})
		if err != nil || end <= start {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("slot %d must end after it starts", i))
		}
		slots = append(slots, models.AvailabilitySlot{
			DayOfWeek: slot.DayOfWeek,
			StartTime: models.FormatClock(start),
			EndTime:   models.FormatClock(end),
		})
	}

	err := s.tx.InTx(ctx, func(ctx context.Context, exec sqlx.ExtContext) error {
		return s.repo.ReplaceSlots(ctx, exec, teacherID, slots)
	})
	if err != nil {
		return nil, passThrough(err, "failed to replace availability")
	}
	s.logger.Info("availability replaced", zap.String("teacher_id", teacherID), zap.Int("slots", len(slots)))
	return s.GetAvailability(ctx, teacherID)
}

// AddUnavailability blocks a calendar date for a teacher.
func (s *AvailabilityService) AddUnavailability(ctx context.Context, teacherID string, req dto.AddUnavailabilityRequest) (*models.Unavailability, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid unavailability payload")
	}
	date, err := time.Parse(models.DateLayout, req.Date)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid date")
	}
	entry := &models.Unavailability{TeacherID: teacherID, Date: date, Notes: req.Notes}
	if err := s.repo.AddUnavailability(ctx, nil, entry); err != nil {
		return nil, appErrors.Internal(err, "failed to add unavailability")
	}
	return entry, nil
}

func slotBounds(slot models.AvailabilitySlot) (int, int, error) {
	start, err := models.ParseClock(slot.StartTime)
	if err != nil {
		return 0, 0, err
	}
	end, err := models.ParseClock(slot.EndTime)
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}
