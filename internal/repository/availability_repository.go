package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutorhub-api/internal/models"
)

// AvailabilityRepository stores teacher weekly slots and blocked dates.
type AvailabilityRepository struct {
	db *sqlx.DB
}

// NewAvailabilityRepository constructs the repository.
func NewAvailabilityRepository(db *sqlx.DB) *AvailabilityRepository {
	return &AvailabilityRepository{db: db}
}

func (r *AvailabilityRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// ListSlots returns every weekly slot of a teacher.
func (r *AvailabilityRepository) ListSlots(ctx context.Context, exec sqlx.ExtContext, teacherID string) ([]models.AvailabilitySlot, error) {
	const query = `SELECT id, teacher_id, day_of_week, start_time, end_time FROM availability_slots
	WHERE teacher_id = $1 ORDER BY day_of_week ASC, start_time ASC`
	var slots []models.AvailabilitySlot
	if err := sqlx.SelectContext(ctx, r.exec(exec), &slots, query, teacherID); err != nil {
		return nil, fmt.Errorf("list availability slots: %w", err)
	}
	return slots, nil
}

// SlotsForDay returns the slots of a teacher on a weekday.
func (r *AvailabilityRepository) SlotsForDay(ctx context.Context, exec sqlx.ExtContext, teacherID string, day time.Weekday) ([]models.AvailabilitySlot, error) {
	const query = `SELECT id, teacher_id, day_of_week, start_time, end_time FROM availability_slots
	WHERE teacher_id = $1 AND day_of_week = $2 ORDER BY start_time ASC`
	var slots []models.AvailabilitySlot
	if err := sqlx.SelectContext(ctx, r.exec(exec), &slots, query, teacherID, int(day)); err != nil {
		return nil, fmt.Errorf("list availability slots for day: %w", err)
	}
	return slots, nil
}

// ReplaceSlots swaps the weekly template of a teacher.
func (r *AvailabilityRepository) ReplaceSlots(ctx context.Context, exec sqlx.ExtContext, teacherID string, slots []models.AvailabilitySlot) error {
	target := r.exec(exec)
	if _, err := target.ExecContext(ctx, `DELETE FROM availability_slots WHERE teacher_id = $1`, teacherID); err != nil {
		return fmt.Errorf("clear availability slots: %w", err)
	}
	const insert = `INSERT INTO availability_slots (id, teacher_id, day_of_week, start_time, end_time)
	VALUES (:id, :teacher_id, :day_of_week, :start_time, :end_time)`
	for i := range slots {
		slots[i].TeacherID = teacherID
		if slots[i].ID == "" {
			slots[i].ID = uuid.NewString()
		}
		if _, err := sqlx.NamedExecContext(ctx, target, insert, &slots[i]); err != nil {
			return fmt.Errorf("insert availability slot: %w", err)
		}
	}
	return nil
}

// IsBlocked reports whether the teacher marked date as unavailable.
func (r *AvailabilityRepository) IsBlocked(ctx context.Context, exec sqlx.ExtContext, teacherID string, date time.Time) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM teacher_unavailability WHERE teacher_id = $1 AND date = $2)`
	var blocked bool
	if err := sqlx.GetContext(ctx, r.exec(exec), &blocked, query, teacherID, date.Format(models.DateLayout)); err != nil {
		return false, fmt.Errorf("check unavailability: %w", err)
	}
	return blocked, nil
}

// AddUnavailability blocks a date. Blocking the same date twice updates the notes.
func (r *AvailabilityRepository) AddUnavailability(ctx context.Context, exec sqlx.ExtContext, entry *models.Unavailability) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	const query = `INSERT INTO teacher_unavailability (id, teacher_id, date, notes)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (teacher_id, date) DO UPDATE SET notes = EXCLUDED.notes`
	if _, err := r.exec(exec).ExecContext(ctx, query, entry.ID, entry.TeacherID, entry.Date.Format(models.DateLayout), entry.Notes); err != nil {
		return fmt.Errorf("add unavailability: %w", err)
	}
	return nil
}

// ListUnavailability returns blocked dates on or after from.
func (r *AvailabilityRepository) ListUnavailability(ctx context.Context, exec sqlx.ExtContext, teacherID string, from time.Time) ([]models.Unavailability, error) {
	const query = `SELECT id, teacher_id, date, notes FROM teacher_unavailability
	WHERE teacher_id = $1 AND date >= $2 ORDER BY date ASC`
	var entries []models.Unavailability
	if err := sqlx.SelectContext(ctx, r.exec(exec), &entries, query, teacherID, from.Format(models.DateLayout)); err != nil {
		return nil, fmt.Errorf("list unavailability: %w", err)
	}
	return entries, nil
}
