package models

import (
	"fmt"
	"time"
)

// DateLayout is the calendar-date format used for unavailability records.
const DateLayout = "2006-01-02"

// AvailabilitySlot is a weekly recurring window. DayOfWeek follows time.Weekday (0 = Sunday).
type AvailabilitySlot struct {
	ID        string `db:"id" json:"id"`
	TeacherID string `db:"teacher_id" json:"teacher_id"`
	DayOfWeek int    `db:"day_of_week" json:"day_of_week"`
	StartTime string `db:"start_time" json:"start_time"`
	EndTime   string `db:"end_time" json:"end_time"`
}

// Unavailability is a one-off blocked calendar date.
type Unavailability struct {
	ID        string    `db:"id" json:"id"`
	TeacherID string    `db:"teacher_id" json:"teacher_id"`
	Date      time.Time `db:"date" json:"date"`
	Notes     *string   `db:"notes" json:"notes,omitempty"`
}

// TeacherAvailability bundles the weekly template with its exceptions.
type TeacherAvailability struct {
	TeacherID      string             `json:"teacher_id"`
	Slots          []AvailabilitySlot `json:"slots"`
	Unavailability []Unavailability   `json:"unavailability"`
}

// ParseClock converts "HH:MM" into minutes after midnight.
func ParseClock(value string) (int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", value, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// FormatClock renders minutes after midnight as zero-padded "HH:MM", the stored form
// that keeps text comparison of slot bounds in clock order.
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// MinuteOfDay returns minutes after midnight for t.
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}
