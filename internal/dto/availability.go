package dto

import "time"

// AvailabilitySlotRequest is one weekly window.
type AvailabilitySlotRequest struct {
	DayOfWeek int    `json:"day_of_week" validate:"min=0,max=6"`
	StartTime string `json:"start_time" validate:"required,clock"`
	EndTime   string `json:"end_time" validate:"required,clock"`
}

// ReplaceAvailabilityRequest swaps the weekly template of a teacher.
type ReplaceAvailabilityRequest struct {
	Slots []AvailabilitySlotRequest `json:"slots" validate:"dive"`
}

// AddUnavailabilityRequest blocks a calendar date.
type AddUnavailabilityRequest struct {
	Date  string  `json:"date" validate:"required,datetime=2006-01-02"`
	Notes *string `json:"notes" validate:"omitempty,max=500"`
}

// AvailabilityCheckQuery asks whether a teacher can take a window.
type AvailabilityCheckQuery struct {
	Start time.Time  `form:"start" time_format:"2006-01-02T15:04:05" binding:"required"`
	End   *time.Time `form:"end" time_format:"2006-01-02T15:04:05"`
}
