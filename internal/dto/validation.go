package dto

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/tutorhub-api/internal/curriculum"
	"github.com/noah-isme/tutorhub-api/internal/models"
)

// RegisterValidators adds the enum validators used by request tags.
func RegisterValidators(v *validator.Validate) {
	_ = v.RegisterValidation("session_status", func(fl validator.FieldLevel) bool {
		return models.SessionStatus(strings.ToUpper(fl.Field().String())).Valid()
	})
	_ = v.RegisterValidation("session_type", func(fl validator.FieldLevel) bool {
		return models.SessionType(strings.ToUpper(fl.Field().String())).Valid()
	})
	_ = v.RegisterValidation("curriculum_status", func(fl validator.FieldLevel) bool {
		return curriculum.Status(strings.ToUpper(fl.Field().String())).Valid()
	})
	_ = v.RegisterValidation("cancel_scope", func(fl validator.FieldLevel) bool {
		switch models.CancelScope(strings.ToLower(fl.Field().String())) {
		case models.CancelScopeSingle, models.CancelScopeSeries:
			return true
		}
		return false
	})
	_ = v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		_, err := models.ParseClock(fl.Field().String())
		return err == nil
	})
}

// NewValidator returns a validator with the request validators registered.
func NewValidator() *validator.Validate {
	v := validator.New()
	RegisterValidators(v)
	return v
}
