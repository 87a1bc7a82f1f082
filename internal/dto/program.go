package dto

import "encoding/json"

// CreateProgramRequest carries the raw curriculum so it can be checked against the schema before decoding.
type CreateProgramRequest struct {
	Name       string          `json:"name" validate:"required,max=200"`
	Curriculum json.RawMessage `json:"curriculum" validate:"required"`
}
