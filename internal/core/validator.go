package core

import (
	"github.com/go-playground/validator/v10"

	"capacityd/internal/types"
)

// Validator wraps go-playground/validator for request body validation.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a Validator with struct-level validation enabled.
func NewValidator() *Validator {
	return &Validator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// ValidateStruct validates a request struct against its tags, translating
// failures into a 400 AppError with per-field details.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	details := map[string]any{}
	if fieldErrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range fieldErrs {
			details[fe.Field()] = fe.Tag()
		}
	}

	return &types.AppError{
		Code:    types.ErrCodeValidationMissingField,
		Message: "request failed validation",
		Err:     err,
		Details: details,
	}
}
