package contract

import "errors"

var (
	ErrModelInvoke       = errors.New("model invoke failed")
	ErrSchemaViolation   = errors.New("model response violates schema")
	ErrPromptMissing     = errors.New("required prompt is missing")
	ErrValidation        = errors.New("validation failed")
	ErrAccountNotFound   = errors.New("account not found for tenant")
	ErrNotFound          = errors.New("record not found")
	ErrInvalidTransition = errors.New("invalid state transition")
)
