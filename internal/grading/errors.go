package grading

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrGradeOutOfScale indicates a raw value that the coursework scale does not accept.
	ErrGradeOutOfScale = errors.New("grade is not in scale")
	// ErrRubricInvalid indicates rubric scores that do not match the rubric levels.
	ErrRubricInvalid = errors.New("rubric scores are invalid")
	// ErrRubricDefinition indicates a malformed rubric document.
	ErrRubricDefinition = errors.New("rubric definition is invalid")
	// ErrUnknownStage indicates a stage identifier the coursework does not use.
	ErrUnknownStage = errors.New("unknown stage identifier")
	// ErrStageFull indicates every initial marking stage already holds feedback.
	ErrStageFull = errors.New("all marking stages are taken")
	// ErrStageAllocated indicates stages are pre-allocated and cannot be reassigned.
	ErrStageAllocated = errors.New("marking stages are allocated")
)

// FieldError describes one offending field or rubric criterion.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// ValidationError bundles a cause with the fields that failed.
type ValidationError struct {
	Err    error
	Fields []FieldError
}

// NewValidationError builds a ValidationError around err.
func NewValidationError(err error, fields ...FieldError) error {
	return &ValidationError{Err: err, Fields: fields}
}

func (e *ValidationError) Error() string {
	message := "validation failed"
	if e.Err != nil {
		message = e.Err.Error()
	}
	if len(e.Fields) == 0 {
		return message
	}
	parts := make([]string, 0, len(e.Fields))
	for _, field := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field.Field, field.Error))
	}
	return message + " (" + strings.Join(parts, "; ") + ")"
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
