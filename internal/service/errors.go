package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/gema-coursework/internal/grading"
)

// ErrorKind classifies expected workflow failures.
type ErrorKind string

const (
	KindValidation       ErrorKind = "validation"
	KindPermissionDenied ErrorKind = "permission_denied"
	KindLateSubmission   ErrorKind = "late_submission"
	KindStateConflict    ErrorKind = "state_conflict"
	KindNotFound         ErrorKind = "not_found"
	KindConflict         ErrorKind = "conflict"
)

// WorkflowError is returned for every expected, recoverable failure. Reason
// is human readable; Fields lists offending inputs for validation failures.
type WorkflowError struct {
	Kind   ErrorKind
	Reason string
	Fields []grading.FieldError
	Err    error
}

func (e *WorkflowError) Error() string {
	message := string(e.Kind)
	switch {
	case e.Reason != "":
		message += ": " + e.Reason
	case e.Err != nil:
		message += ": " + e.Err.Error()
	}
	if len(e.Fields) > 0 {
		parts := make([]string, 0, len(e.Fields))
		for _, field := range e.Fields {
			parts = append(parts, field.Field+": "+field.Error)
		}
		message += " (" + strings.Join(parts, "; ") + ")"
	}
	return message
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels below regardless of reason.
func (e *WorkflowError) Is(target error) bool {
	sentinel, ok := target.(*WorkflowError)
	if !ok {
		return false
	}
	return sentinel.Reason == "" && sentinel.Err == nil && sentinel.Kind == e.Kind
}

// Kind sentinels, matched with errors.Is.
var (
	ErrValidation       = &WorkflowError{Kind: KindValidation}
	ErrPermissionDenied = &WorkflowError{Kind: KindPermissionDenied}
	ErrLateSubmission   = &WorkflowError{Kind: KindLateSubmission}
	ErrStateConflict    = &WorkflowError{Kind: KindStateConflict}
	ErrNotFound         = &WorkflowError{Kind: KindNotFound}
	ErrConflict         = &WorkflowError{Kind: KindConflict}
)

// Causes carried inside WorkflowError, also matched with errors.Is.
var (
	ErrNotOpen             = errors.New("coursework is not open")
	ErrTooLate             = errors.New("deadline has passed")
	ErrAlreadyPublished    = errors.New("grades already published")
	ErrNotReady            = errors.New("submission is not ready to grade")
	ErrSubmissionFinalised = errors.New("submission is finalised")
	ErrAgreedGradeExists   = errors.New("agreed grade exists")
	ErrFeatureDisabled     = errors.New("feature is disabled for this coursework")
	ErrCourseworkNotFound  = errors.New("coursework not found")
	ErrSubmissionNotFound  = errors.New("submission not found")
	ErrFeedbackNotFound    = errors.New("feedback not found")
	ErrForbidden           = errors.New("forbidden")
	ErrGradeRequired       = errors.New("grade is required")
	ErrStageFull           = grading.ErrStageFull
	ErrStageAllocated      = grading.ErrStageAllocated
)

func newError(kind ErrorKind, cause error, format string, args ...interface{}) error {
	return &WorkflowError{Kind: kind, Reason: fmt.Sprintf(format, args...), Err: cause}
}

func denied(format string, args ...interface{}) error {
	return newError(KindPermissionDenied, ErrForbidden, format, args...)
}

func conflictState(cause error, format string, args ...interface{}) error {
	return newError(KindStateConflict, cause, format, args...)
}

// validationFailure converts validator and grading failures into a
// WorkflowError that enumerates the offending fields.
func validationFailure(err error) error {
	var fieldErrors validator.ValidationErrors
	if errors.As(err, &fieldErrors) {
		fields := make([]grading.FieldError, 0, len(fieldErrors))
		for _, fieldErr := range fieldErrors {
			fields = append(fields, grading.FieldError{
				Field: fieldErr.Namespace(),
				Error: "failed on " + fieldErr.Tag(),
			})
		}
		return &WorkflowError{Kind: KindValidation, Reason: "invalid request", Fields: fields, Err: err}
	}

	var gradeErr *grading.ValidationError
	if errors.As(err, &gradeErr) {
		reason := "invalid grade"
		if gradeErr.Err != nil {
			reason = gradeErr.Err.Error()
		}
		return &WorkflowError{Kind: KindValidation, Reason: reason, Fields: gradeErr.Fields, Err: err}
	}

	return &WorkflowError{Kind: KindValidation, Reason: err.Error(), Err: err}
}

func invalidField(cause error, field, message string) error {
	return &WorkflowError{
		Kind:   KindValidation,
		Reason: cause.Error(),
		Fields: []grading.FieldError{{Field: field, Error: message}},
		Err:    cause,
	}
}

// KindOf returns the workflow kind of err, or empty for unexpected failures.
func KindOf(err error) ErrorKind {
	var workflowErr *WorkflowError
	if errors.As(err, &workflowErr) {
		return workflowErr.Kind
	}
	return ""
}
