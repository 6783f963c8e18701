package service

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-coursework/internal/dto"
	"github.com/noah-isme/gema-coursework/internal/grading"
)

func TestWorkflowErrorMatchesKindAndCause(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", newError(KindLateSubmission, ErrTooLate, "deadline was %s", "yesterday"))

	require.ErrorIs(t, err, ErrLateSubmission)
	require.ErrorIs(t, err, ErrTooLate)
	require.NotErrorIs(t, err, ErrStateConflict)
	require.Equal(t, KindLateSubmission, KindOf(err))
	require.Equal(t, ErrorKind(""), KindOf(errors.New("database down")))
	require.Contains(t, err.Error(), "late_submission: deadline was yesterday")
}

func TestValidationFailureListsFields(t *testing.T) {
	validate := validator.New(validator.WithRequiredStructEnabled())
	err := validationFailure(validate.Struct(dto.SubmitRequest{Owner: dto.AllocatableRef{ID: 1, Type: "team"}}))

	var workflowErr *WorkflowError
	require.True(t, errors.As(err, &workflowErr))
	require.Equal(t, KindValidation, workflowErr.Kind)

	fields := make([]string, 0, len(workflowErr.Fields))
	for _, field := range workflowErr.Fields {
		fields = append(fields, field.Field)
	}
	require.Contains(t, fields, "SubmitRequest.CourseworkID")
	require.Contains(t, fields, "SubmitRequest.Owner.Type")
	require.Contains(t, fields, "SubmitRequest.FilesRef")
}

func TestValidationFailureKeepsGradeFields(t *testing.T) {
	cause := grading.NewValidationError(grading.ErrGradeOutOfScale, grading.FieldError{Field: "grade", Error: "must be between 0 and 100"})
	err := validationFailure(cause)

	require.ErrorIs(t, err, ErrValidation)
	require.ErrorIs(t, err, grading.ErrGradeOutOfScale)
	require.Contains(t, err.Error(), "grade: must be between 0 and 100")

	field := invalidField(ErrGradeRequired, "grade", "is required")
	require.ErrorIs(t, field, ErrGradeRequired)
	require.ErrorIs(t, field, ErrValidation)
}
