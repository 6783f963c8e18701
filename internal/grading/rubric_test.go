package grading

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/noah-isme/gema-coursework/internal/models"
)

const sampleRubric = `{
  "criteria": [
    {"id": "analysis", "description": "Depth of analysis", "levels": [{"score": 0}, {"score": 5}, {"score": 10}]},
    {"id": "style", "levels": [{"score": 0}, {"score": 2}, {"score": 4}]}
  ]
}`

func TestParseRubric(t *testing.T) {
	rubric, err := ParseRubric([]byte(sampleRubric))
	require.NoError(t, err)
	require.Len(t, rubric.Criteria, 2)
	require.Equal(t, 14.0, rubric.MaxScore())

	criterion, ok := rubric.Criterion("style")
	require.True(t, ok)
	require.True(t, criterion.HasLevel(2))
	require.False(t, criterion.HasLevel(3))
}

func TestParseRubricRejectsInvalidDocuments(t *testing.T) {
	cases := map[string]string{
		"empty":          ``,
		"not json":       `{criteria`,
		"no criteria":    `{"criteria": []}`,
		"negative score": `{"criteria": [{"id": "a", "levels": [{"score": -1}]}]}`,
		"missing levels": `{"criteria": [{"id": "a"}]}`,
		"duplicate ids":  `{"criteria": [{"id": "a", "levels": [{"score": 1}]}, {"id": "a", "levels": [{"score": 2}]}]}`,
	}
	for name, document := range cases {
		_, err := ParseRubric([]byte(document))
		require.ErrorIs(t, err, ErrRubricDefinition, name)

		var validationErr *ValidationError
		require.True(t, errors.As(err, &validationErr), name)
		require.NotEmpty(t, validationErr.Fields, name)
	}
}

func TestRubricScoreEnumeratesOffendingCriteria(t *testing.T) {
	rubric, err := ParseRubric([]byte(sampleRubric))
	require.NoError(t, err)

	total, err := rubric.Score(map[string]float64{"analysis": 10, "style": 2})
	require.NoError(t, err)
	require.Equal(t, 12.0, total)

	_, err = rubric.Score(map[string]float64{"analysis": 7, "extra": 1})
	require.ErrorIs(t, err, ErrRubricInvalid)

	var validationErr *ValidationError
	require.True(t, errors.As(err, &validationErr))
	fields := make([]string, 0, len(validationErr.Fields))
	for _, field := range validationErr.Fields {
		fields = append(fields, field.Field)
	}
	require.Equal(t, []string{"analysis", "style", "extra"}, fields)
}

func TestRubricScale(t *testing.T) {
	cw := models.Coursework{GradingMethod: models.GradingMethodRubric, Rubric: datatypes.JSON(sampleRubric)}
	scale, err := NewScale(cw, nil)
	require.NoError(t, err)
	require.Equal(t, ScaleRubric, scale.Kind)
	require.Equal(t, 14.0, scale.Max)

	total, err := scale.ValidateRubric(map[string]float64{"analysis": 5, "style": 4})
	require.NoError(t, err)
	require.Equal(t, 9.0, total)

	numeric, _ := NewScale(models.Coursework{}, nil)
	_, err = numeric.ValidateRubric(map[string]float64{"analysis": 5})
	require.ErrorIs(t, err, ErrRubricInvalid)
}
