package grading

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-coursework/internal/models"
)

func grade(v float64) *float64 {
	return &v
}

func TestDeriveStateProgression(t *testing.T) {
	required := InitialStages(2)
	submission := &models.Submission{ID: 1}

	require.Equal(t, StateNotSubmitted, DeriveState(nil, required, nil))
	require.Equal(t, StateSubmitted, DeriveState(submission, required, nil))

	feedbacks := []models.Feedback{{StageIdentifier: "assessor_1", Grade: grade(70), Finalised: true}}
	require.Equal(t, StatePartiallyGraded, DeriveState(submission, required, feedbacks))

	feedbacks = append(feedbacks, models.Feedback{StageIdentifier: "assessor_2", Grade: grade(74), Finalised: true})
	require.Equal(t, StateFullyGraded, DeriveState(submission, required, feedbacks))

	feedbacks = append(feedbacks, models.Feedback{StageIdentifier: "final_agreed_1", Grade: grade(72)})
	require.Equal(t, StateFullyGraded, DeriveState(submission, required, feedbacks), "agreed feedback must be finalised")

	feedbacks[2].Finalised = true
	require.Equal(t, StateFinalGraded, DeriveState(submission, required, feedbacks))

	published := time.Now()
	submission.FirstPublished = &published
	require.Equal(t, StatePublished, DeriveState(submission, required, feedbacks))
	require.Equal(t, "published", StatePublished.String())
}

func TestSingleMarkerFinalFeedback(t *testing.T) {
	required := InitialStages(1)
	submission := &models.Submission{ID: 1}
	feedbacks := []models.Feedback{{ID: 9, StageIdentifier: "assessor_1", Grade: grade(65)}}

	require.Nil(t, FinalFeedback(required, feedbacks))
	require.Equal(t, StatePartiallyGraded, DeriveState(submission, required, feedbacks))

	feedbacks[0].Finalised = true
	final := FinalFeedback(required, feedbacks)
	require.NotNil(t, final)
	require.Equal(t, uint(9), final.ID)
	require.Equal(t, StateFinalGraded, DeriveState(submission, required, feedbacks))
}

func TestReadyToGradeAndUnfinalise(t *testing.T) {
	draft := &models.Submission{ID: 1}
	require.False(t, ReadyToGrade(models.Coursework{}, draft))
	require.True(t, ReadyToGrade(models.Coursework{AllowGradingDrafts: true}, draft))

	final := &models.Submission{ID: 1, Finalised: models.AutoFinalised}
	require.True(t, ReadyToGrade(models.Coursework{}, final))
	require.True(t, CanBeUnfinalised(final, nil))
	require.False(t, CanBeUnfinalised(final, []models.Feedback{{StageIdentifier: "assessor_1"}}))
	require.False(t, CanBeUnfinalised(draft, nil))
}
