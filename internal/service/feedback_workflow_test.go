package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-coursework/internal/dto"
	"github.com/noah-isme/gema-coursework/internal/grading"
	"github.com/noah-isme/gema-coursework/internal/models"
)

const essayRubric = `{
  "criteria": [
    {"id": "analysis", "levels": [{"score": 0}, {"score": 5}, {"score": 10}]},
    {"id": "style", "levels": [{"score": 0}, {"score": 2}, {"score": 4}]}
  ]
}`

func TestAutoAgreeCreatesAgreedGrade(t *testing.T) {
	f := newWorkflowFixture(t)
	coursework := f.coursework(doubleMarked(5))
	submission := f.submit(student, coursework.ID, true)

	f.mark(marker1, submission.ID, "assessor_1", 70, true)
	require.Equal(t, "partially_graded", f.status(submission.ID).State)

	second := f.mark(marker2, submission.ID, "assessor_1", 74, true)
	require.Equal(t, "assessor_2", second.StageIdentifier, "a taken stage moves to the next free one")

	status := f.status(submission.ID)
	require.Equal(t, "final_graded", status.State)
	require.Equal(t, 3, status.FeedbackCount)

	grade, err := f.svc.GradeFor(context.Background(), manager, submission.ID)
	require.NoError(t, err)
	require.Equal(t, 72.0, grade.Raw)
	require.Equal(t, "final_agreed_1", grade.Stage)
	require.Equal(t, "72", grade.Display)
	require.True(t, grade.Automatic)
	require.Contains(t, f.events.types(), EventFeedbackAutoAgreed)

	entries, err := f.activity.ListForEntity(context.Background(), "feedback", grade.FeedbackID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "system", entries[0].ActorRole)

	_, err = f.svc.AddFeedback(context.Background(), marker3, dto.FeedbackRequest{SubmissionID: submission.ID, Stage: "assessor_1", Grade: gradePtr(50)})
	require.ErrorIs(t, err, ErrStateConflict)
	require.ErrorIs(t, err, ErrAgreedGradeExists)
}

func TestAutoAgreeOnAgreedSubmissionIsNoop(t *testing.T) {
	f := newWorkflowFixture(t)
	coursework := f.coursework(doubleMarked(5))
	submission := f.submit(student, coursework.ID, true)
	f.mark(marker1, submission.ID, "assessor_1", 70, true)
	f.mark(marker2, submission.ID, "assessor_2", 72, true)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		agreed, err := f.svc.TryAutoAgree(ctx, submission.ID)
		require.NoError(t, err)
		require.Nil(t, agreed)
	}

	var count int64
	require.NoError(t, f.db.Model(&models.Feedback{}).
		Where("submission_id = ? AND stage_identifier = ?", submission.ID, "final_agreed_1").
		Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestAutoAgreeSkipsWideSpread(t *testing.T) {
	f := newWorkflowFixture(t)
	coursework := f.coursework(doubleMarked(5))
	submission := f.submit(student, coursework.ID, true)

	f.mark(marker1, submission.ID, "assessor_1", 60, true)
	f.mark(marker2, submission.ID, "assessor_2", 90, true)

	agreed, err := f.svc.TryAutoAgree(context.Background(), submission.ID)
	require.NoError(t, err)
	require.Nil(t, agreed)
	require.Equal(t, "fully_graded", f.status(submission.ID).State)

	_, err = f.svc.GradeFor(context.Background(), manager, submission.ID)
	require.ErrorIs(t, err, ErrStateConflict)
	require.ErrorIs(t, err, ErrNotReady)

	final := f.mark(marker1, submission.ID, "final_agreed_1", 75, true)
	require.True(t, final.IsFinalGrade)

	grade, err := f.svc.GradeFor(context.Background(), manager, submission.ID)
	require.NoError(t, err)
	require.Equal(t, 75.0, grade.Raw)
	require.False(t, grade.Automatic)
}

func TestAgreedGradeRequiresAllMarkers(t *testing.T) {
	f := newWorkflowFixture(t)
	coursework := f.coursework(func(c *models.Coursework) { c.NumberOfMarkers = 2 })
	submission := f.submit(student, coursework.ID, true)
	f.mark(marker1, submission.ID, "assessor_1", 60, true)

	_, err := f.svc.AddFeedback(context.Background(), marker1, dto.FeedbackRequest{SubmissionID: submission.ID, Stage: "final_agreed_1", Grade: gradePtr(60), Finalised: true})
	require.ErrorIs(t, err, ErrStateConflict)
	require.ErrorIs(t, err, ErrNotReady)
}

func TestStageFullWhenEveryMarkerIsTaken(t *testing.T) {
	f := newWorkflowFixture(t)
	coursework := f.coursework(func(c *models.Coursework) { c.NumberOfMarkers = 2 })
	submission := f.submit(student, coursework.ID, true)

	f.mark(marker1, submission.ID, "assessor_1", 60, false)
	f.mark(marker2, submission.ID, "assessor_1", 62, false)

	_, err := f.svc.AddFeedback(context.Background(), marker3, dto.FeedbackRequest{SubmissionID: submission.ID, Stage: "assessor_2", Grade: gradePtr(64)})
	require.ErrorIs(t, err, ErrStateConflict)
	require.ErrorIs(t, err, ErrStageFull)
}

func TestAssessorMarksOneInitialStage(t *testing.T) {
	f := newWorkflowFixture(t)
	coursework := f.coursework(func(c *models.Coursework) { c.NumberOfMarkers = 2 })
	submission := f.submit(student, coursework.ID, true)
	first := f.mark(marker1, submission.ID, "assessor_1", 60, false)

	_, err := f.svc.AddFeedback(context.Background(), marker1, dto.FeedbackRequest{SubmissionID: submission.ID, Stage: "assessor_2", Grade: gradePtr(61)})
	require.ErrorIs(t, err, ErrPermissionDenied)

	updated := f.mark(marker1, submission.ID, "assessor_1", 65, false)
	require.Equal(t, first.ID, updated.ID, "re-marking the own stage edits the feedback")
	require.Equal(t, 65.0, updated.GradeValue())
	require.Equal(t, "<p>Solid work</p>", updated.FeedbackComment)
}

func TestFeedbackInputValidation(t *testing.T) {
	f := newWorkflowFixture(t)
	coursework := f.coursework(nil)
	submission := f.submit(student, coursework.ID, true)
	ctx := context.Background()

	_, err := f.svc.AddFeedback(ctx, marker1, dto.FeedbackRequest{SubmissionID: submission.ID, Stage: "assessor_1", Grade: gradePtr(120)})
	require.ErrorIs(t, err, ErrValidation)
	require.ErrorIs(t, err, grading.ErrGradeOutOfScale)

	_, err = f.svc.AddFeedback(ctx, marker1, dto.FeedbackRequest{SubmissionID: submission.ID, Stage: "assessor_1", Finalised: true})
	require.ErrorIs(t, err, ErrValidation)
	require.ErrorIs(t, err, ErrGradeRequired)

	_, err = f.svc.AddFeedback(ctx, marker1, dto.FeedbackRequest{SubmissionID: submission.ID, Stage: "moderator", Grade: gradePtr(50)})
	require.ErrorIs(t, err, ErrValidation, "single-marker courseworks have no moderator stage")

	_, err = f.svc.AddFeedback(ctx, marker1, dto.FeedbackRequest{SubmissionID: submission.ID, Stage: "assessor_1", RubricScores: map[string]float64{"analysis": 5}})
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.AddFeedback(ctx, student, dto.FeedbackRequest{SubmissionID: submission.ID, Stage: "assessor_1", Grade: gradePtr(50)})
	require.ErrorIs(t, err, ErrPermissionDenied)

	require.ErrorIs(t, f.svc.ValidateGrade(ctx, coursework.ID, 101), ErrValidation)
	require.NoError(t, f.svc.ValidateGrade(ctx, coursework.ID, 99.5))
}

func TestDraftsCannotBeGradedUnlessAllowed(t *testing.T) {
	f := newWorkflowFixture(t)
	strict := f.coursework(nil)
	draft := f.submit(student, strict.ID, false)

	_, err := f.svc.AddFeedback(context.Background(), marker1, dto.FeedbackRequest{SubmissionID: draft.ID, Stage: "assessor_1", Grade: gradePtr(50)})
	require.ErrorIs(t, err, ErrStateConflict)
	require.ErrorIs(t, err, ErrNotReady)

	relaxed := f.coursework(func(c *models.Coursework) { c.AllowGradingDrafts = true })
	other := f.submit(student, relaxed.ID, false)
	f.mark(marker1, other.ID, "assessor_1", 50, false)
}

func TestEditFeedbackPermissions(t *testing.T) {
	f := newWorkflowFixture(t)
	coursework := f.coursework(nil)
	submission := f.submit(student, coursework.ID, true)
	feedback := f.mark(marker1, submission.ID, "assessor_1", 70, true)
	ctx := context.Background()

	_, err := f.svc.EditFeedback(ctx, marker1, feedback.ID, dto.FeedbackUpdateRequest{Grade: gradePtr(71)})
	require.ErrorIs(t, err, ErrPermissionDenied, "finalised feedback is locked for its marker")

	_, err = f.svc.EditFeedback(ctx, marker2, feedback.ID, dto.FeedbackUpdateRequest{Grade: gradePtr(71)})
	require.ErrorIs(t, err, ErrPermissionDenied)

	edited, err := f.svc.EditFeedback(ctx, manager, feedback.ID, dto.FeedbackUpdateRequest{Grade: gradePtr(68)})
	require.NoError(t, err)
	require.Equal(t, 68.0, edited.GradeValue())
	require.Equal(t, manager.ID, edited.LastEditedByUser)
	require.Equal(t, marker1.ID, edited.AssessorID)

	_, err = f.svc.EditFeedback(ctx, manager, 999, dto.FeedbackUpdateRequest{})
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, err, ErrFeedbackNotFound)
}

func TestGradeForAppliesLatenessCap(t *testing.T) {
	f := newWorkflowFixture(t)
	coursework := f.coursework(func(c *models.Coursework) {
		c.StartDate = f.now.Add(-48 * time.Hour)
		c.Deadline = f.now.Add(-time.Hour)
		c.CapLateGrades = true
		c.LateGradeCap = 40
	})
	submission := f.submit(student, coursework.ID, false)
	f.mark(marker1, submission.ID, "assessor_1", 75, true)

	grade, err := f.svc.GradeFor(context.Background(), manager, submission.ID)
	require.NoError(t, err)
	require.Equal(t, 75.0, grade.Raw)
	require.Equal(t, 40.0, grade.Capped)
	require.Equal(t, "40", grade.Display)
	require.True(t, grade.Late)

	_, err = f.svc.GradeFor(context.Background(), student, submission.ID)
	require.ErrorIs(t, err, ErrPermissionDenied, "students only see published grades")
}

func TestOrdinalScaleGrades(t *testing.T) {
	f := newWorkflowFixture(t)
	scale := models.GradeScale{Name: "Classes", Scale: "Fail, Pass, Merit, Distinction"}
	require.NoError(t, f.db.Create(&scale).Error)
	coursework := f.coursework(func(c *models.Coursework) { c.Grade = -int(scale.ID) })
	submission := f.submit(student, coursework.ID, true)

	_, err := f.svc.AddFeedback(context.Background(), marker1, dto.FeedbackRequest{SubmissionID: submission.ID, Stage: "assessor_1", Grade: gradePtr(2.5)})
	require.ErrorIs(t, err, ErrValidation)

	f.mark(marker1, submission.ID, "assessor_1", 3, true)
	grade, err := f.svc.GradeFor(context.Background(), manager, submission.ID)
	require.NoError(t, err)
	require.Equal(t, "Merit", grade.Display)
}

func TestRubricGrading(t *testing.T) {
	f := newWorkflowFixture(t)
	coursework := f.coursework(nil)
	ctx := context.Background()

	_, err := f.svc.SaveRubric(ctx, marker1, dto.RubricRequest{CourseworkID: coursework.ID, Definition: json.RawMessage(essayRubric)})
	require.ErrorIs(t, err, ErrPermissionDenied)

	_, err = f.svc.SaveRubric(ctx, manager, dto.RubricRequest{CourseworkID: coursework.ID, Definition: json.RawMessage(`{"criteria": []}`)})
	require.ErrorIs(t, err, ErrValidation)

	saved, err := f.svc.SaveRubric(ctx, manager, dto.RubricRequest{CourseworkID: coursework.ID, Definition: json.RawMessage(essayRubric)})
	require.NoError(t, err)
	require.Equal(t, models.GradingMethodRubric, saved.GradingMethod)

	submission := f.submit(student, coursework.ID, true)
	_, err = f.svc.AddFeedback(ctx, marker1, dto.FeedbackRequest{SubmissionID: submission.ID, Stage: "assessor_1", RubricScores: map[string]float64{"analysis": 7, "style": 2}})
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.AddFeedback(ctx, marker1, dto.FeedbackRequest{SubmissionID: submission.ID, Stage: "assessor_1", Grade: gradePtr(12)})
	require.ErrorIs(t, err, ErrValidation, "initial rubric marking needs per-criterion scores")

	feedback, err := f.svc.AddFeedback(ctx, marker1, dto.FeedbackRequest{
		SubmissionID: submission.ID,
		Stage:        "assessor_1",
		RubricScores: map[string]float64{"analysis": 10, "style": 2},
		Finalised:    true,
	})
	require.NoError(t, err)
	require.Equal(t, 12.0, feedback.GradeValue())
	require.Len(t, feedback.RubricScores, 2)

	require.ErrorIs(t, f.svc.ValidateGrade(ctx, coursework.ID, 12), ErrValidation)

	_, err = f.svc.SaveRubric(ctx, manager, dto.RubricRequest{CourseworkID: coursework.ID, Definition: json.RawMessage(essayRubric)})
	require.ErrorIs(t, err, ErrStateConflict, "rubric is frozen once marking starts")
}

func TestModerationBlocksPublishingOnDisagreement(t *testing.T) {
	f := newWorkflowFixture(t)
	coursework := f.coursework(func(c *models.Coursework) { c.ModerationAgreementEnabled = true })
	submission := f.submit(student, coursework.ID, true)
	feedback := f.mark(marker1, submission.ID, "assessor_1", 70, true)
	ctx := context.Background()

	_, err := f.svc.ModerateFeedback(ctx, marker1, dto.ModerationRequest{FeedbackID: feedback.ID, Verdict: "agreed"})
	require.ErrorIs(t, err, ErrPermissionDenied)

	disagreed, err := f.svc.ModerateFeedback(ctx, marker2, dto.ModerationRequest{FeedbackID: feedback.ID, Verdict: "disagreed", Comment: "Too generous"})
	require.NoError(t, err)

	result, err := f.svc.Publish(ctx, manager, coursework.ID)
	require.NoError(t, err)
	require.Equal(t, 0, result.Published)
	require.Equal(t, 1, result.Skipped)

	agreed, err := f.svc.ModerateFeedback(ctx, marker2, dto.ModerationRequest{FeedbackID: feedback.ID, Verdict: "agreed"})
	require.NoError(t, err)
	require.Equal(t, disagreed.ID, agreed.ID)

	result, err = f.svc.Publish(ctx, manager, coursework.ID)
	require.NoError(t, err)
	require.Equal(t, 1, result.Published)
}
