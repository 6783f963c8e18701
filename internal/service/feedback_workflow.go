package service

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"

	"github.com/noah-isme/gema-coursework/internal/access"
	"github.com/noah-isme/gema-coursework/internal/dto"
	"github.com/noah-isme/gema-coursework/internal/grading"
	"github.com/noah-isme/gema-coursework/internal/models"
	"github.com/noah-isme/gema-coursework/internal/observability"
	"github.com/noah-isme/gema-coursework/internal/repository"
)

func (s *workflowService) AddFeedback(ctx context.Context, actor access.Actor, req dto.FeedbackRequest) (models.Feedback, error) {
	ctx, span := s.tracer.Start(ctx, "workflow.add_feedback", trace.WithAttributes(
		attribute.Int64("submission.id", int64(req.SubmissionID)),
		attribute.String("feedback.stage", req.Stage),
	))
	feedback, err := s.addFeedback(ctx, actor, req)
	s.finish(span, "add_feedback", err)
	return feedback, err
}

func (s *workflowService) addFeedback(ctx context.Context, actor access.Actor, req dto.FeedbackRequest) (models.Feedback, error) {
	if err := s.validate(req); err != nil {
		return models.Feedback{}, err
	}

	stage, err := grading.ParseStage(req.Stage)
	if err != nil {
		return models.Feedback{}, invalidField(grading.ErrUnknownStage, "stage", "is not a marking stage")
	}

	sctx, err := s.loadSubmission(ctx, req.SubmissionID)
	if err != nil {
		return models.Feedback{}, err
	}
	coursework := sctx.coursework
	if !grading.StageExists(coursework, stage) {
		return models.Feedback{}, invalidField(grading.ErrUnknownStage, "stage", fmt.Sprintf("%s is not used by this coursework", stage))
	}

	state := sctx.state()
	if state == grading.StatePublished {
		return models.Feedback{}, conflictState(ErrAlreadyPublished, "grades for submission %d were published", sctx.submission.ID)
	}
	if !grading.ReadyToGrade(coursework, &sctx.submission) {
		return models.Feedback{}, conflictState(ErrNotReady, "submission %d is not finalised", sctx.submission.ID)
	}

	if existing, ok := sctx.feedbackAt(stage); ok && existing.AssessorID == actor.ID {
		return s.editFeedback(ctx, actor, sctx, existing, updateFromRequest(req))
	}

	entity := sctx.entity()
	switch {
	case stage.IsInitial():
		stage, err = s.claimInitialStage(ctx, actor, sctx, stage)
		if err != nil {
			return models.Feedback{}, err
		}
	case stage == grading.StageFinalAgreed:
		if err := s.authorize(ctx, actor, access.ActionAddAgreedGrade, entity); err != nil {
			return models.Feedback{}, err
		}
		if existing, ok := sctx.feedbackAt(stage); ok {
			return s.editFeedback(ctx, actor, sctx, existing, updateFromRequest(req))
		}
		if state < grading.StateFullyGraded {
			return models.Feedback{}, conflictState(ErrNotReady, "all initial markers of submission %d must finalise first", sctx.submission.ID)
		}
	default:
		if err := s.authorize(ctx, actor, access.ActionAddModeratorGrade, entity); err != nil {
			return models.Feedback{}, err
		}
		if state < grading.StateFullyGraded {
			return models.Feedback{}, conflictState(ErrNotReady, "all initial markers of submission %d must finalise first", sctx.submission.ID)
		}
		if _, ok := sctx.feedbackAt(stage); ok {
			return models.Feedback{}, newError(KindConflict, nil, "stage %s of submission %d already has feedback", stage, sctx.submission.ID)
		}
	}

	grade, scores, err := s.judgeGrade(ctx, coursework, stage, req.Grade, req.RubricScores)
	if err != nil {
		return models.Feedback{}, err
	}
	if req.Finalised && grade == nil {
		return models.Feedback{}, invalidField(ErrGradeRequired, "grade", "is required to finalise feedback")
	}

	now := s.now()
	feedback := models.Feedback{
		SubmissionID:     sctx.submission.ID,
		StageIdentifier:  stage.String(),
		AssessorID:       actor.ID,
		Grade:            grade,
		RubricScores:     scores,
		FeedbackComment:  s.sanitize(req.Comment),
		Finalised:        req.Finalised,
		IsModeration:     stage == grading.StageModerator,
		IsFinalGrade:     stage == grading.StageFinalAgreed || (len(sctx.required) == 1 && stage == sctx.required[0]),
		TimeCreated:      now,
		TimeModified:     now,
		LastEditedByUser: actor.ID,
	}

	if err := s.repos.Feedbacks.Create(ctx, &feedback); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return models.Feedback{}, newError(KindConflict, err, "stage %s of submission %d already has feedback", stage, sctx.submission.ID)
		}
		return models.Feedback{}, fmt.Errorf("create feedback: %w", err)
	}

	s.committed(ctx, actor, WorkflowEvent{
		Type:         EventFeedbackCreated,
		CourseworkID: coursework.ID,
		SubmissionID: sctx.submission.ID,
		FeedbackID:   feedback.ID,
	}, "feedback", feedback.ID, map[string]interface{}{
		"stage":     feedback.StageIdentifier,
		"finalised": feedback.Finalised,
	}, sctx.submission.ID)

	if stage.IsInitial() && feedback.Finalised {
		s.autoAgreeAfter(ctx, sctx.submission.ID)
	}

	return feedback, nil
}

// claimInitialStage decides which assessor_n stage the actor may fill.
func (s *workflowService) claimInitialStage(ctx context.Context, actor access.Actor, sctx submissionContext, stage grading.Stage) (grading.Stage, error) {
	entity := sctx.entity()
	if err := s.authorize(ctx, actor, access.ActionAddInitialGrade, entity); err != nil {
		return "", err
	}
	if _, ok := sctx.feedbackAt(grading.StageFinalAgreed); ok {
		return "", conflictState(ErrAgreedGradeExists, "agreed grade exists; initial grades of submission %d are locked", sctx.submission.ID)
	}
	for _, feedback := range sctx.submission.Feedbacks {
		if grading.Stage(feedback.StageIdentifier).IsInitial() && feedback.AssessorID == actor.ID {
			return "", denied("user %d already marked submission %d at %s", actor.ID, sctx.submission.ID, feedback.StageIdentifier)
		}
	}
	if !containsStage(sctx.required, stage) {
		return "", invalidField(grading.ErrUnknownStage, "stage", fmt.Sprintf("%s is not in the marking sample", stage))
	}

	coursework := sctx.coursework
	_, taken := sctx.feedbackAt(stage)
	if coursework.AllocationEnabled {
		pair, err := s.repos.Allocations.Find(ctx, coursework.ID, sctx.submission.Owner(), stage.String())
		if err != nil {
			return "", fmt.Errorf("load allocation: %w", err)
		}
		if (pair == nil || pair.AssessorID != actor.ID) && !s.can(ctx, actor, access.ActionAdministerGrades, entity) {
			return "", newError(KindPermissionDenied, ErrStageAllocated, "stage %s is allocated to another assessor", stage)
		}
		if taken {
			return "", newError(KindConflict, ErrStageAllocated, "stage %s of submission %d already has feedback", stage, sctx.submission.ID)
		}
		return stage, nil
	}

	if !taken {
		return stage, nil
	}
	next, err := grading.NextAvailableStage(coursework, sctx.required, sctx.submission.Feedbacks)
	if err != nil {
		return "", conflictState(err, "all %d marking stages of submission %d are taken", len(sctx.required), sctx.submission.ID)
	}
	return next, nil
}

func containsStage(stages []grading.Stage, stage grading.Stage) bool {
	for _, candidate := range stages {
		if candidate == stage {
			return true
		}
	}
	return false
}

// judgeGrade validates the grade inputs against the coursework scale. Rubric
// courseworks take per-criterion scores for initial stages; agreed and
// moderator stages may also take a plain total.
func (s *workflowService) judgeGrade(ctx context.Context, coursework models.Coursework, stage grading.Stage, grade *float64, scores map[string]float64) (*float64, datatypes.JSONMap, error) {
	if grade == nil && len(scores) == 0 {
		return nil, nil, nil
	}

	scale, err := s.scaleFor(ctx, coursework)
	if err != nil {
		return nil, nil, err
	}

	if scale.Kind != grading.ScaleRubric {
		if len(scores) > 0 {
			return nil, nil, invalidField(grading.ErrRubricInvalid, "rubric_scores", "coursework is not graded with a rubric")
		}
		if err := scale.Validate(*grade); err != nil {
			return nil, nil, validationFailure(err)
		}
		value := *grade
		return &value, nil, nil
	}

	if len(scores) == 0 {
		if stage.IsInitial() {
			return nil, nil, invalidField(grading.ErrRubricInvalid, "rubric_scores", "select a level for every criterion")
		}
		if err := scale.Validate(*grade); err != nil {
			return nil, nil, validationFailure(err)
		}
		value := *grade
		return &value, nil, nil
	}

	total, err := scale.ValidateRubric(scores)
	if err != nil {
		return nil, nil, validationFailure(err)
	}
	stored := datatypes.JSONMap{}
	for id, score := range scores {
		stored[id] = score
	}
	return &total, stored, nil
}

func updateFromRequest(req dto.FeedbackRequest) dto.FeedbackUpdateRequest {
	update := dto.FeedbackUpdateRequest{
		Grade:        req.Grade,
		RubricScores: req.RubricScores,
	}
	if req.Comment != "" {
		comment := req.Comment
		update.Comment = &comment
	}
	if req.Finalised {
		finalised := true
		update.Finalised = &finalised
	}
	return update
}

func (s *workflowService) EditFeedback(ctx context.Context, actor access.Actor, feedbackID uint, req dto.FeedbackUpdateRequest) (models.Feedback, error) {
	ctx, span := s.tracer.Start(ctx, "workflow.edit_feedback", trace.WithAttributes(attribute.Int64("feedback.id", int64(feedbackID))))
	feedback, err := func() (models.Feedback, error) {
		feedback, sctx, err := s.loadFeedback(ctx, feedbackID)
		if err != nil {
			return models.Feedback{}, err
		}
		return s.editFeedback(ctx, actor, sctx, feedback, req)
	}()
	s.finish(span, "edit_feedback", err)
	return feedback, err
}

func (s *workflowService) loadFeedback(ctx context.Context, feedbackID uint) (models.Feedback, submissionContext, error) {
	feedback, err := s.repos.Feedbacks.GetByID(ctx, feedbackID)
	if err != nil {
		if repository.IsNotFound(err) {
			return models.Feedback{}, submissionContext{}, newError(KindNotFound, ErrFeedbackNotFound, "feedback %d does not exist", feedbackID)
		}
		return models.Feedback{}, submissionContext{}, fmt.Errorf("load feedback %d: %w", feedbackID, err)
	}
	sctx, err := s.loadSubmission(ctx, feedback.SubmissionID)
	if err != nil {
		return models.Feedback{}, submissionContext{}, err
	}
	return feedback, sctx, nil
}

func (s *workflowService) editFeedback(ctx context.Context, actor access.Actor, sctx submissionContext, feedback models.Feedback, req dto.FeedbackUpdateRequest) (models.Feedback, error) {
	if err := s.validate(req); err != nil {
		return models.Feedback{}, err
	}

	stage := grading.Stage(feedback.StageIdentifier)
	entity := sctx.entity()
	if sctx.state() == grading.StatePublished {
		return models.Feedback{}, conflictState(ErrAlreadyPublished, "grades for submission %d were published", sctx.submission.ID)
	}

	administer := s.can(ctx, actor, access.ActionAdministerGrades, entity)
	switch {
	case administer:
	case feedback.IsAutomatic() && stage == grading.StageFinalAgreed:
		if err := s.authorize(ctx, actor, access.ActionAddAgreedGrade, entity); err != nil {
			return models.Feedback{}, err
		}
	case feedback.AssessorID == actor.ID:
		if feedback.Finalised {
			return models.Feedback{}, denied("feedback %d is finalised", feedback.ID)
		}
	default:
		return models.Feedback{}, denied("feedback %d belongs to another assessor", feedback.ID)
	}

	if stage.IsInitial() {
		if _, ok := sctx.feedbackAt(grading.StageFinalAgreed); ok {
			return models.Feedback{}, conflictState(ErrAgreedGradeExists, "agreed grade exists; initial grades of submission %d are locked", sctx.submission.ID)
		}
	}

	if req.Grade != nil || len(req.RubricScores) > 0 {
		grade, scores, err := s.judgeGrade(ctx, sctx.coursework, stage, req.Grade, req.RubricScores)
		if err != nil {
			return models.Feedback{}, err
		}
		feedback.Grade = grade
		feedback.RubricScores = scores
	}
	if req.Comment != nil {
		feedback.FeedbackComment = s.sanitize(*req.Comment)
	}
	if req.Finalised != nil {
		if feedback.Finalised && !*req.Finalised && !administer {
			return models.Feedback{}, denied("user %d may not reopen finalised feedback", actor.ID)
		}
		feedback.Finalised = *req.Finalised
	}
	if feedback.Finalised && feedback.Grade == nil {
		return models.Feedback{}, invalidField(ErrGradeRequired, "grade", "is required to finalise feedback")
	}

	feedback.LastEditedByUser = actor.ID
	feedback.TimeModified = s.now()
	if feedback.AssessorID == 0 {
		feedback.AssessorID = actor.ID
	}

	if err := s.repos.Feedbacks.Update(ctx, &feedback); err != nil {
		return models.Feedback{}, fmt.Errorf("update feedback: %w", err)
	}

	s.committed(ctx, actor, WorkflowEvent{
		Type:         EventFeedbackUpdated,
		CourseworkID: sctx.coursework.ID,
		SubmissionID: sctx.submission.ID,
		FeedbackID:   feedback.ID,
	}, "feedback", feedback.ID, map[string]interface{}{
		"stage":     feedback.StageIdentifier,
		"finalised": feedback.Finalised,
	}, sctx.submission.ID)

	if stage.IsInitial() && feedback.Finalised {
		s.autoAgreeAfter(ctx, sctx.submission.ID)
	}

	return feedback, nil
}

func (s *workflowService) ModerateFeedback(ctx context.Context, actor access.Actor, req dto.ModerationRequest) (models.Moderation, error) {
	ctx, span := s.tracer.Start(ctx, "workflow.moderate_feedback", trace.WithAttributes(attribute.Int64("feedback.id", int64(req.FeedbackID))))
	moderation, err := s.moderateFeedback(ctx, actor, req)
	s.finish(span, "moderate_feedback", err)
	return moderation, err
}

func (s *workflowService) moderateFeedback(ctx context.Context, actor access.Actor, req dto.ModerationRequest) (models.Moderation, error) {
	if err := s.validate(req); err != nil {
		return models.Moderation{}, err
	}

	feedback, sctx, err := s.loadFeedback(ctx, req.FeedbackID)
	if err != nil {
		return models.Moderation{}, err
	}
	if !sctx.coursework.ModerationAgreementEnabled {
		return models.Moderation{}, conflictState(ErrFeatureDisabled, "moderation agreement is not enabled for coursework %d", sctx.coursework.ID)
	}
	if grading.Stage(feedback.StageIdentifier) != grading.AssessorStage(1) || !feedback.Finalised {
		return models.Moderation{}, conflictState(ErrNotReady, "only finalised assessor_1 feedback can be moderated")
	}
	if sctx.state() == grading.StatePublished {
		return models.Moderation{}, conflictState(ErrAlreadyPublished, "grades for submission %d were published", sctx.submission.ID)
	}

	entity := sctx.entity()
	if err := s.authorize(ctx, actor, access.ActionModerate, entity); err != nil {
		return models.Moderation{}, err
	}
	if feedback.AssessorID == actor.ID {
		return models.Moderation{}, denied("user %d may not moderate their own feedback", actor.ID)
	}

	existing, err := s.repos.Moderations.FindByFeedback(ctx, feedback.ID)
	if err != nil {
		return models.Moderation{}, fmt.Errorf("load moderation: %w", err)
	}
	moderation := models.Moderation{FeedbackID: feedback.ID, ModeratorID: actor.ID}
	if existing != nil {
		if existing.ModeratorID != actor.ID && !s.can(ctx, actor, access.ActionAdministerGrades, entity) {
			return models.Moderation{}, denied("feedback %d is moderated by another user", feedback.ID)
		}
		moderation = *existing
	}
	moderation.Verdict = req.Verdict
	moderation.Comment = s.sanitize(req.Comment)
	moderation.LastEditedBy = actor.ID

	if err := s.repos.Moderations.Save(ctx, &moderation); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return models.Moderation{}, newError(KindConflict, err, "feedback %d is already moderated", feedback.ID)
		}
		return models.Moderation{}, fmt.Errorf("save moderation: %w", err)
	}

	s.committed(ctx, actor, WorkflowEvent{
		Type:         EventFeedbackModerated,
		CourseworkID: sctx.coursework.ID,
		SubmissionID: sctx.submission.ID,
		FeedbackID:   feedback.ID,
	}, "moderation", moderation.ID, map[string]interface{}{
		"verdict": moderation.Verdict,
	}, sctx.submission.ID)

	return moderation, nil
}

func (s *workflowService) GradeFor(ctx context.Context, actor access.Actor, submissionID uint) (dto.GradeResponse, error) {
	sctx, err := s.loadSubmission(ctx, submissionID)
	if err != nil {
		return dto.GradeResponse{}, err
	}

	state := sctx.state()
	owner := sctx.submission.Owner()
	ownWork := !owner.IsGroup() && owner.ID == actor.ID
	if !(ownWork && state == grading.StatePublished) {
		if err := s.authorize(ctx, actor, access.ActionViewGrades, sctx.entity()); err != nil {
			return dto.GradeResponse{}, err
		}
	}

	final := grading.FinalFeedback(sctx.required, sctx.submission.Feedbacks)
	if final == nil || final.Grade == nil {
		return dto.GradeResponse{}, conflictState(ErrNotReady, "submission %d has no final grade yet", submissionID)
	}

	scale, err := s.scaleFor(ctx, sctx.coursework)
	if err != nil {
		return dto.GradeResponse{}, err
	}

	raw := *final.Grade
	deadline := sctx.deadline()
	capped := grading.CapForLateness(sctx.coursework, raw, sctx.submission.TimeSubmitted, deadline)
	observability.Logger(ctx, s.logger).Debug().
		Uint("submission_id", submissionID).
		Float64("raw", raw).
		Float64("capped", capped).
		Msg("resolved final grade")

	return dto.GradeResponse{
		SubmissionID: submissionID,
		FeedbackID:   final.ID,
		Stage:        final.StageIdentifier,
		Raw:          raw,
		Capped:       capped,
		Display:      scale.Display(capped),
		Automatic:    final.IsAutomatic(),
		Late:         grading.LateBy(sctx.submission.TimeSubmitted, deadline) > 0,
	}, nil
}
