package service

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-coursework/internal/access"
	"github.com/noah-isme/gema-coursework/internal/dto"
	"github.com/noah-isme/gema-coursework/internal/grading"
	"github.com/noah-isme/gema-coursework/internal/models"
	"github.com/noah-isme/gema-coursework/internal/observability"
	"github.com/noah-isme/gema-coursework/internal/repository"
)

func ownerEntity(coursework models.Coursework, owner models.Allocatable, submissionID uint) access.Entity {
	entity := access.Entity{Type: "submission", ID: submissionID, CourseworkID: coursework.ID, OwnerID: owner.ID}
	if owner.IsGroup() {
		entity.Type = "group_submission"
	}
	return entity
}

// authorizeOwner lets the owner (or a group member, per the oracle) perform
// action, and staff holding submit_on_behalf perform it for anyone. The
// returned flag reports the on-behalf path.
func (s *workflowService) authorizeOwner(ctx context.Context, actor access.Actor, action access.Action, coursework models.Coursework, owner models.Allocatable, submissionID uint) (bool, error) {
	entity := ownerEntity(coursework, owner, submissionID)
	if s.can(ctx, actor, access.ActionSubmitOnBehalf, entity) {
		return true, nil
	}
	self := !owner.IsGroup() && owner.ID == actor.ID
	if (self || owner.IsGroup()) && s.can(ctx, actor, action, entity) {
		return false, nil
	}
	return false, denied("user %d may not %s for %s", actor.ID, action, owner)
}

func (s *workflowService) Submit(ctx context.Context, actor access.Actor, req dto.SubmitRequest) (models.Submission, error) {
	ctx, span := s.tracer.Start(ctx, "workflow.submit", trace.WithAttributes(
		attribute.Int64("coursework.id", int64(req.CourseworkID)),
		attribute.String("allocatable", req.Owner.Allocatable().String()),
	))
	submission, err := s.submit(ctx, actor, req)
	s.finish(span, "submit", err)
	return submission, err
}

func (s *workflowService) submit(ctx context.Context, actor access.Actor, req dto.SubmitRequest) (models.Submission, error) {
	if err := s.validate(req); err != nil {
		return models.Submission{}, err
	}

	owner := req.Owner.Allocatable()
	coursework, err := s.loadCoursework(ctx, req.CourseworkID)
	if err != nil {
		return models.Submission{}, err
	}
	if err := s.checkOwner(coursework, owner); err != nil {
		return models.Submission{}, err
	}

	existing, err := s.repos.Submissions.GetByOwner(ctx, coursework.ID, owner)
	switch {
	case err == nil:
		sctx, err := s.buildContext(ctx, coursework, existing)
		if err != nil {
			return models.Submission{}, err
		}
		return s.editSubmission(ctx, actor, sctx, dto.EditSubmissionRequest{FilesRef: req.FilesRef, Finalise: req.Finalise})
	case !repository.IsNotFound(err):
		return models.Submission{}, fmt.Errorf("load submission: %w", err)
	}

	onBehalf, err := s.authorizeOwner(ctx, actor, access.ActionSubmit, coursework, owner, 0)
	if err != nil {
		return models.Submission{}, err
	}

	now := s.now()
	if !coursework.IsOpen(now) {
		return models.Submission{}, newError(KindPermissionDenied, ErrNotOpen, "coursework opens at %s", formatInstant(coursework.StartDate))
	}

	extension, personal, _, err := s.loadOwnerFacts(ctx, coursework, owner)
	if err != nil {
		return models.Submission{}, err
	}
	deadline := grading.EffectiveDeadline(coursework, extension, personal)
	late := grading.DeadlineHasPassed(deadline, now)

	submission := models.Submission{
		CourseworkID:  coursework.ID,
		AuthorID:      actor.ID,
		CreatedBy:     actor.ID,
		LastUpdatedBy: actor.ID,
		FilesRef:      req.FilesRef,
		Finalised:     models.NotFinalised,
		TimeSubmitted: now,
	}
	submission.SetOwner(owner)
	if req.Finalise {
		submission.Finalised = models.Finalised
	}
	// Work created after the deadline is accepted but locked straight away.
	if late && !coursework.AllowLateSubmissions {
		submission.Finalised = models.AutoFinalised
	}

	if err := s.repos.Submissions.Create(ctx, &submission); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return models.Submission{}, newError(KindConflict, err, "%s already has a submission", owner)
		}
		return models.Submission{}, fmt.Errorf("create submission: %w", err)
	}

	s.committed(ctx, actor, WorkflowEvent{
		Type:         EventSubmissionCreated,
		CourseworkID: coursework.ID,
		SubmissionID: submission.ID,
	}, "submission", submission.ID, map[string]interface{}{
		"allocatable": owner.String(),
		"finalised":   int(submission.Finalised),
		"late":        late,
		"on_behalf":   onBehalf,
	}, submission.ID)

	return submission, nil
}

func (s *workflowService) EditSubmission(ctx context.Context, actor access.Actor, submissionID uint, req dto.EditSubmissionRequest) (models.Submission, error) {
	ctx, span := s.tracer.Start(ctx, "workflow.edit_submission", trace.WithAttributes(attribute.Int64("submission.id", int64(submissionID))))
	submission, err := func() (models.Submission, error) {
		sctx, err := s.loadSubmission(ctx, submissionID)
		if err != nil {
			return models.Submission{}, err
		}
		return s.editSubmission(ctx, actor, sctx, req)
	}()
	s.finish(span, "edit_submission", err)
	return submission, err
}

func (s *workflowService) editSubmission(ctx context.Context, actor access.Actor, sctx submissionContext, req dto.EditSubmissionRequest) (models.Submission, error) {
	if err := s.validate(req); err != nil {
		return models.Submission{}, err
	}

	submission := sctx.submission
	onBehalf, err := s.authorizeOwner(ctx, actor, access.ActionEditSubmission, sctx.coursework, submission.Owner(), submission.ID)
	if err != nil {
		return models.Submission{}, err
	}

	state := sctx.state()
	if state == grading.StatePublished {
		return models.Submission{}, conflictState(ErrAlreadyPublished, "grades for submission %d were published", submission.ID)
	}
	if submission.IsFinalised() && (!onBehalf || state > grading.StateSubmitted) {
		return models.Submission{}, conflictState(ErrSubmissionFinalised, "submission %d is finalised and can no longer change", submission.ID)
	}

	now := s.now()
	deadline := sctx.deadline()
	if grading.DeadlineHasPassed(deadline, now) && !sctx.coursework.AllowLateSubmissions && !onBehalf {
		return models.Submission{}, newError(KindLateSubmission, ErrTooLate, "deadline was %s, you submitted at %s", formatInstant(deadline), formatInstant(now))
	}

	submission.FilesRef = req.FilesRef
	submission.AuthorID = actor.ID
	submission.LastUpdatedBy = actor.ID
	submission.TimeSubmitted = now
	if req.Finalise && !submission.IsFinalised() {
		submission.Finalised = models.Finalised
	}

	if err := s.repos.Submissions.Update(ctx, &submission); err != nil {
		return models.Submission{}, fmt.Errorf("update submission: %w", err)
	}

	s.committed(ctx, actor, WorkflowEvent{
		Type:         EventSubmissionUpdated,
		CourseworkID: submission.CourseworkID,
		SubmissionID: submission.ID,
	}, "submission", submission.ID, map[string]interface{}{
		"finalised": int(submission.Finalised),
		"on_behalf": onBehalf,
	}, submission.ID)

	return submission, nil
}

func (s *workflowService) Finalise(ctx context.Context, actor access.Actor, submissionID uint) (models.Submission, error) {
	ctx, span := s.tracer.Start(ctx, "workflow.finalise", trace.WithAttributes(attribute.Int64("submission.id", int64(submissionID))))
	submission, err := func() (models.Submission, error) {
		sctx, err := s.loadSubmission(ctx, submissionID)
		if err != nil {
			return models.Submission{}, err
		}
		submission := sctx.submission
		if _, err := s.authorizeOwner(ctx, actor, access.ActionFinalise, sctx.coursework, submission.Owner(), submission.ID); err != nil {
			return models.Submission{}, err
		}
		if submission.IsFinalised() {
			return submission, nil
		}
		if sctx.state() == grading.StatePublished {
			return models.Submission{}, conflictState(ErrAlreadyPublished, "grades for submission %d were published", submission.ID)
		}

		submission.Finalised = models.Finalised
		submission.LastUpdatedBy = actor.ID
		if err := s.repos.Submissions.Update(ctx, &submission); err != nil {
			return models.Submission{}, fmt.Errorf("finalise submission: %w", err)
		}

		s.committed(ctx, actor, WorkflowEvent{
			Type:         EventSubmissionFinalised,
			CourseworkID: submission.CourseworkID,
			SubmissionID: submission.ID,
		}, "submission", submission.ID, nil, submission.ID)
		return submission, nil
	}()
	s.finish(span, "finalise", err)
	return submission, err
}

func (s *workflowService) Unfinalise(ctx context.Context, actor access.Actor, submissionID uint) (models.Submission, error) {
	ctx, span := s.tracer.Start(ctx, "workflow.unfinalise", trace.WithAttributes(attribute.Int64("submission.id", int64(submissionID))))
	submission, err := func() (models.Submission, error) {
		sctx, err := s.loadSubmission(ctx, submissionID)
		if err != nil {
			return models.Submission{}, err
		}
		if err := s.authorize(ctx, actor, access.ActionUnfinalise, sctx.entity()); err != nil {
			return models.Submission{}, err
		}
		submission := sctx.submission
		if !submission.IsFinalised() {
			return submission, nil
		}
		if !grading.CanBeUnfinalised(&submission, submission.Feedbacks) {
			if submission.IsPublished() {
				return models.Submission{}, conflictState(ErrAlreadyPublished, "grades for submission %d were published", submission.ID)
			}
			return models.Submission{}, conflictState(ErrSubmissionFinalised, "submission %d already has feedback", submission.ID)
		}

		submission.Finalised = models.NotFinalised
		submission.LastUpdatedBy = actor.ID
		if err := s.repos.Submissions.Update(ctx, &submission); err != nil {
			return models.Submission{}, fmt.Errorf("unfinalise submission: %w", err)
		}

		s.committed(ctx, actor, WorkflowEvent{
			Type:         EventSubmissionUnfinalised,
			CourseworkID: submission.CourseworkID,
			SubmissionID: submission.ID,
		}, "submission", submission.ID, nil, submission.ID)
		return submission, nil
	}()
	s.finish(span, "unfinalise", err)
	return submission, err
}

func (s *workflowService) RevertSubmission(ctx context.Context, actor access.Actor, submissionID uint) error {
	ctx, span := s.tracer.Start(ctx, "workflow.revert_submission", trace.WithAttributes(attribute.Int64("submission.id", int64(submissionID))))
	err := func() error {
		sctx, err := s.loadSubmission(ctx, submissionID)
		if err != nil {
			return err
		}
		if err := s.authorize(ctx, actor, access.ActionRevertSubmission, sctx.entity()); err != nil {
			return err
		}
		submission := sctx.submission
		if submission.IsPublished() {
			return conflictState(ErrAlreadyPublished, "grades for submission %d were published", submission.ID)
		}
		if len(submission.Feedbacks) > 0 {
			return conflictState(ErrSubmissionFinalised, "submission %d already has feedback", submission.ID)
		}

		if err := s.repos.Submissions.Delete(ctx, submission.ID); err != nil {
			if repository.IsNotFound(err) {
				return newError(KindNotFound, ErrSubmissionNotFound, "submission %d does not exist", submission.ID)
			}
			return fmt.Errorf("delete submission: %w", err)
		}

		s.committed(ctx, actor, WorkflowEvent{
			Type:         EventSubmissionReverted,
			CourseworkID: submission.CourseworkID,
			SubmissionID: submission.ID,
		}, "submission", submission.ID, map[string]interface{}{
			"allocatable": submission.Owner().String(),
		}, submission.ID)
		return nil
	}()
	s.finish(span, "revert_submission", err)
	return err
}

func (s *workflowService) SubmissionStatus(ctx context.Context, submissionID uint) (dto.SubmissionStatusResponse, error) {
	log := observability.Logger(ctx, s.logger)
	if s.cache != nil {
		status, ok, err := s.cache.Get(ctx, submissionID)
		if err != nil {
			log.Warn().Err(err).Uint("submission_id", submissionID).Msg("submission status cache read failed")
		}
		if ok {
			return status, nil
		}
	}

	sctx, err := s.loadSubmission(ctx, submissionID)
	if err != nil {
		return dto.SubmissionStatusResponse{}, err
	}

	status := dto.NewSubmissionStatusResponse(sctx.submission, sctx.state(), sctx.deadline(), grading.ExtensionApplies(sctx.coursework, sctx.extension), len(sctx.required))
	if s.cache != nil {
		if err := s.cache.Set(ctx, status); err != nil {
			log.Warn().Err(err).Uint("submission_id", submissionID).Msg("submission status cache write failed")
		}
	}
	return status, nil
}
