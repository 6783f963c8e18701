package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-coursework/internal/access"
	"github.com/noah-isme/gema-coursework/internal/dto"
	"github.com/noah-isme/gema-coursework/internal/grading"
	"github.com/noah-isme/gema-coursework/internal/models"
	"github.com/noah-isme/gema-coursework/internal/observability"
	"github.com/noah-isme/gema-coursework/internal/repository"
)

func (s *workflowService) Publish(ctx context.Context, actor access.Actor, courseworkID uint) (dto.PublishResult, error) {
	ctx, span := s.tracer.Start(ctx, "workflow.publish", trace.WithAttributes(attribute.Int64("coursework.id", int64(courseworkID))))
	result, err := func() (dto.PublishResult, error) {
		coursework, err := s.loadCoursework(ctx, courseworkID)
		if err != nil {
			return dto.PublishResult{}, err
		}
		entity := access.Entity{Type: "coursework", ID: coursework.ID, CourseworkID: coursework.ID}
		if err := s.authorize(ctx, actor, access.ActionPublish, entity); err != nil {
			return dto.PublishResult{}, err
		}
		return s.publishCoursework(ctx, actor, coursework)
	}()
	s.finish(span, "publish", err)
	return result, err
}

// publishCoursework releases every unpublished submission that reached its
// final grade and is not held back by a plagiarism case or a disagreeing
// moderator. Published submissions are never touched again.
func (s *workflowService) publishCoursework(ctx context.Context, actor access.Actor, coursework models.Coursework) (dto.PublishResult, error) {
	result := dto.PublishResult{CourseworkID: coursework.ID}

	submissions, err := s.repos.Submissions.List(ctx, repository.SubmissionFilter{CourseworkID: coursework.ID, Unpublished: true})
	if err != nil {
		return result, fmt.Errorf("list submissions: %w", err)
	}
	if len(submissions) == 0 {
		return result, nil
	}

	ids := make([]uint, 0, len(submissions))
	for _, submission := range submissions {
		ids = append(ids, submission.ID)
	}
	flags, err := s.repos.Plagiarism.ListBySubmissions(ctx, ids)
	if err != nil {
		return result, fmt.Errorf("list plagiarism flags: %w", err)
	}

	now := s.now()
	var errs []error
	published := make([]uint, 0, len(submissions))
	for _, submission := range submissions {
		sctx, err := s.buildContext(ctx, coursework, submission)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if sctx.state() != grading.StateFinalGraded {
			result.Skipped++
			continue
		}
		if flag, ok := flags[submission.ID]; ok && flag.BlocksRelease() {
			result.Skipped++
			continue
		}
		blocked, err := s.moderationBlocks(ctx, sctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if blocked {
			result.Skipped++
			continue
		}

		released, err := s.repos.Submissions.MarkPublished(ctx, submission.ID, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish submission %d: %w", submission.ID, err))
			continue
		}
		if !released {
			continue
		}
		published = append(published, submission.ID)
		observability.PublishedSubmissions().Inc()
	}
	result.Published = len(published)

	if result.Published > 0 {
		s.committed(ctx, actor, WorkflowEvent{
			Type:         EventGradesPublished,
			CourseworkID: coursework.ID,
		}, "coursework", coursework.ID, map[string]interface{}{
			"published":      result.Published,
			"skipped":        result.Skipped,
			"submission_ids": published,
		}, published...)
	}

	return result, errors.Join(errs...)
}

func (s *workflowService) moderationBlocks(ctx context.Context, sctx submissionContext) (bool, error) {
	if !sctx.coursework.ModerationAgreementEnabled {
		return false, nil
	}
	final := grading.FinalFeedback(sctx.required, sctx.submission.Feedbacks)
	if final == nil {
		return true, nil
	}
	moderation, err := s.repos.Moderations.FindByFeedback(ctx, final.ID)
	if err != nil {
		return false, fmt.Errorf("load moderation: %w", err)
	}
	return moderation != nil && moderation.Verdict == models.ModerationDisagreed, nil
}

func (s *workflowService) Sweep(ctx context.Context, courseworkID uint) (dto.SweepResult, error) {
	ctx = observability.ContextWithCorrelation(ctx, observability.CorrelationIDFromContext(ctx))
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, "workflow.sweep", trace.WithAttributes(attribute.Int64("coursework.id", int64(courseworkID))))

	result, err := s.sweep(ctx, courseworkID)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	observability.SweepRuns().WithLabelValues(outcome).Inc()
	observability.SweepDuration().Observe(time.Since(started).Seconds())
	s.finish(span, "sweep", err)

	observability.Logger(ctx, s.logger).Info().
		Uint("coursework_id", courseworkID).
		Int("finalised", result.Finalised).
		Int("agreed", result.Agreed).
		Int("published", result.Published).
		Str("outcome", outcome).
		Msg("coursework sweep finished")

	return result, err
}

// sweep is safe to run repeatedly and alongside interactive requests: it
// re-reads current rows, writes with conditional column updates and relies on
// unique constraints for its inserts.
func (s *workflowService) sweep(ctx context.Context, courseworkID uint) (dto.SweepResult, error) {
	result := dto.SweepResult{CourseworkID: courseworkID}
	coursework, err := s.loadCoursework(ctx, courseworkID)
	if err != nil {
		return result, err
	}

	system := access.System()
	now := s.now()
	var errs []error

	if !coursework.AllowLateSubmissions {
		draft := models.NotFinalised
		drafts, err := s.repos.Submissions.List(ctx, repository.SubmissionFilter{CourseworkID: coursework.ID, Finalised: &draft})
		if err != nil {
			return result, fmt.Errorf("list drafts: %w", err)
		}
		for _, submission := range drafts {
			sctx, err := s.buildContext(ctx, coursework, submission)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if !grading.DeadlineHasPassed(sctx.deadline(), now) {
				continue
			}
			locked, err := s.repos.Submissions.AutoFinalise(ctx, submission.ID, now, coursework.ExtensionsEnabled)
			if err != nil {
				errs = append(errs, fmt.Errorf("auto finalise submission %d: %w", submission.ID, err))
				continue
			}
			if !locked {
				continue
			}
			result.Finalised++
			s.committed(ctx, system, WorkflowEvent{
				Type:         EventSubmissionFinalised,
				CourseworkID: coursework.ID,
				SubmissionID: submission.ID,
			}, "submission", submission.ID, map[string]interface{}{
				"automatic": true,
			}, submission.ID)
		}
	}

	if coursework.AutomaticAgreementEnabled {
		pending, err := s.repos.Submissions.List(ctx, repository.SubmissionFilter{CourseworkID: coursework.ID, Unpublished: true})
		if err != nil {
			return result, fmt.Errorf("list unpublished submissions: %w", err)
		}
		for _, submission := range pending {
			sctx, err := s.buildContext(ctx, coursework, submission)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			feedback, err := s.autoAgree(ctx, sctx)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if feedback != nil {
				result.Agreed++
			}
		}
	}

	if !coursework.AutoReleaseDate.IsZero() && !now.Before(coursework.AutoReleaseDate) {
		published, err := s.publishCoursework(ctx, system, coursework)
		result.Published = published.Published
		if err != nil {
			errs = append(errs, err)
		}
	}

	return result, errors.Join(errs...)
}

func (s *workflowService) SweepAll(ctx context.Context) ([]dto.SweepResult, error) {
	ids, err := s.repos.Courseworks.ListIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list courseworks: %w", err)
	}

	results := make([]dto.SweepResult, 0, len(ids))
	var errs []error
	for _, id := range ids {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		result, err := s.Sweep(ctx, id)
		results = append(results, result)
		if err != nil {
			errs = append(errs, fmt.Errorf("sweep coursework %d: %w", id, err))
		}
	}
	return results, errors.Join(errs...)
}
