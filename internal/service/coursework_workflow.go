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
	"github.com/noah-isme/gema-coursework/internal/repository"
)

func (s *workflowService) FlagPlagiarism(ctx context.Context, actor access.Actor, req dto.PlagiarismFlagRequest) (models.PlagiarismFlag, error) {
	ctx, span := s.tracer.Start(ctx, "workflow.flag_plagiarism", trace.WithAttributes(
		attribute.Int64("submission.id", int64(req.SubmissionID)),
		attribute.String("plagiarism.status", req.Status),
	))
	flag, err := func() (models.PlagiarismFlag, error) {
		if err := s.validate(req); err != nil {
			return models.PlagiarismFlag{}, err
		}
		sctx, err := s.loadSubmission(ctx, req.SubmissionID)
		if err != nil {
			return models.PlagiarismFlag{}, err
		}
		if err := s.authorize(ctx, actor, access.ActionFlagPlagiarism, sctx.entity()); err != nil {
			return models.PlagiarismFlag{}, err
		}

		existing, err := s.repos.Plagiarism.FindBySubmission(ctx, sctx.submission.ID)
		if err != nil {
			return models.PlagiarismFlag{}, fmt.Errorf("load plagiarism flag: %w", err)
		}
		flag := models.PlagiarismFlag{SubmissionID: sctx.submission.ID, CreatedBy: actor.ID}
		previous := models.PlagiarismUnchecked
		if existing != nil {
			flag = *existing
			previous = existing.Status
		}
		flag.Status = req.Status
		flag.Comment = s.sanitize(req.Comment)
		flag.LastModifiedBy = actor.ID

		if err := s.repos.Plagiarism.Save(ctx, &flag); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return models.PlagiarismFlag{}, newError(KindConflict, err, "submission %d is already flagged", sctx.submission.ID)
			}
			return models.PlagiarismFlag{}, fmt.Errorf("save plagiarism flag: %w", err)
		}

		s.committed(ctx, actor, WorkflowEvent{
			Type:         EventPlagiarismFlagged,
			CourseworkID: sctx.coursework.ID,
			SubmissionID: sctx.submission.ID,
		}, "plagiarism_flag", flag.ID, map[string]interface{}{
			"status":          flag.Status,
			"previous_status": previous,
			"published":       sctx.submission.IsPublished(),
		}, sctx.submission.ID)
		return flag, nil
	}()
	s.finish(span, "flag_plagiarism", err)
	return flag, err
}

func (s *workflowService) SaveRubric(ctx context.Context, actor access.Actor, req dto.RubricRequest) (models.Coursework, error) {
	ctx, span := s.tracer.Start(ctx, "workflow.save_rubric", trace.WithAttributes(attribute.Int64("coursework.id", int64(req.CourseworkID))))
	coursework, err := s.saveRubric(ctx, actor, req)
	s.finish(span, "save_rubric", err)
	return coursework, err
}

func (s *workflowService) saveRubric(ctx context.Context, actor access.Actor, req dto.RubricRequest) (models.Coursework, error) {
	if err := s.validate(req); err != nil {
		return models.Coursework{}, err
	}

	coursework, err := s.repos.Courseworks.GetByID(ctx, req.CourseworkID)
	if err != nil {
		if repository.IsNotFound(err) {
			return models.Coursework{}, newError(KindNotFound, ErrCourseworkNotFound, "coursework %d does not exist", req.CourseworkID)
		}
		return models.Coursework{}, fmt.Errorf("load coursework %d: %w", req.CourseworkID, err)
	}
	if err := s.authorize(ctx, actor, access.ActionManageRubric, courseworkEntity(coursework)); err != nil {
		return models.Coursework{}, err
	}

	rubric, err := grading.ParseRubric(req.Definition)
	if err != nil {
		return models.Coursework{}, validationFailure(err)
	}

	submissions, err := s.repos.Submissions.List(ctx, repository.SubmissionFilter{CourseworkID: coursework.ID})
	if err != nil {
		return models.Coursework{}, fmt.Errorf("list submissions: %w", err)
	}
	for _, submission := range submissions {
		if len(submission.Feedbacks) > 0 {
			return models.Coursework{}, conflictState(ErrNotReady, "rubric of coursework %d cannot change once marking has started", coursework.ID)
		}
	}

	coursework.Rubric = datatypes.JSON(req.Definition)
	coursework.GradingMethod = models.GradingMethodRubric
	if err := s.repos.Courseworks.Update(ctx, &coursework); err != nil {
		return models.Coursework{}, fmt.Errorf("save rubric: %w", err)
	}

	s.committed(ctx, actor, WorkflowEvent{
		Type:         EventRubricSaved,
		CourseworkID: coursework.ID,
	}, "coursework", coursework.ID, map[string]interface{}{
		"criteria":  len(rubric.Criteria),
		"max_score": rubric.MaxScore(),
	})

	return coursework, nil
}
